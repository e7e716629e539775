package config

import (
	"fmt"
	"sort"
	"strings"
)

// RetryBackoffMode enumerates supported backoff strategies for retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// LogLevel enumerates supported logging levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat enumerates supported log output formats.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// enum maps case-insensitive spellings onto a typed value.
type enum[T ~string] struct {
	values map[string]T
}

func newEnum[T ~string](values ...T) enum[T] {
	m := make(map[string]T, len(values))
	for _, v := range values {
		m[string(v)] = v
	}
	return enum[T]{values: m}
}

// lookup returns the canonical value for raw, or "" when unknown.
func (e enum[T]) lookup(raw string) T {
	return e.values[strings.ToLower(strings.TrimSpace(raw))]
}

func (e enum[T]) check(field string, v T) error {
	if _, ok := e.values[string(v)]; ok {
		return nil
	}
	keys := make([]string, 0, len(e.values))
	for k := range e.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Errorf("invalid %s %q, valid options: %v", field, v, keys)
}

var (
	retryBackoffs = newEnum(RetryBackoffFixed, RetryBackoffLinear, RetryBackoffExponential)
	logLevels     = newEnum(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError)
	logFormats    = newEnum(LogFormatJSON, LogFormatText)
)

// NormalizeRetryBackoff converts user input (case-insensitive) into a typed mode, returning "" for unknown.
func NormalizeRetryBackoff(raw string) RetryBackoffMode { return retryBackoffs.lookup(raw) }

func NormalizeLogLevel(raw string) LogLevel { return logLevels.lookup(raw) }

func NormalizeLogFormat(raw string) LogFormat { return logFormats.lookup(raw) }
