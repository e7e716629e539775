// Package errors provides the classified error primitives used across webship.
//
// Key features:
//   - ErrorCategory: broad error classification (source, toolchain, publish, store, ...)
//   - Kind: the pipeline error code recorded on failed builds (SourceTimeout, StepFailed, ...)
//   - ErrorSeverity and RetryStrategy
//   - ClassifiedError and the fluent ErrorBuilder
//   - HTTP and CLI adapters for error presentation
//
// Example usage:
//
//	err := errors.SourceTimeout("clone stalled").
//		WithCause(originalErr).
//		WithContext("repo", repoURL).
//		Build()
package errors
