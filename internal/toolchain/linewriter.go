package toolchain

import (
	"bytes"
	"strings"
	"sync"
)

// maxLineBytes bounds a single emitted line; longer output is split.
const maxLineBytes = 64 * 1024

// lineWriter splits a byte stream into lines. Writers sharing mu emit in a
// single order across stdout and stderr.
type lineWriter struct {
	mu   *sync.Mutex
	buf  []byte
	emit func(string)
}

func newLineWriter(mu *sync.Mutex, emit func(string)) *lineWriter {
	return &lineWriter{mu: mu, emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emitLine(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	for len(w.buf) >= maxLineBytes {
		w.emitLine(w.buf[:maxLineBytes])
		w.buf = w.buf[maxLineBytes:]
	}
	return len(p), nil
}

// Flush emits a trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emitLine(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emitLine(b []byte) {
	w.emit(strings.TrimSuffix(string(b), "\r"))
}
