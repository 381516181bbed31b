// Package termio serialises terminal output through one goroutine per stream
// so progress redraws, log lines and prompts never interleave mid-write.
package termio

import (
	"io"
	"os"
	"sync"
	"time"
)

// flushTimeout bounds how long Exit waits for queued output.
const flushTimeout = 2 * time.Second

type writer struct {
	file    *os.File
	ch      chan []byte
	pending sync.WaitGroup
}

func (w *writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	w.pending.Add(1)
	w.ch <- buf
	return len(p), nil
}

// File exposes the underlying descriptor for TTY detection.
func (w *writer) File() *os.File {
	return w.file
}

func (w *writer) flush(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

type streams struct {
	once   sync.Once
	stdout *writer
	stderr *writer
}

var global streams

// Init starts the stdout and stderr writers. It is safe to call repeatedly.
func Init() {
	global.once.Do(func() {
		global.stdout = newWriter(os.Stdout)
		global.stderr = newWriter(os.Stderr)
	})
}

func newWriter(f *os.File) *writer {
	w := &writer{
		file: f,
		ch:   make(chan []byte, 1024),
	}
	go func() {
		for buf := range w.ch {
			_, _ = w.file.Write(buf)
			w.pending.Done()
		}
	}()
	return w
}

func Stdout() io.Writer {
	Init()
	return global.stdout
}

func Stderr() io.Writer {
	Init()
	return global.stderr
}

func StdoutFile() *os.File {
	Init()
	return global.stdout.file
}

func StderrFile() *os.File {
	Init()
	return global.stderr.file
}

// Flush waits until queued output has reached both streams or timeout passes.
// It reports whether everything was written.
func Flush(timeout time.Duration) bool {
	Init()
	okOut := global.stdout.flush(timeout)
	okErr := global.stderr.flush(timeout)
	return okOut && okErr
}

// Exit flushes pending output and terminates the process with code.
func Exit(code int) {
	Flush(flushTimeout)
	os.Exit(code)
}
