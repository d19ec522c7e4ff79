package logging

import (
	"io"
	"log"
	"os"
	"sync"
)

const defaultMaxSize = 2 * 1024 * 1024 // 2MB

// RotatingWriter appends to a log file and swaps it out for a fresh one when
// it grows past maxSize, keeping a single .1 backup. The daemon can run for
// months; without rotation the sync log eats the disk.
type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	written int64
	maxSize int64
}

// Setup opens (or creates) the log file and points the stdlib logger at both
// it and stdout. The returned writer should be closed on shutdown.
func Setup(path string) (*RotatingWriter, error) {
	w, err := NewRotatingWriter(path, defaultMaxSize)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, w))
	return w, nil
}

func NewRotatingWriter(path string, maxSize int64) (*RotatingWriter, error) {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	var written int64
	if info, err := f.Stat(); err == nil {
		written = info.Size()
	}

	w := &RotatingWriter{file: f, path: path, written: written, maxSize: maxSize}
	if written > maxSize {
		w.rotate()
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	w.written += int64(n)
	if w.written > w.maxSize {
		w.rotate()
	}
	return n, err
}

// rotate must be called with the mutex held.
func (w *RotatingWriter) rotate() {
	w.file.Close()
	os.Rename(w.path, w.path+".1")

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		// Leave the writer pointing at the closed file; subsequent writes
		// fail loudly instead of silently dropping log lines.
		return
	}
	w.file = f
	w.written = 0
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
