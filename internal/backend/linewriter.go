package backend

import (
	"bytes"
	"strings"
	"sync"
)

// lineWriter forwards complete lines to a log callback in real time and keeps the last few
type lineWriter struct {
	emit   func(line string)
	keep   int
	mu     sync.Mutex
	buffer []byte
	lines  []string
}

func (w *lineWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buffer = append(w.buffer, p...)

	for {
		idx := bytes.IndexByte(w.buffer, '\n')
		if idx == -1 {
			break
		}
		w.add(strings.TrimRight(string(w.buffer[:idx]), "\r"))
		w.buffer = w.buffer[idx+1:]
	}

	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buffer) > 0 {
		w.add(strings.TrimRight(string(w.buffer), "\r\n"))
		w.buffer = nil
	}
}

func (w *lineWriter) add(line string) {
	if line == "" {
		return
	}
	if w.emit != nil {
		w.emit(line)
	}
	if w.keep <= 0 {
		return
	}
	if len(w.lines) == w.keep {
		w.lines = append(w.lines[:0], w.lines[1:]...)
	}
	w.lines = append(w.lines, line)
}

// tail returns the retained lines joined by newlines
func (w *lineWriter) tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.lines, "\n")
}

// chunkCapture keeps the first max writes and discards the rest
type chunkCapture struct {
	max    int
	chunks int
	buf    bytes.Buffer
}

func (c *chunkCapture) Write(p []byte) (int, error) {
	if c.chunks < c.max {
		c.buf.Write(p)
		c.chunks++
	}
	return len(p), nil
}

func (c *chunkCapture) String() string { return c.buf.String() }
