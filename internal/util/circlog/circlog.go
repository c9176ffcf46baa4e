// Package circlog provides a bounded io.Writer that keeps only the most recent bytes.
// It is used to retain the tail of a child process's stderr for error reports.
package circlog

import (
	"fmt"
	"sync"
)

const truncatedMarker = "(...)"

type CircularLog struct {
	mtx     sync.Mutex
	buf     []byte
	max     int
	start   int // index of the oldest byte once the buffer is full
	written int
}

func MustNewCircularLog(max int) *CircularLog {
	log, err := NewCircularLog(max)
	if err != nil {
		panic(err)
	}
	return log
}

func NewCircularLog(max int) (*CircularLog, error) {
	if max <= 0 {
		return nil, fmt.Errorf("max must be positive")
	}
	return &CircularLog{max: max}, nil
}

func (cl *CircularLog) Write(data []byte) (int, error) {
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	n := len(data)
	cl.written += n

	if n >= cl.max {
		cl.buf = append(cl.buf[:0], data[n-cl.max:]...)
		cl.start = 0
		return n, nil
	}

	if len(cl.buf) < cl.max {
		room := cl.max - len(cl.buf)
		if n <= room {
			cl.buf = append(cl.buf, data...)
			return n, nil
		}
		cl.buf = append(cl.buf, data[:room]...)
		data = data[room:]
	}

	for len(data) > 0 {
		c := copy(cl.buf[cl.start:], data)
		data = data[c:]
		cl.start = (cl.start + c) % cl.max
	}
	return n, nil
}

// Len returns the number of bytes currently retained.
func (cl *CircularLog) Len() int {
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	return len(cl.buf)
}

func (cl *CircularLog) TotalWritten() int {
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	return cl.written
}

func (cl *CircularLog) Reset() {
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	cl.buf = cl.buf[:0]
	cl.start = 0
	cl.written = 0
}

// Bytes returns a copy of the retained bytes, oldest first.
// If data was discarded, the result starts with "(...)".
func (cl *CircularLog) Bytes() []byte {
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	ret := make([]byte, 0, len(cl.buf))
	ret = append(ret, cl.buf[cl.start:]...)
	ret = append(ret, cl.buf[:cl.start]...)
	if cl.written > len(cl.buf) && len(ret) >= len(truncatedMarker) {
		copy(ret, truncatedMarker)
	}
	return ret
}

func (cl *CircularLog) String() string {
	return string(cl.Bytes())
}
