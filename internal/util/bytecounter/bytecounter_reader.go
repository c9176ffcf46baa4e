package bytecounter

import (
	"io"
	"sync/atomic"
)

// Reader wraps an io.Reader, counting the bytes read through it.
// Count may be called concurrently with Read.
type Reader interface {
	io.Reader
	Count() int64
}

func NewReader(r io.Reader) Reader {
	return &reader{r: r}
}

type reader struct {
	r     io.Reader
	count int64
}

func (r *reader) Count() int64 {
	return atomic.LoadInt64(&r.count)
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	atomic.AddInt64(&r.count, int64(n))
	return n, err
}
