package bandwidthlimit

import (
	"errors"
	"io"

	"github.com/juju/ratelimit"
)

type Wrapper interface {
	WrapReader(io.Reader) io.Reader
}

type Config struct {
	// Units in this struct are in _bytes_.

	Max            int64 // <= 0 means no limit, BucketCapacity is irrelevant then
	BucketCapacity int64
}

func NoLimitConfig() Config {
	return Config{
		Max:            -1,
		BucketCapacity: -1,
	}
}

// ConfigForRate derives a token bucket that holds a quarter second of traffic,
// but never less than one buffer's worth.
func ConfigForRate(bytesPerSecond int64, bufSize int) Config {
	if bytesPerSecond <= 0 {
		return NoLimitConfig()
	}
	capacity := bytesPerSecond / 4
	if capacity < int64(bufSize) {
		capacity = int64(bufSize)
	}
	if capacity < 1 {
		capacity = 1
	}
	return Config{Max: bytesPerSecond, BucketCapacity: capacity}
}

func ValidateConfig(conf Config) error {
	if conf.BucketCapacity == 0 {
		return errors.New("BucketCapacity must not be zero")
	}
	return nil
}

func WrapperFromConfig(conf Config) Wrapper {
	if err := ValidateConfig(conf); err != nil {
		panic(err)
	}

	if conf.Max <= 0 {
		return noLimit{}
	}

	return &withLimit{
		bucket: ratelimit.NewBucketWithRate(float64(conf.Max), conf.BucketCapacity),
	}
}

type noLimit struct{}

func (noLimit) WrapReader(r io.Reader) io.Reader { return r }

type withLimit struct {
	bucket *ratelimit.Bucket
}

func (l *withLimit) WrapReader(r io.Reader) io.Reader {
	return ratelimit.Reader(r, l.bucket)
}
