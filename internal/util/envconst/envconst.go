// Package envconst reads tunables from the environment, falling back to a default.
// Values are parsed once and cached for the lifetime of the process.
package envconst

import (
	"os"
	"strconv"
	"sync"
	"time"
)

var cache sync.Map

func Duration(varname string, def time.Duration) time.Duration {
	if v, ok := cache.Load(varname); ok {
		return v.(time.Duration)
	}
	e := os.Getenv(varname)
	if e == "" {
		return def
	}
	d, err := time.ParseDuration(e)
	if err != nil {
		panic(err)
	}
	cache.Store(varname, d)
	return d
}

func Int(varname string, def int) int {
	if v, ok := cache.Load(varname); ok {
		return v.(int)
	}
	e := os.Getenv(varname)
	if e == "" {
		return def
	}
	d64, err := strconv.ParseInt(e, 10, strconv.IntSize)
	if err != nil {
		panic(err)
	}
	d := int(d64)
	cache.Store(varname, d)
	return d
}

func Bool(varname string, def bool) bool {
	if v, ok := cache.Load(varname); ok {
		return v.(bool)
	}
	e := os.Getenv(varname)
	if e == "" {
		return def
	}
	d, err := strconv.ParseBool(e)
	if err != nil {
		panic(err)
	}
	cache.Store(varname, d)
	return d
}
