package logger

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// FieldError is the field set by WithError.
const FieldError = "err"

const internalErrorPrefix = "zfstools/logger: "

type Logger interface {
	WithField(field string, val interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

type loggerImpl struct {
	fields        Fields
	outlets       *Outlets
	outletTimeout time.Duration

	// shared by all loggers derived from the same root, so entries are written one at a time
	mtx *sync.Mutex
}

var _ Logger = &loggerImpl{}

// NewLogger returns a root logger. A log call waits for all outlets and reports
// outlets that take longer than outletTimeout (zero disables the report).
func NewLogger(outlets *Outlets, outletTimeout time.Duration) Logger {
	return &loggerImpl{
		fields:        Fields{},
		outlets:       outlets,
		outletTimeout: outletTimeout,
		mtx:           &sync.Mutex{},
	}
}

type outletResult struct {
	outlet Outlet
	err    error
}

func (l *loggerImpl) outletFailed(outlet Outlet, msg string) {
	fields := Fields{FieldError: msg}
	if outlet != nil {
		if s, ok := outlet.(fmt.Stringer); ok {
			fields["outlet"] = s.String()
		}
		fields["outlet_type"] = fmt.Sprintf("%T", outlet)
	}
	entry := Entry{Level: Error, Message: "outlet error", Time: time.Now(), Fields: fields}
	if err := l.outlets.errorOutlet().WriteEntry(entry); err != nil {
		fmt.Fprintf(os.Stderr, "%s%s\n", internalErrorPrefix, err)
	}
}

func (l *loggerImpl) log(level Level, msg string) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	entry := Entry{Level: level, Message: msg, Time: time.Now(), Fields: l.fields}
	outs := l.outlets.Get(level)
	results := make(chan outletResult, len(outs))
	for _, o := range outs {
		go func(o Outlet) {
			results <- outletResult{o, o.WriteEntry(entry)}
		}(o)
	}

	var timeout <-chan time.Time
	if l.outletTimeout > 0 {
		t := time.NewTimer(l.outletTimeout)
		defer t.Stop()
		timeout = t.C
	}
	for pending := len(outs); pending > 0; {
		select {
		case res := <-results:
			pending--
			if res.err != nil {
				l.outletFailed(res.outlet, res.err.Error())
			}
		case <-timeout:
			l.outletFailed(nil, "one or more outlets exceeded timeout but will keep waiting anyways")
			timeout = nil
		}
	}
}

func (l *loggerImpl) WithField(field string, val interface{}) Logger {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if old, ok := l.fields[field]; ok && old != nil {
		fmt.Fprintf(os.Stderr, "%scaller overwrites field '%s'\n", internalErrorPrefix, field)
	}
	child := &loggerImpl{
		fields:        make(Fields, len(l.fields)+1),
		outlets:       l.outlets,
		outletTimeout: l.outletTimeout,
		mtx:           l.mtx,
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	child.fields[field] = val
	return child
}

func (l *loggerImpl) WithFields(fields Fields) Logger {
	var ret Logger = l
	for field, value := range fields {
		ret = ret.WithField(field, value)
	}
	return ret
}

func (l *loggerImpl) WithError(err error) Logger {
	var val interface{}
	if err != nil {
		val = err.Error()
	}
	return l.WithField(FieldError, val)
}

func (l *loggerImpl) Debug(msg string) { l.log(Debug, msg) }
func (l *loggerImpl) Info(msg string)  { l.log(Info, msg) }
func (l *loggerImpl) Warn(msg string)  { l.log(Warn, msg) }
func (l *loggerImpl) Error(msg string) { l.log(Error, msg) }
