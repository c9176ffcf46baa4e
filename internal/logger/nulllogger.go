package logger

// NewNullLogger returns a Logger that drops everything. It is what subsystems get when
// no loggers were installed in their context.
func NewNullLogger() Logger {
	return nullLogger{}
}

type nullLogger struct{}

func (n nullLogger) WithField(string, interface{}) Logger { return n }
func (n nullLogger) WithFields(Fields) Logger             { return n }
func (n nullLogger) WithError(error) Logger               { return n }
func (nullLogger) Debug(string)                           {}
func (nullLogger) Info(string)                            {}
func (nullLogger) Warn(string)                            {}
func (nullLogger) Error(string)                           {}
