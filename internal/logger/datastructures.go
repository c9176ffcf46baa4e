package logger

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

type Level int

// Levels ordered least severe to most severe.
const (
	Debug Level = iota
	Info
	Warn
	Error
)

var AllLevels = []Level{Debug, Info, Warn, Error}

var levelNames = [...]struct{ name, short string }{
	Debug: {"debug", "DEBG"},
	Info:  {"info", "INFO"},
	Warn:  {"warn", "WARN"},
	Error: {"error", "ERRO"},
}

func (l Level) valid() bool { return l >= Debug && l <= Error }

// Short is the fixed-width form used by the human formatter.
func (l Level) Short() string {
	if !l.valid() {
		return "????"
	}
	return levelNames[l].short
}

func (l Level) String() string {
	if !l.valid() {
		return "invalid"
	}
	return levelNames[l].name
}

func ParseLevel(s string) (Level, error) {
	for _, l := range AllLevels {
		if s == l.String() {
			return l, nil
		}
	}
	return -1, errors.Errorf("unknown level %q", s)
}

type Fields map[string]interface{}

type Entry struct {
	Level   Level
	Message string
	Time    time.Time
	Fields  Fields
}

// Outlet writes entries to a destination. WriteEntry must not block for long: the
// logging call (and with it the pipeline stage that logs) waits for every outlet.
type Outlet interface {
	WriteEntry(entry Entry) error
}

// Outlets maps each level to the outlets whose minimum level admits it.
type Outlets struct {
	mtx  sync.RWMutex
	outs [len(levelNames)][]Outlet
}

func NewOutlets() *Outlets {
	return &Outlets{}
}

func (o *Outlets) Add(outlet Outlet, minLevel Level) {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	if minLevel < Debug {
		minLevel = Debug
	}
	for l := minLevel; l <= Error; l++ {
		o.outs[l] = append(o.outs[l], outlet)
	}
}

func (o *Outlets) Get(level Level) []Outlet {
	if !level.valid() {
		return nil
	}
	o.mtx.RLock()
	defer o.mtx.RUnlock()
	return o.outs[level]
}

// errorOutlet is where failures of other outlets are reported: the first outlet that
// accepts errors, or nowhere.
func (o *Outlets) errorOutlet() Outlet {
	if outs := o.Get(Error); len(outs) > 0 {
		return outs[0]
	}
	return discardOutlet{}
}

type discardOutlet struct{}

func (discardOutlet) WriteEntry(Entry) error { return nil }
