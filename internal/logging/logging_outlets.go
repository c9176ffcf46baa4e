package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/syslog"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/zfstools/zfstools/internal/logger"
)

type EntryFormatter interface {
	SetMetadataFlags(flags MetadataFlags)
	Format(e *logger.Entry) ([]byte, error)
}

// formatLine renders e as one newline-terminated line.
func formatLine(f EntryFormatter, e logger.Entry) (*bytes.Buffer, error) {
	b, err := f.Format(&e)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(make([]byte, 0, len(b)+1))
	buf.Write(b)
	buf.WriteByte('\n')
	return buf, nil
}

type WriterOutlet struct {
	formatter EntryFormatter
	writer    io.Writer
}

func NewWriterOutlet(formatter EntryFormatter, w io.Writer) WriterOutlet {
	return WriterOutlet{formatter, w}
}

func (o WriterOutlet) WriteEntry(e logger.Entry) error {
	line, err := formatLine(o.formatter, e)
	if err != nil {
		return err
	}
	// a single write keeps lines from concurrent pipeline stages on stderr intact
	_, err = line.WriteTo(o.writer)
	return err
}

// TCPOutlet ships lines to a log collector from a background goroutine. While the
// connection is down, entries are dropped and reconnection is attempted at most once per
// retryInterval.
type TCPOutlet struct {
	formatter     EntryFormatter
	network, addr string
	retryInterval time.Duration
	lines         chan *bytes.Buffer
}

func NewTCPOutlet(formatter EntryFormatter, network, address string, retryInterval time.Duration) *TCPOutlet {
	o := &TCPOutlet{
		formatter:     formatter,
		network:       network,
		addr:          address,
		retryInterval: retryInterval,
		// one line may queue while the previous one is being written
		lines: make(chan *bytes.Buffer, 1),
	}
	go o.sendLoop()
	return o
}

func (o *TCPOutlet) Close() {
	close(o.lines)
}

func (o *TCPOutlet) String() string {
	return fmt.Sprintf("tcp outlet %s://%s", o.network, o.addr)
}

func (o *TCPOutlet) dial() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.retryInterval)
	defer cancel()
	var d net.Dialer
	return d.DialContext(ctx, o.network, o.addr)
}

func (o *TCPOutlet) sendLoop() {
	var (
		conn      net.Conn
		nextRetry time.Time
	)
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()
	for line := range o.lines {
		for conn == nil {
			time.Sleep(time.Until(nextRetry))
			c, err := o.dial()
			if err != nil {
				nextRetry = time.Now().Add(o.retryInterval)
				continue
			}
			conn = c
		}
		err := conn.SetWriteDeadline(time.Now().Add(o.retryInterval))
		if err == nil {
			_, err = line.WriteTo(conn)
		}
		if err != nil {
			conn.Close()
			conn = nil
			nextRetry = time.Now().Add(o.retryInterval)
		}
	}
}

func (o *TCPOutlet) WriteEntry(e logger.Entry) error {
	line, err := formatLine(o.formatter, e)
	if err != nil {
		return err
	}
	select {
	case o.lines <- line:
		return nil
	default:
		return errors.New("connection broken or not fast enough")
	}
}

// SyslogOutlet writes to the local syslog daemon, connecting lazily.
type SyslogOutlet struct {
	Formatter     EntryFormatter
	RetryInterval time.Duration
	Facility      syslog.Priority

	writer      *syslog.Writer
	lastAttempt time.Time
}

func (o *SyslogOutlet) WriteEntry(e logger.Entry) error {
	msg, err := o.Formatter.Format(&e)
	if err != nil {
		return err
	}
	if o.writer == nil {
		if time.Since(o.lastAttempt) < o.RetryInterval {
			return nil
		}
		o.lastAttempt = time.Now()
		if o.writer, err = syslog.New(o.Facility, "zfstools"); err != nil {
			o.writer = nil
			return err
		}
	}
	return syslogWriteFunc(o.writer, e.Level)(string(msg))
}

func syslogWriteFunc(w *syslog.Writer, l logger.Level) func(string) error {
	switch l {
	case logger.Debug:
		return w.Debug
	case logger.Info:
		return w.Info
	case logger.Warn:
		return w.Warning
	default:
		return w.Err
	}
}
