package sensor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ericogr/serial-env-uploader/pkg/config"
	"go.bug.st/serial"
)

// ErrDecode is returned when a line from the port is not valid UTF-8.
var ErrDecode = errors.New("invalid utf-8 on serial line")

// Port is the part of a serial port the reader needs. Read must return
// (0, nil) when nothing arrived within the poll timeout.
type Port interface {
	io.Reader
	Close() error
}

// OpenFunc opens a port; poll bounds each individual Read call.
type OpenFunc func(name string, baudRate int, poll time.Duration) (Port, error)

// OpenSerialPort opens a real serial device with go.bug.st/serial.
func OpenSerialPort(name string, baudRate int, poll time.Duration) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	if err := p.SetReadTimeout(poll); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return p, nil
}

type SerialOption func(*SerialSensor)

// WithPortOpener replaces the function used to open the port.
func WithPortOpener(open OpenFunc) SerialOption {
	return func(s *SerialSensor) { s.open = open }
}

// Reasons passed to a skip hook.
const (
	SkipUnrecognized = "unrecognized"
	SkipInvalid      = "invalid"
)

// WithSkipHook registers fn to be called for every line Read discards.
func WithSkipHook(fn func(reason string)) SerialOption {
	return func(s *SerialSensor) { s.onSkip = fn }
}

// WithClock replaces time.Now as the source of reading timestamps.
func WithClock(now func() time.Time) SerialOption {
	return func(s *SerialSensor) { s.now = now }
}

// SerialSensor reads "T = <t> ..., H = <h>%" lines from a serial port. The
// port is opened at the start of every Read and closed before it returns.
type SerialSensor struct {
	port     string
	baudRate int
	settle   time.Duration
	poll     time.Duration
	deadline time.Duration
	open     OpenFunc
	now      func() time.Time
	onSkip   func(reason string)
	log      *slog.Logger
}

func NewSerialSensor(cfg config.SerialConfig, log *slog.Logger, opts ...SerialOption) *SerialSensor {
	s := &SerialSensor{
		port:     cfg.Port,
		baudRate: cfg.BaudRate,
		settle:   cfg.Settle(),
		poll:     cfg.Poll(),
		deadline: cfg.ReadDeadline(),
		open:     OpenSerialPort,
		now:      time.Now,
		log:      log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Read blocks until one line parses into a Reading. Unrecognized and
// malformed lines are logged and skipped. It fails on port errors, on context
// cancellation, or when the configured read deadline elapses.
func (s *SerialSensor) Read(ctx context.Context) (Reading, error) {
	if s.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deadline)
		defer cancel()
	}

	port, err := s.open(s.port, s.baudRate, s.poll)
	if err != nil {
		return Reading{}, err
	}
	defer func() {
		if err := port.Close(); err != nil {
			s.log.Warn("serial close failed", "port", s.port, "error", err)
			return
		}
		s.log.Debug("serial port closed", "port", s.port)
	}()

	if err := sleepContext(ctx, s.settle); err != nil {
		return Reading{}, err
	}
	s.log.Info("serial connection established", "port", s.port, "baud", s.baudRate)

	lines := newLineReader(port)
	for {
		if err := ctx.Err(); err != nil {
			return Reading{}, err
		}
		line, ok, err := lines.next()
		if err != nil {
			return Reading{}, fmt.Errorf("read serial %s: %w", s.port, err)
		}
		if !ok {
			s.log.Debug("waiting for data", "port", s.port)
			continue
		}
		s.log.Debug("line received", "line", line)

		r, err := ParseLine(line, s.now())
		switch {
		case err == nil:
			s.log.Info("reading parsed", "temperature", r.Temperature, "humidity", r.Humidity)
			return r, nil
		case errors.Is(err, ErrInvalidValue):
			s.log.Warn("invalid reading discarded", "line", line, "error", err)
			s.skipped(SkipInvalid)
		default:
			s.log.Debug("line ignored", "line", line)
			s.skipped(SkipUnrecognized)
		}
	}
}

func (s *SerialSensor) skipped(reason string) {
	if s.onSkip != nil {
		s.onSkip(reason)
	}
}

// Close is a no-op: the port never outlives a Read call.
func (s *SerialSensor) Close() error { return nil }

const maxLineLength = 1024

// lineReader splits the byte stream of a port into trimmed text lines. It
// tolerates reads that return no data, unlike bufio which gives up after a
// few empty reads.
type lineReader struct {
	r       io.Reader
	buf     []byte
	pending []byte
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: r, buf: make([]byte, 256)}
}

// next returns the next complete line. ok is false when the underlying read
// produced no full line yet.
func (l *lineReader) next() (line string, ok bool, err error) {
	if line, ok, err = l.take(); ok || err != nil {
		return line, ok, err
	}
	n, rerr := l.r.Read(l.buf)
	if n > 0 {
		l.pending = append(l.pending, l.buf[:n]...)
	}
	if line, ok, err = l.take(); ok || err != nil {
		return line, ok, err
	}
	if rerr != nil {
		return "", false, rerr
	}
	if len(l.pending) > maxLineLength {
		// no terminator in sight, drop the noise
		l.pending = l.pending[:0]
	}
	return "", false, nil
}

func (l *lineReader) take() (string, bool, error) {
	idx := bytes.IndexByte(l.pending, '\n')
	if idx < 0 {
		return "", false, nil
	}
	raw := l.pending[:idx]
	l.pending = l.pending[idx+1:]
	if !utf8.Valid(raw) {
		return "", false, ErrDecode
	}
	return strings.TrimSpace(string(raw)), true, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
