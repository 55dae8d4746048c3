package input

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/blemote/pkg/payload"
	"github.com/srg/blemote/pkg/peripheral"
)

const maxLineSize = 64 * 1024

// LineError reports a malformed line and its 1-based position.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Decoder reads events from a stream of JSON lines. Blank lines and lines
// starting with '#' are skipped.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next event, io.EOF at end of input, or a *LineError for a
// line that could not be decoded. Decoding may continue after a *LineError.
func (d *Decoder) Next() (Event, error) {
	for d.scanner.Scan() {
		d.line++
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		ev, err := Parse(line)
		if err != nil {
			return Event{}, &LineError{Line: d.line, Err: err}
		}
		return ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Publisher is the sink for samples.
type Publisher interface {
	Publish(samples ...payload.Sample) (int, error)
}

// Pump feeds decoded samples to pub and adapter events to adapter until r is
// exhausted or ctx is done. Malformed lines are logged and skipped. A nil
// adapter channel drops adapter events.
func Pump(ctx context.Context, r io.Reader, pub Publisher, adapter chan<- peripheral.AdapterState, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
	}

	dec := NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := dec.Next()
		var lineErr *LineError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &lineErr):
			logger.WithError(lineErr.Err).WithField("line", lineErr.Line).Warn("Skipping input line")
			continue
		case err != nil:
			return fmt.Errorf("read input: %w", err)
		}

		if ev.Adapter != nil {
			if adapter == nil {
				logger.WithField("state", ev.Adapter.String()).Debug("Ignoring adapter event")
				continue
			}
			select {
			case adapter <- *ev.Adapter:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		n, err := pub.Publish(ev.Sample)
		if err != nil {
			logger.WithError(err).WithField("sample", ev.String()).Warn("Sample rejected")
			continue
		}
		logger.WithFields(logrus.Fields{
			"sample":   ev.String(),
			"notified": n,
		}).Debug("Sample published")
	}
}
