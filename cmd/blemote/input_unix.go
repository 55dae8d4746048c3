//go:build linux || darwin

package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/blemote/internal/ptyio"
)

func openPTYInput(logger *logrus.Logger, out io.Writer) (io.Reader, func(), error) {
	p, err := ptyio.Open(ptyio.Options{Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	fmt.Fprintf(out, "Write JSON-lines input to %s\n", p.Name())
	return p, func() {
		stats := p.Stats()
		if stats.Dropped > 0 {
			logger.WithField("dropped_bytes", stats.Dropped).Warn("PTY input overflowed")
		}
		_ = p.Close()
	}, nil
}
