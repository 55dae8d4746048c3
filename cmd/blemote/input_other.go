//go:build !linux && !darwin

package main

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"
)

func openPTYInput(*logrus.Logger, io.Writer) (io.Reader, func(), error) {
	return nil, nil, errors.New("PTY input is not supported on this platform")
}
