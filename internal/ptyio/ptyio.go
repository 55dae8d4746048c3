//go:build linux || darwin

// Package ptyio exposes a pseudo-terminal that external programs can write
// input events to. Bytes written to the slave device (e.g. "/dev/pts/5") are
// buffered in a ring and handed out through a blocking io.Reader.
//
//	p, err := ptyio.Open(ptyio.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	fmt.Println("write JSON lines to", p.Name())
//	input.Pump(ctx, p, controller, adapterEvents, logger)
//
// When the ring is full the newest bytes are dropped and counted in Stats.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/blemote/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	DefaultReadCap     = 16 * 1024
	DefaultPollTimeout = 50 * time.Millisecond
)

type Options struct {
	ReadCap     int
	PollTimeout time.Duration
	Logger      *logrus.Logger
}

// Stats are instantaneous counters.
type Stats struct {
	Buffered  int
	ReadBytes uint64
	Dropped   uint64
}

// PTY is the master side of an input pseudo-terminal.
type PTY struct {
	logger      *logrus.Logger
	master      *os.File
	slave       *os.File
	name        string
	pollTimeout time.Duration

	ring   *ringbuffer.RingBuffer
	notify chan struct{}

	cancel context.CancelFunc
	done   <-chan struct{}

	closeOnce sync.Once
	// written by the read loop before done closes
	readErr error

	readBytes atomic.Uint64
	dropped   atomic.Uint64
}

// Open creates the master/slave pair and starts the read loop. The slave
// descriptor stays open for the PTY lifetime so the master never sees EIO
// while no external writer is attached.
func Open(opts Options) (*PTY, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	readCap := opts.ReadCap
	if readCap <= 0 {
		readCap = DefaultReadCap
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}

	master, slave, err := createPTY()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PTY{
		logger:      logger,
		master:      master,
		slave:       slave,
		name:        slave.Name(),
		pollTimeout: pollTimeout,
		ring:        ringbuffer.New(readCap),
		notify:      make(chan struct{}, 1),
		cancel:      cancel,
	}
	p.done = groutine.Spawn(ctx, "pty-read-loop", func(ctx context.Context) {
		p.readLoop(ctx)
	})

	logger.WithField("tty", p.name).Info("Input PTY ready")
	return p, nil
}

// Name returns the slave device path.
func (p *PTY) Name() string {
	return p.name
}

func (p *PTY) readLoop(ctx context.Context) {
	defer p.signal()

	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 4096)
	timeoutMs := int(p.pollTimeout / time.Millisecond)

	for ctx.Err() == nil {
		nReady, err := unix.Poll(pollFd, timeoutMs)
		if err != nil {
			if !errors.Is(err, syscall.EINTR) {
				p.logger.WithError(err).Warn("PTY poll failed")
			}
			continue
		}
		if nReady == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			written, werr := p.ring.Write(buf[:n])
			if werr != nil && !errors.Is(werr, ringbuffer.ErrIsFull) {
				p.logger.WithError(werr).Warn("PTY buffer write failed")
			}
			if written < n {
				p.dropped.Add(uint64(n - written))
				p.logger.WithFields(logrus.Fields{
					"dropped":  n - written,
					"received": n,
				}).Warn("PTY input buffer full")
			}
			p.readBytes.Add(uint64(written))
			if written > 0 {
				p.signal()
			}
		}

		switch {
		case err == nil,
			errors.Is(err, syscall.EAGAIN),
			errors.Is(err, syscall.EWOULDBLOCK),
			errors.Is(err, syscall.EINTR):
		case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF), errors.Is(err, io.EOF):
			p.logger.Debug("PTY read loop exiting")
			return
		default:
			p.readErr = err
			p.logger.WithError(err).Warn("PTY read loop exiting on error")
			return
		}
	}
}

func (p *PTY) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Read blocks until buffered input is available. Buffered bytes are still
// returned after Close; io.EOF follows once the ring is drained.
func (p *PTY) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		n, err := p.ring.TryRead(b)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, err
		}
		if n > 0 {
			return n, nil
		}

		select {
		case <-p.done:
			if p.ring.IsEmpty() {
				if p.readErr != nil {
					return 0, p.readErr
				}
				return 0, io.EOF
			}
		case <-p.notify:
		}
	}
}

// Close stops the read loop and closes both descriptors. It is idempotent.
func (p *PTY) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()

		select {
		case <-p.done:
		case <-time.After(p.pollTimeout*3 + time.Second):
			p.logger.WithField("tty", p.name).Warn("PTY read loop did not stop in time")
		}

		err = errors.Join(p.master.Close(), p.slave.Close())
	})
	return err
}

func (p *PTY) Stats() Stats {
	return Stats{
		Buffered:  p.ring.Length(),
		ReadBytes: p.readBytes.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func createPTY() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func(cause error) error {
		return errors.Join(cause, master.Close(), slave.Close())
	}

	// raw mode: no echo, no line editing, bytes pass through untouched
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return nil, nil, cleanup(fmt.Errorf("failed to set PTY %s to raw mode: %w", slave.Name(), err))
	}
	if err := unix.SetNonblock(int(master.Fd()), true); err != nil {
		return nil, nil, cleanup(fmt.Errorf("failed to set PTY %s nonblocking: %w", slave.Name(), err))
	}
	return master, slave, nil
}
