//go:build linux || darwin

package ptyio

import (
	"bufio"
	"io"
	"os"
	"testing"
	"time"

	"github.com/srg/blemote/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPTY(t *testing.T, opts Options) *PTY {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testutils.NewTestHelper(t).Logger
	}
	p, err := Open(opts)
	if err != nil {
		t.Skipf("PTY unavailable: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPTY_DeliversLinesWrittenToSlave(t *testing.T) {
	p := openPTY(t, Options{PollTimeout: 10 * time.Millisecond})
	require.NotEmpty(t, p.Name())

	writer, err := os.OpenFile(p.Name(), os.O_WRONLY, 0)
	require.NoError(t, err)
	defer writer.Close()

	_, err = writer.WriteString("{\"X\":1,\"Y\":2}\n{\"adapter\":\"on\"}\n")
	require.NoError(t, err)

	lines := make(chan string, 2)
	go func() {
		scanner := bufio.NewScanner(p)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for _, want := range []string{`{"X":1,"Y":2}`, `{"adapter":"on"}`} {
		select {
		case got := <-lines:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	stats := p.Stats()
	assert.Equal(t, uint64(len("{\"X\":1,\"Y\":2}\n{\"adapter\":\"on\"}\n")), stats.ReadBytes)
	assert.Zero(t, stats.Dropped)
}

func TestPTY_ReadReturnsEOFAfterClose(t *testing.T) {
	p := openPTY(t, Options{PollTimeout: 10 * time.Millisecond})

	result := make(chan error, 1)
	go func() {
		_, err := p.Read(make([]byte, 16))
		result <- err
	}()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not return after Close")
	}

	n, err := p.Read(nil)
	assert.Zero(t, n)
	assert.NoError(t, err)
}

func TestPTY_DropsWhenRingIsFull(t *testing.T) {
	p := openPTY(t, Options{ReadCap: 8, PollTimeout: 10 * time.Millisecond})

	writer, err := os.OpenFile(p.Name(), os.O_WRONLY, 0)
	require.NoError(t, err)
	defer writer.Close()

	_, err = writer.WriteString("0123456789abcdef")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.ReadBytes+s.Dropped == 16
	}, 2*time.Second, 10*time.Millisecond)

	s := p.Stats()
	assert.Equal(t, uint64(8), s.ReadBytes)
	assert.Equal(t, uint64(8), s.Dropped)
	assert.Equal(t, 8, s.Buffered)
}
