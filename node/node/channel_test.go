package node

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trickle accepts at most three bytes per Write call.
type trickle struct {
	bytes.Buffer
	calls int
	err   error
}

func (t *trickle) Write(p []byte) (int, error) {
	t.calls++
	if t.err != nil {
		return 0, t.err
	}
	if len(p) > 3 {
		p = p[:3]
	}
	return t.Buffer.Write(p)
}

func (t *trickle) Close() error { return nil }

func TestWriteCompletesShortWrites(t *testing.T) {
	port := &trickle{}
	channel := NewSerialChannel("trickle", port)

	n, err := channel.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "0123456789", port.String())
	assert.Equal(t, 4, port.calls)
}

func TestWriteReportsPortError(t *testing.T) {
	channel := NewSerialChannel("broken", &trickle{err: errors.New("EIO")})
	_, err := channel.Write([]byte("x"))
	assert.Error(t, err)
}

func TestReadAvailableTreatsTimeoutAsEmpty(t *testing.T) {
	port := newFakePort()
	channel := NewSerialChannel("fake", port)

	b, err := channel.ReadAvailable(32)
	require.NoError(t, err)
	assert.Empty(t, b)

	port.push([]byte("0123456789"), 0)
	b, err = channel.ReadAvailable(4)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123"), b)
}

type failingReader struct{ io.Writer }

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("overrun") }
func (failingReader) Close() error             { return nil }

func TestReadAvailableReportsPortError(t *testing.T) {
	channel := NewSerialChannel("fake", failingReader{io.Discard})
	_, err := channel.ReadAvailable(8)
	assert.Error(t, err)
}

func TestDrainDropsStaleBytes(t *testing.T) {
	port := newFakePort()
	port.push(bytes.Repeat([]byte("x"), 600), 0)
	port.push([]byte("later"), time.Hour)
	channel := NewSerialChannel("fake", port)

	dropped, err := channel.Drain()
	require.NoError(t, err)
	assert.Equal(t, 600, dropped)
}

func TestCloseOnce(t *testing.T) {
	port := newFakePort()
	channel := NewSerialChannel("fake", port)
	require.NoError(t, channel.Close())
	require.NoError(t, channel.Close())
	assert.Equal(t, 1, port.closed)
}
