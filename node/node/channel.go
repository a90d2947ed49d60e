package node

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// SerialChannel owns the half-duplex link to the counterpart. It does no
// framing; callers hold the node guard for the whole of an exchange.
type SerialChannel struct {
	port io.ReadWriteCloser
	name string

	closeOnce sync.Once
	closeErr  error
}

// OpenSerialChannel opens the serial device. The configured poll slice
// bounds every ReadAvailable call.
func OpenSerialChannel(cfg SerialConfig) (*SerialChannel, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.PollSlice,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", cfg.Device)
	}
	return NewSerialChannel(cfg.Device, port), nil
}

// NewSerialChannel wraps an already opened port. The port must return
// from Read after a bounded time even when nothing arrives.
func NewSerialChannel(name string, port io.ReadWriteCloser) *SerialChannel {
	return &SerialChannel{port: port, name: name}
}

// Write blocks until every byte of p has been handed to the port.
func (c *SerialChannel) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := c.port.Write(p[written:])
		written += n
		if err != nil {
			return written, errors.Wrapf(err, "write %s", c.name)
		}
		if n == 0 {
			return written, errors.Wrapf(io.ErrShortWrite, "write %s", c.name)
		}
	}
	return written, nil
}

// ReadAvailable returns whatever arrived within one poll slice, at most
// max bytes. An empty result with a nil error means nothing arrived.
func (c *SerialChannel) ReadAvailable(max int) ([]byte, error) {
	buf := make([]byte, max)
	n, err := c.port.Read(buf)
	// tarm/serial reports an expired read timeout as io.EOF.
	if err == io.EOF {
		err = nil
	}
	if err != nil {
		return buf[:n], errors.Wrapf(err, "read %s", c.name)
	}
	return buf[:n], nil
}

// drainLimit caps Drain on a link that never goes quiet.
const drainLimit = 64 << 10

// Drain discards inbound bytes until a poll slice passes with nothing
// received, and returns how many bytes were dropped.
func (c *SerialChannel) Drain() (int, error) {
	dropped := 0
	for dropped < drainLimit {
		b, err := c.ReadAvailable(256)
		dropped += len(b)
		if err != nil {
			return dropped, err
		}
		if len(b) == 0 {
			return dropped, nil
		}
	}
	return dropped, nil
}

// Close releases the port. It is safe to call more than once.
func (c *SerialChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.port.Close()
	})
	return c.closeErr
}
