package node

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/derktes/spectral-capture-node/wire"
	"github.com/stretchr/testify/require"
)

type inbound struct {
	at   time.Time
	data []byte
}

// fakePort behaves like a tarm serial port opened with a read timeout:
// Read returns 0, io.EOF when nothing arrives within one slice.
type fakePort struct {
	mu        sync.Mutex
	slice     time.Duration
	pending   []inbound
	written   bytes.Buffer
	writes    [][]byte
	reply     []byte
	replyIn   time.Duration
	failWrite func(p []byte) error
	closed    int
}

func newFakePort() *fakePort {
	return &fakePort{slice: 2 * time.Millisecond}
}

// push makes data readable after the given delay.
func (p *fakePort) push(data []byte, after time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, inbound{at: time.Now().Add(after), data: append([]byte(nil), data...)})
}

// replyTo answers every control line written with data after delay.
func (p *fakePort) replyTo(data []byte, after time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reply = data
	p.replyIn = after
}

func (p *fakePort) take(b []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for i, in := range p.pending {
		if in.at.After(now) {
			continue
		}
		n := copy(b, in.data)
		if n < len(in.data) {
			p.pending[i].data = in.data[n:]
		} else {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
		}
		return n
	}
	return 0
}

func (p *fakePort) Read(b []byte) (int, error) {
	if n := p.take(b); n > 0 {
		return n, nil
	}
	time.Sleep(p.slice)
	if n := p.take(b); n > 0 {
		return n, nil
	}
	return 0, io.EOF
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWrite != nil {
		if err := p.failWrite(b); err != nil {
			return 0, err
		}
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	p.written.Write(b)
	if p.reply != nil && len(b) > 0 && b[0] == '{' && b[len(b)-1] == '\n' {
		p.pending = append(p.pending, inbound{at: time.Now().Add(p.replyIn), data: p.reply})
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePort) output() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

// fakeCamera writes a fixed artifact, or fails.
type fakeCamera struct {
	mu       sync.Mutex
	artifact []byte
	err      error
	active   int
	overlap  bool
	hold     time.Duration
}

func (c *fakeCamera) Capture(path string) error {
	c.mu.Lock()
	c.active++
	if c.active > 1 {
		c.overlap = true
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.active--
		c.mu.Unlock()
	}()
	time.Sleep(c.hold)
	if c.err != nil {
		return c.err
	}
	return os.WriteFile(path, c.artifact, 0o644)
}

// flatHistogrammer reports a uniform grey image of the given size.
type flatHistogrammer struct {
	width, height int
	err           error
}

func (h *flatHistogrammer) Compute(string) (int, int, wire.HistogramSet, error) {
	if h.err != nil {
		return 0, 0, wire.HistogramSet{}, h.err
	}
	lum := make(wire.Histogram, wire.HistogramLevels)
	lum[128] = h.width * h.height
	return h.width, h.height, wire.HistogramSet{Flat: lum}, nil
}

type chanMonitor struct {
	edges chan time.Time
}

func (m *chanMonitor) Edges(ctx context.Context) (<-chan time.Time, error) {
	return m.edges, nil
}

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.SaveDir = t.TempDir()
	cfg.Transfer.AckTimeout = 100 * time.Millisecond
	cfg.Transfer.LockTimeout = 5 * time.Second
	return cfg
}

func newTestNode(t *testing.T, cfg *Config, port *fakePort, camera Camera, hist Histogrammer) *Node {
	hw := Hardware{
		Channel:      NewSerialChannel("fake", port),
		Camera:       camera,
		Histogrammer: hist,
		Edges:        &chanMonitor{edges: make(chan time.Time)},
	}
	n, err := New(cfg, hw, nil, testLogger())
	require.NoError(t, err)
	n.now = func() time.Time { return time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC) }
	return n
}

// splitTransfer separates a node's output into its control line and the
// chunk frames that follow it.
func splitTransfer(t *testing.T, out []byte) ([]byte, []wire.Frame, []byte) {
	idx := bytes.IndexByte(out, '\n')
	require.GreaterOrEqual(t, idx, 0, "no control line in output")
	line := out[:idx+1]
	r := bytes.NewReader(out[idx+1:])
	var frames []wire.Frame
	for r.Len() > 0 {
		f, err := wire.ReadFrame(r)
		require.NoError(t, err)
		frames = append(frames, f)
		if f.End {
			break
		}
	}
	rest, _ := io.ReadAll(r)
	return line, frames, rest
}
