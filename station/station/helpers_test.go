package station

import (
	"bytes"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/derktes/spectral-capture-node/wire"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

// testRecord returns a w*h capture whose pixels all sit at one level.
func testRecord(fname string, level int) wire.CaptureRecord {
	lum := make(wire.Histogram, wire.HistogramLevels)
	lum[level] = 12
	return wire.CaptureRecord{
		Type:      wire.TypeCapture,
		FilterID:  "760",
		Timestamp: "20240601_123045",
		Filename:  fname,
		Width:     4,
		Height:    3,
		Hist:      wire.HistogramSet{Flat: lum},
	}
}

// transcript builds what a node writes: control lines and chunk streams.
type transcript struct {
	t *testing.T
	bytes.Buffer
}

func (tr *transcript) record(rec wire.CaptureRecord) *transcript {
	line, err := wire.EncodeControl(rec)
	require.NoError(tr.t, err)
	tr.Write(line)
	return tr
}

func (tr *transcript) image(data []byte, chunk int) *transcript {
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		frame, err := wire.EncodeChunk(data[off:end])
		require.NoError(tr.t, err)
		tr.Write(frame)
	}
	tr.Write(wire.EndMarker())
	return tr
}

type loopback struct {
	io.Reader
	sent bytes.Buffer
}

func (l *loopback) Write(p []byte) (int, error) { return l.sent.Write(p) }

func artifact(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 1)
	}
	return b
}
