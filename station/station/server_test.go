package station

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/derktes/spectral-capture-node/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closingLoopback struct {
	loopback
	closed int
}

func (c *closingLoopback) Close() error {
	c.closed++
	return nil
}

func TestServeStopsWhenLinkCloses(t *testing.T) {
	tr := &transcript{t: t}
	tr.record(testRecord("a.jpg", 100)).image(artifact(30), 1024)
	port := &closingLoopback{loopback: loopback{Reader: bytes.NewReader(tr.Bytes())}}

	s := newStation(nil, testLogger())
	rcv := newReceiver(port, alwaysPolicy{}, wire.AckKeyword, t.TempDir(), s, testLogger())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: s.routes()}

	require.NoError(t, s.serve(context.Background(), port, rcv, srv))
	assert.Equal(t, 1, port.closed)
	assert.Equal(t, 30, lookup(t, s, "a.jpg").Image.Size)
}

func TestFlagParsing(t *testing.T) {
	var fs flagSet
	require.NoError(t, fs.parse([]string{"--serial", "/dev/ttyUSB0", "--request", "brightness", "--min-mean", "42"}))
	assert.Equal(t, "/dev/ttyUSB0", fs.serialPort)
	assert.Equal(t, 115200, fs.baudRate)
	assert.Equal(t, 42.0, fs.minMean)
	assert.Equal(t, wire.AckKeyword, fs.keyword)

	var missing flagSet
	assert.Error(t, missing.parse(nil), "serial port is required")
}
