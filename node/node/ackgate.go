package node

import (
	"bytes"
	"time"
)

// ackReadSize is how many bytes one poll of the gate asks for.
const ackReadSize = 32

type inboundReader interface {
	ReadAvailable(max int) ([]byte, error)
}

// AckGate waits for the counterpart's request keyword by polling the link.
type AckGate struct {
	in  inboundReader
	now func() time.Time
}

func NewAckGate(in inboundReader) *AckGate {
	return &AckGate{in: in, now: time.Now}
}

// AwaitKeyword polls until keyword appears anywhere in the bytes read
// during this call or the timeout expires. Bytes read are dropped when it
// returns; bytes not yet read stay on the link.
func (g *AckGate) AwaitKeyword(keyword []byte, timeout time.Duration) (bool, error) {
	deadline := g.now().Add(timeout)
	var received []byte
	for g.now().Before(deadline) {
		b, err := g.in.ReadAvailable(ackReadSize)
		received = append(received, b...)
		if bytes.Contains(received, keyword) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
	return false, nil
}
