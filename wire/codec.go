package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
)

const (
	// DefaultChunkSize is the payload size of every chunk frame except
	// possibly the last one of a stream
	DefaultChunkSize = 1024
	// MaxChunkSize is the largest payload a u16 length header can describe
	MaxChunkSize = math.MaxUint16

	frameHeaderLen = 2
)

var (
	ErrEmptyChunk    = errors.New("wire: chunk payload is empty")
	ErrChunkTooLarge = errors.New("wire: chunk payload exceeds 65535 bytes")
	ErrChecksum      = errors.New("wire: chunk checksum mismatch")
	ErrNotControl    = errors.New("wire: line is not a control message")
	ErrNotCapture    = errors.New("wire: control message is not a capture record")
)

// Frame is one decoded unit of a chunked transfer. End is set for the
// end-of-stream marker, which carries neither payload nor checksum.
type Frame struct {
	Payload  []byte
	Checksum byte
	End      bool
}

// Checksum folds the payload bytes together with XOR, starting from zero.
func Checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum ^= b
	}
	return sum
}

// EncodeControl renders v as a compact JSON line terminated by a newline.
func EncodeControl(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encode appends the '\n' terminator itself.
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeControl returns the type discriminator of a control line.
func DecodeControl(line []byte) (string, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return "", ErrNotControl
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return "", err
	}
	if env.Type == "" {
		return "", ErrNotControl
	}
	return env.Type, nil
}

// EncodeChunk frames a payload as [len u16 LE][payload][xor].
func EncodeChunk(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyChunk
	}
	if len(payload) > MaxChunkSize {
		return nil, ErrChunkTooLarge
	}
	out := make([]byte, frameHeaderLen+len(payload)+1)
	binary.LittleEndian.PutUint16(out, uint16(len(payload)))
	copy(out[frameHeaderLen:], payload)
	out[len(out)-1] = Checksum(payload)
	return out, nil
}

// EndMarker returns the two zero bytes that terminate a chunk stream.
func EndMarker() []byte {
	return []byte{0x00, 0x00}
}

// ReadFrame reads exactly one frame from r. A zero length header is the
// end marker and no checksum byte is consumed for it. On a checksum
// mismatch the frame is still returned, together with ErrChecksum, so the
// caller can keep reading in step with the sender.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	length := int(binary.LittleEndian.Uint16(hdr[:]))
	if length == 0 {
		return Frame{End: true}, nil
	}
	body := make([]byte, length+1)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	f := Frame{Payload: body[:length], Checksum: body[length]}
	if Checksum(f.Payload) != f.Checksum {
		return f, ErrChecksum
	}
	return f, nil
}
