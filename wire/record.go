package wire

import (
	"bytes"
	"encoding/json"
	"errors"
)

const (
	// TypeCapture discriminates capture metadata from other control lines
	TypeCapture = "capture"
	// AckKeyword is what the counterpart sends to request the artifact
	AckKeyword = "SEND_IMG"
	// TimestampLayout formats ts_utc, second resolution
	TimestampLayout = "20060102_150405"
	// HistogramLevels is the number of intensity levels of an 8-bit sample
	HistogramLevels = 256
)

// Histogram is a frequency distribution over intensity levels.
type Histogram []int

// Sum returns the total count across all bins.
func (h Histogram) Sum() int {
	total := 0
	for _, n := range h {
		total += n
	}
	return total
}

// Mean returns the average intensity level, or 0 for an empty histogram.
func (h Histogram) Mean() float64 {
	total := h.Sum()
	if total == 0 {
		return 0
	}
	weighted := 0
	for level, n := range h {
		weighted += level * n
	}
	return float64(weighted) / float64(total)
}

// HistogramSet is either a single flat histogram, sent as a JSON array, or
// a set of named channels, sent as a JSON object.
type HistogramSet struct {
	Flat     Histogram
	Channels map[string]Histogram
}

// Luminance returns the luminance histogram of the set: the flat
// histogram, or the "luminance" channel.
func (s HistogramSet) Luminance() Histogram {
	if s.Channels != nil {
		return s.Channels["luminance"]
	}
	return s.Flat
}

// Each calls fn for every histogram in the set. Flat histograms are
// reported under the empty name.
func (s HistogramSet) Each(fn func(name string, h Histogram)) {
	if s.Channels == nil {
		fn("", s.Flat)
		return
	}
	for name, h := range s.Channels {
		fn(name, h)
	}
}

func (s HistogramSet) MarshalJSON() ([]byte, error) {
	if s.Channels != nil {
		return json.Marshal(s.Channels)
	}
	if s.Flat == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Flat)
}

func (s *HistogramSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("wire: empty histogram")
	}
	switch data[0] {
	case '[':
		s.Channels = nil
		return json.Unmarshal(data, &s.Flat)
	case '{':
		s.Flat = nil
		return json.Unmarshal(data, &s.Channels)
	default:
		return errors.New("wire: histogram must be an array or an object")
	}
}

// CaptureRecord is the metadata sent for one acquisition.
type CaptureRecord struct {
	Type      string       `json:"type"`
	FilterID  string       `json:"filter_id"`
	Timestamp string       `json:"ts_utc"`
	Filename  string       `json:"fname"`
	Width     int          `json:"w"`
	Height    int          `json:"h"`
	Hist      HistogramSet `json:"hist"`
}

// DecodeCapture parses a control line carrying a capture record.
func DecodeCapture(line []byte) (CaptureRecord, error) {
	var rec CaptureRecord
	if err := json.Unmarshal(bytes.TrimSpace(line), &rec); err != nil {
		return rec, err
	}
	if rec.Type != TypeCapture {
		return rec, ErrNotCapture
	}
	return rec, nil
}
