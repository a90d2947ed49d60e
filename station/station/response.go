package station

import (
	"time"

	"github.com/derktes/spectral-capture-node/wire"
)

const (
	eventMetadata = "metadata"
	eventImage    = "image"
)

// imageInfo describes an artifact reassembled from chunk frames.
type imageInfo struct {
	Path    string `json:"-"`
	Size    int    `json:"size"`
	Frames  int    `json:"frames"`
	Corrupt bool   `json:"corrupt"`
}

type captureEntry struct {
	Record     wire.CaptureRecord `json:"record"`
	ReceivedAt time.Time          `json:"receivedAt"`
	Requested  bool               `json:"requested"`
	Image      *imageInfo         `json:"image,omitempty"`
}

// captureSummary is the list view of a capture, without histograms.
type captureSummary struct {
	Filename   string     `json:"fname"`
	FilterID   string     `json:"filterId"`
	Timestamp  string     `json:"ts_utc"`
	Width      int        `json:"w"`
	Height     int        `json:"h"`
	Mean       float64    `json:"mean"`
	Requested  bool       `json:"requested"`
	Image      *imageInfo `json:"image,omitempty"`
	ReceivedAt time.Time  `json:"receivedAt"`
}

type captureEvent struct {
	Kind    string         `json:"kind"`
	Capture captureSummary `json:"capture"`
}

func (e *captureEntry) summary() captureSummary {
	return captureSummary{
		Filename:   e.Record.Filename,
		FilterID:   e.Record.FilterID,
		Timestamp:  e.Record.Timestamp,
		Width:      e.Record.Width,
		Height:     e.Record.Height,
		Mean:       e.Record.Hist.Luminance().Mean(),
		Requested:  e.Requested,
		Image:      e.Image,
		ReceivedAt: e.ReceivedAt,
	}
}
