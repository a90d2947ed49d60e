package node

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/derktes/spectral-capture-node/wire"
)

// MetadataBuilder turns capture attributes into the record sent over the
// link. The filter id is fixed for the life of the node.
type MetadataBuilder struct {
	filterID string
	levels   int
}

func NewMetadataBuilder(filterID string, levels int) *MetadataBuilder {
	return &MetadataBuilder{filterID: filterID, levels: levels}
}

// Timestamp formats ts at second resolution in UTC.
func Timestamp(ts time.Time) string {
	return ts.UTC().Format(wire.TimestampLayout)
}

// Filename derives the artifact name. Two captures in the same second get
// the same name.
func (b *MetadataBuilder) Filename(ts time.Time) string {
	return fmt.Sprintf("image_%s_%s.jpg", b.filterID, Timestamp(ts))
}

// Build assembles the capture record. Histograms come from a trusted
// collaborator, so a length mismatch is a programming error and panics.
func (b *MetadataBuilder) Build(ts time.Time, fname string, width, height int, hist wire.HistogramSet) wire.CaptureRecord {
	hist.Each(func(name string, h wire.Histogram) {
		if len(h) != b.levels {
			panic(fmt.Sprintf("histogram %q has %d levels, want %d", name, len(h), b.levels))
		}
	})
	return wire.CaptureRecord{
		Type:      wire.TypeCapture,
		FilterID:  b.filterID,
		Timestamp: Timestamp(ts),
		Filename:  fname,
		Width:     width,
		Height:    height,
		Hist:      hist,
	}
}

// availableName returns fname, or fname with a numeric suffix when a file
// of that name already exists in dir. Any stat failure other than a
// missing file is returned.
func availableName(dir, fname string) (string, error) {
	ext := filepath.Ext(fname)
	stem := strings.TrimSuffix(fname, ext)
	candidate := fname
	for i := 1; ; i++ {
		_, err := os.Stat(filepath.Join(dir, candidate))
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
}
