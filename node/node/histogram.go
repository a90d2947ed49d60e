package node

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/derktes/spectral-capture-node/wire"
	"github.com/pkg/errors"
)

// Histogrammer computes intensity distributions of a captured image.
type Histogrammer interface {
	Compute(path string) (width, height int, hist wire.HistogramSet, err error)
}

type imageHistogrammer struct {
	mode string
}

func NewHistogrammer(cfg HistogramConfig) Histogrammer {
	return &imageHistogrammer{mode: cfg.Mode}
}

func (h *imageHistogrammer) Compute(path string) (int, int, wire.HistogramSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, wire.HistogramSet{}, errors.Wrap(err, "open capture")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, 0, wire.HistogramSet{}, errors.Wrapf(err, "decode %s", path)
	}

	bounds := img.Bounds()
	lum := make(wire.Histogram, wire.HistogramLevels)
	red := make(wire.Histogram, wire.HistogramLevels)
	green := make(wire.Histogram, wire.HistogramLevels)
	blue := make(wire.Histogram, wire.HistogramLevels)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r16, g16, b16, _ := img.At(x, y).RGBA()
			r, g, b := r16>>8, g16>>8, b16>>8
			lum[luma(r, g, b)]++
			red[r]++
			green[g]++
			blue[b]++
		}
	}

	if h.mode == histogramModeLuminance {
		return bounds.Dx(), bounds.Dy(), wire.HistogramSet{Flat: lum}, nil
	}
	return bounds.Dx(), bounds.Dy(), wire.HistogramSet{Channels: map[string]wire.Histogram{
		"luminance": lum,
		"r":         red,
		"g":         green,
		"b":         blue,
	}}, nil
}

// luma is the ITU-R 601 weighted grey level in 16.16 fixed point.
func luma(r, g, b uint32) uint32 {
	return (r*19595 + g*38470 + b*7471 + 1<<15) >> 16
}
