package station

import (
	"fmt"

	"github.com/derktes/spectral-capture-node/wire"
)

// RequestPolicy decides whether the full artifact of a capture is worth
// pulling over the link.
type RequestPolicy interface {
	Want(rec wire.CaptureRecord) bool
	String() string
}

type alwaysPolicy struct{}

func (alwaysPolicy) Want(wire.CaptureRecord) bool { return true }
func (alwaysPolicy) String() string              { return "always" }

type neverPolicy struct{}

func (neverPolicy) Want(wire.CaptureRecord) bool { return false }
func (neverPolicy) String() string              { return "never" }

// brightnessPolicy requests captures whose mean luminance reaches minMean.
type brightnessPolicy struct {
	minMean float64
}

func (p brightnessPolicy) Want(rec wire.CaptureRecord) bool {
	return rec.Hist.Luminance().Mean() >= p.minMean
}

func (p brightnessPolicy) String() string {
	return fmt.Sprintf("brightness>=%.1f", p.minMean)
}

// ParsePolicy maps a policy name to a RequestPolicy.
func ParsePolicy(name string, minMean float64) (RequestPolicy, error) {
	switch name {
	case "always":
		return alwaysPolicy{}, nil
	case "never":
		return neverPolicy{}, nil
	case "brightness":
		if minMean < 0 || minMean > float64(wire.HistogramLevels-1) {
			return nil, fmt.Errorf("min mean %.1f outside 0..%d", minMean, wire.HistogramLevels-1)
		}
		return brightnessPolicy{minMean: minMean}, nil
	default:
		return nil, fmt.Errorf("unknown request policy %q", name)
	}
}
