package fits

import (
	"math"
	"sort"
)

// Flux scaling modes understood by the downstream renderer.
const (
	FluxLogistic = "logistic"
	FluxLinear   = "linear"
	FluxSquare   = "square"
	FluxRatio    = "ratio"
	FluxRoot     = "root"
	FluxLegacy   = "legacy"
)

// FluxClassifier maps the shape of the global histogram to one of the flux
// scaling modes. The decision thresholds live with the renderer; the default
// classifier reproduces the ingestion-side placeholder.
type FluxClassifier func(hist []int32, min, max, median float32) string

// DefaultFluxClassifier returns the logistic mode unconditionally, matching
// the ingestion core's placeholder behaviour.
func DefaultFluxClassifier(hist []int32, min, max, median float32) string {
	return FluxLogistic
}

// madThreshold scales the MAD sides into the black/white display clip points.
const madThreshold = 7.5

// sortedPixels returns an ordered copy of the pixel accumulator. Ties between
// equal values break by the bit pattern of the IEEE representation so the
// ordering is total and reproducible.
func (c *Cube) sortedPixels() []float32 {
	ord := append([]float32(nil), c.Pixels...)
	sort.Slice(ord, func(i, j int) bool {
		a, b := ord[i], ord[j]
		if a != b {
			return a < b
		}
		return math.Float32bits(a) < math.Float32bits(b)
	})
	return ord
}

// makeHistogram derives the global statistics from the ordered pixel
// accumulator: min/max/median, the one-sided MADs, the 1024-bin histogram and
// the display thresholds.
func (c *Cube) makeHistogram(ord []float32) {
	if len(ord) == 0 {
		return
	}

	c.Min = ord[0]
	c.Max = ord[len(ord)-1]
	c.Median = ord[len(ord)/2]

	var below, above []float32
	var all []float32
	for _, v := range ord {
		d := v - c.Median
		if d < 0 {
			below = append(below, -d)
		} else if d > 0 {
			above = append(above, d)
		}
		if d < 0 {
			all = append(all, -d)
		} else {
			all = append(all, d)
		}
	}

	c.MADN = medianOf(below)
	c.MADP = medianOf(above)
	c.MAD = medianOf(all)

	c.Hist = make([]int32, NBins)
	width := c.Max - c.Min
	if width > 0 {
		scale := float32(NBins) / width
		for _, v := range ord {
			bin := int((v - c.Min) * scale)
			if bin >= NBins {
				bin = NBins - 1
			}
			if bin < 0 {
				bin = 0
			}
			c.Hist[bin]++
		}
	} else {
		// a flat cube collapses into a single bucket
		c.Hist[0] = int32(len(ord))
	}

	c.Black = maxf32(c.Min, c.Median-madThreshold*c.MADN)
	c.White = minf32(c.Max, c.Median+madThreshold*c.MADP)
	if c.White > c.Black {
		c.Sensitivity = 1.0 / (c.White - c.Black)
	}
}

// classifyFlux fills in the flux mode when the caller did not preset one.
func (c *Cube) classifyFlux(classifier FluxClassifier) {
	if c.Flux != "" {
		return
	}
	if classifier == nil {
		classifier = DefaultFluxClassifier
	}
	c.Flux = classifier(c.Hist, c.Min, c.Max, c.Median)
}

// medianOf sorts in place and returns the middle element, 0 for empty input.
func medianOf(vals []float32) float32 {
	if len(vals) == 0 {
		return 0
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	return vals[len(vals)/2]
}

func maxf32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minf32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
