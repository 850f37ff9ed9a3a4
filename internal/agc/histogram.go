// Package agc implements the automatic gain/exposure control loop: a
// 256-bin pixel histogram, a percentile statistic derived from it, and two
// alternative control laws that turn that statistic into new gain/exposure
// targets.
//
// Grounded on the original agc.cpp, which exists in the source tree in
// two incompatible forms (a saturation/max step law and a single-scalar
// servo) — see DESIGN.md's Open Question decision for which is canonical
// here.
package agc

// NumBins is the number of histogram buckets, one per possible 8-bit pixel
// value.
const NumBins = 256

// Histogram counts how many pixels in a frame buffer fall in each of the
// 256 possible 8-bit values.
type Histogram struct {
	Bins [NumBins]int
}

// Build populates a Histogram from a raw 8-bit pixel buffer.
func Build(buf []byte) Histogram {
	var h Histogram
	for _, v := range buf {
		h.Bins[v]++
	}
	return h
}

// TotalPixels returns the sum of all bin counts.
func (h Histogram) TotalPixels() int {
	total := 0
	for _, c := range h.Bins {
		total += c
	}
	return total
}

// MaxObservedValue returns the highest pixel value with a non-zero bin
// count, or -1 if the histogram is empty.
func (h Histogram) MaxObservedValue() int {
	for v := NumBins - 1; v >= 0; v-- {
		if h.Bins[v] > 0 {
			return v
		}
	}
	return -1
}

// PercentileValue returns the smallest pixel value v such that at least a
// fraction p of all pixels have values <= v. p must be in (0.0, 1.0]; p <=
// 0 or an empty histogram both return 0.
func (h Histogram) PercentileValue(p float64) int {
	total := h.TotalPixels()
	if total == 0 || p <= 0 {
		return 0
	}
	threshold := p * float64(total)
	cumulative := 0
	for v := 0; v < NumBins; v++ {
		cumulative += h.Bins[v]
		if float64(cumulative) >= threshold {
			return v
		}
	}
	return NumBins - 1
}
