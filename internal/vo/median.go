package vo

import "math"

// Histogram is a fixed-resolution approximate order-statistic estimator.
//
// Samples are clamped into [min, max] and counted in bins of width
// resolution, so Add is O(1) and a quantile query is O(bins). The answer is
// an approximation: its error is bounded by the bin width, not by the number
// of samples, and it interpolates linearly inside the selected bin.
type Histogram struct {
	min, max   float64
	resolution float64
	bins       []int
	count      int
}

// NewHistogram creates a histogram over [min, max] with the given bin width.
func NewHistogram(min, max, resolution float64) *Histogram {
	n := int(math.Ceil((max-min)/resolution - 1e-9))
	if n < 1 {
		n = 1
	}
	return &Histogram{
		min:        min,
		max:        max,
		resolution: resolution,
		bins:       make([]int, n),
	}
}

// Add counts v. Values outside [min, max] land in the edge bins.
func (h *Histogram) Add(v float64) {
	switch {
	case math.IsNaN(v), v > h.max:
		v = h.max
	case v < h.min:
		v = h.min
	}
	bin := int((v - h.min) / h.resolution)
	if bin >= len(h.bins) {
		bin = len(h.bins) - 1
	}
	h.bins[bin]++
	h.count++
}

// Count returns the number of samples added since the last Clear.
func (h *Histogram) Count() int { return h.count }

// Bins returns the number of bins.
func (h *Histogram) Bins() int { return len(h.bins) }

// ApproximateNth approximates the k-th smallest sample (1-based). It picks
// the first bin whose cumulative count reaches k and interpolates within it
// by the fraction of that bin's samples needed to reach k.
func (h *Histogram) ApproximateNth(k int) float64 {
	if k <= 0 || h.count == 0 {
		return h.min
	}
	if k > h.count {
		return h.max
	}

	before := 0
	for i, c := range h.bins {
		after := before + c
		if after >= k && c > 0 {
			frac := float64(k-before) / float64(c)
			return math.Min(h.min+(float64(i)+frac)*h.resolution, h.max)
		}
		before = after
	}
	return h.max
}

// Median approximates the median of the samples added so far.
func (h *Histogram) Median() float64 {
	return h.ApproximateNth((h.count + 1) / 2)
}

// Clear resets every bin.
func (h *Histogram) Clear() {
	for i := range h.bins {
		h.bins[i] = 0
	}
	h.count = 0
}
