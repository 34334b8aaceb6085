package vo

// SystemBuilder assembles the weighted normal equations of one iteration.
type SystemBuilder struct {
	loss LossFunction
}

// NewSystemBuilder returns a builder weighting residuals with loss.
func NewSystemBuilder(loss LossFunction) *SystemBuilder {
	if loss == nil {
		loss = IdentityLoss{}
	}
	return &SystemBuilder{loss: loss}
}

// Build writes H = Σ w·JᵀJ and g = Σ w·Jᵀr over valid points into h and g
// and returns the cost Σ w·r² and the number of points used.
//
// With a non-robust loss every weight is one, so H starts from the
// keyframe's precomputed Hessian and the excluded points are subtracted.
// When more than half the points are excluded it is cheaper to sum the
// valid ones directly.
func (b *SystemBuilder) Build(h *[36]float64, g *[6]float64, data *AlignmentData, residuals []float32, valid []bool) (cost float64, n int) {
	*g = [6]float64{}
	total := data.Len()
	for i := 0; i < total; i++ {
		if valid[i] {
			n++
		}
	}

	if b.loss.IsRobust() || n*2 < total {
		*h = [36]float64{}
		for i := 0; i < total; i++ {
			if !valid[i] {
				continue
			}
			r := float64(residuals[i])
			w := b.loss.Weight(r)
			j := &data.Jacobians[i]
			accumulateOuter(h, j, w)
			for c := 0; c < 6; c++ {
				g[c] += w * r * j[c]
			}
			cost += w * r * r
		}
		mirrorUpper(h)
		return cost, n
	}

	*h = data.Hessian
	for i := 0; i < total; i++ {
		j := &data.Jacobians[i]
		if !valid[i] {
			accumulateOuter(h, j, -1)
			continue
		}
		r := float64(residuals[i])
		for c := 0; c < 6; c++ {
			g[c] += r * j[c]
		}
		cost += r * r
	}
	mirrorUpper(h)
	return cost, n
}
