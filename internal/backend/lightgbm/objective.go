package lightgbm

import "math"

// objective supplies per-sample gradient statistics for scalar (single score)
// objectives. Multiclass softmax is handled directly by the trainer because
// it carries one score per class.
type objective interface {
	initScore(targets []float64) float64
	gradHess(score, target float64) (grad, hess float64)
}

// l2Objective is squared-error regression.
type l2Objective struct{}

func (l2Objective) initScore(targets []float64) float64 {
	sum := 0.0
	for _, t := range targets {
		sum += t
	}
	return sum / float64(len(targets))
}

func (l2Objective) gradHess(score, target float64) (float64, float64) {
	return score - target, 1.0
}

// logisticObjective is binary cross-entropy on {0,1} labels.
type logisticObjective struct{}

func (logisticObjective) initScore(targets []float64) float64 {
	pos := 0.0
	for _, t := range targets {
		pos += t
	}
	p := pos / float64(len(targets))
	const eps = 1e-15
	p = math.Min(math.Max(p, eps), 1-eps)
	return math.Log(p / (1 - p))
}

func (logisticObjective) gradHess(score, target float64) (float64, float64) {
	p := sigmoid(score)
	return p - target, math.Max(p*(1-p), 1e-16)
}
