package xgboost

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"nova-ml/internal/mlerr"
)

// Params mirror the classic XGBoost knobs.
type Params struct {
	NumRound       int     `yaml:"num_round" json:"num_round"`
	Eta            float64 `yaml:"eta" json:"eta"`
	MaxDepth       int     `yaml:"max_depth" json:"max_depth"`
	Lambda         float64 `yaml:"lambda" json:"lambda"`
	Gamma          float64 `yaml:"gamma" json:"gamma"`
	MinChildWeight float64 `yaml:"min_child_weight" json:"min_child_weight"`
}

// DefaultParams matches the library defaults.
func DefaultParams() Params {
	return Params{
		NumRound:       100,
		Eta:            0.3,
		MaxDepth:       6,
		Lambda:         1.0,
		Gamma:          0.0,
		MinChildWeight: 1.0,
	}
}

// Trainer fits a Model by depth-wise growth: every node at the current depth
// is split before descending, each split paying the gamma complexity cost.
type Trainer struct {
	params    Params
	objective Objective
	numClass  int
}

// NewTrainer validates the parameters and objective. numClass is only
// consulted for multi:softprob.
func NewTrainer(params Params, obj Objective, numClass int) (*Trainer, error) {
	if params.NumRound <= 0 {
		return nil, mlerr.New("xgboost: num_round must be positive")
	}
	if params.Eta <= 0 {
		return nil, mlerr.New("xgboost: eta must be positive")
	}
	if params.MaxDepth <= 0 {
		return nil, mlerr.New("xgboost: max_depth must be positive")
	}
	switch obj {
	case ObjectiveSquaredError, ObjectiveLogistic:
		numClass = 1
	case ObjectiveSoftprob:
		if numClass < 3 {
			return nil, mlerr.New("xgboost: multi:softprob requires at least 3 classes")
		}
	default:
		return nil, mlerr.Newf("xgboost: unknown objective %q", obj)
	}
	return &Trainer{params: params, objective: obj, numClass: numClass}, nil
}

// Fit trains on a dense feature matrix and target vector. Classification
// targets are class indices encoded as float64.
func (t *Trainer) Fit(x mat.Matrix, y []float64) (*Model, error) {
	rows, cols := x.Dims()
	if rows == 0 || cols == 0 {
		return nil, mlerr.New("xgboost: empty training matrix")
	}
	if len(y) != rows {
		return nil, mlerr.Newf("xgboost: %d rows but %d targets", rows, len(y))
	}

	samples := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		row := make([]float64, cols)
		for c := 0; c < cols; c++ {
			row[c] = x.At(r, c)
		}
		samples[r] = row
	}

	model := &Model{
		Objective:   t.objective,
		NumClass:    t.numClass,
		NumFeatures: cols,
		BaseScore:   t.baseScore(y),
	}

	if t.objective == ObjectiveSoftprob {
		t.boostSoftprob(model, samples, y)
		return model, nil
	}

	margins := make([]float64, rows)
	for i := range margins {
		margins[i] = model.BaseScore
	}
	grads := make([]float64, rows)
	hess := make([]float64, rows)

	for round := 0; round < t.params.NumRound; round++ {
		for i := range samples {
			grads[i], hess[i] = t.gradHess(margins[i], y[i])
		}
		tree := t.buildTree(samples, grads, hess)
		model.Trees = append(model.Trees, tree)
		for i := range samples {
			margins[i] += tree.Predict(samples[i])
		}
	}
	return model, nil
}

func (t *Trainer) baseScore(y []float64) float64 {
	switch t.objective {
	case ObjectiveSquaredError:
		sum := 0.0
		for _, v := range y {
			sum += v
		}
		return sum / float64(len(y))
	case ObjectiveLogistic:
		pos := 0.0
		for _, v := range y {
			pos += v
		}
		p := pos / float64(len(y))
		const eps = 1e-15
		p = math.Min(math.Max(p, eps), 1-eps)
		return math.Log(p / (1 - p))
	default:
		return 0
	}
}

func (t *Trainer) gradHess(margin, target float64) (float64, float64) {
	if t.objective == ObjectiveLogistic {
		p := sigmoid(margin)
		return p - target, math.Max(p*(1-p), 1e-16)
	}
	return margin - target, 1.0
}

func (t *Trainer) boostSoftprob(model *Model, samples [][]float64, y []float64) {
	rows := len(samples)
	k := t.numClass
	margins := make([][]float64, rows)
	for i := range margins {
		margins[i] = make([]float64, k)
	}
	grads := make([]float64, rows)
	hess := make([]float64, rows)

	for round := 0; round < t.params.NumRound; round++ {
		probs := make([][]float64, rows)
		for i := range samples {
			probs[i] = softmax(margins[i])
		}
		for class := 0; class < k; class++ {
			for i := range samples {
				p := probs[i][class]
				target := 0.0
				if int(y[i]) == class {
					target = 1.0
				}
				grads[i] = p - target
				hess[i] = math.Max(p*(1-p), 1e-16)
			}
			tree := t.buildTree(samples, grads, hess)
			model.Trees = append(model.Trees, tree)
			for i := range samples {
				margins[i][class] += tree.Predict(samples[i])
			}
		}
	}
}

// buildTree grows one tree level by level down to MaxDepth.
func (t *Trainer) buildTree(samples [][]float64, grads, hess []float64) Tree {
	tree := Tree{}
	all := make([]int, len(samples))
	for i := range all {
		all[i] = i
	}
	root := tree.addLeaf(0)
	t.grow(&tree, root, samples, grads, hess, all, 0)
	return tree
}

func (t *Trainer) grow(tree *Tree, nodeID int, samples [][]float64, grads, hess []float64, indices []int, depth int) {
	sumG, sumH := 0.0, 0.0
	for _, i := range indices {
		sumG += grads[i]
		sumH += hess[i]
	}

	if depth >= t.params.MaxDepth {
		tree.Weights[nodeID] = t.leafWeight(sumG, sumH)
		return
	}

	feature, threshold, gain := t.bestSplit(samples, grads, hess, indices, sumG, sumH)
	if feature < 0 || gain <= 0 {
		tree.Weights[nodeID] = t.leafWeight(sumG, sumH)
		return
	}

	var left, right []int
	for _, i := range indices {
		if samples[i][feature] < threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	leftID := tree.addLeaf(0)
	rightID := tree.addLeaf(0)
	tree.Features[nodeID] = feature
	tree.Thresholds[nodeID] = threshold
	tree.LeftChildren[nodeID] = leftID
	tree.RightChildren[nodeID] = rightID
	tree.Weights[nodeID] = 0

	t.grow(tree, leftID, samples, grads, hess, left, depth+1)
	t.grow(tree, rightID, samples, grads, hess, right, depth+1)
}

// bestSplit runs the exact greedy scan per feature and returns the split
// with the largest regularized gain, already net of gamma.
func (t *Trainer) bestSplit(samples [][]float64, grads, hess []float64, indices []int, sumG, sumH float64) (int, float64, float64) {
	lambda := t.params.Lambda
	parent := sumG * sumG / (sumH + lambda)

	bestFeature := -1
	bestThreshold := 0.0
	bestGain := 0.0

	order := make([]int, len(indices))
	numFeatures := len(samples[0])
	for f := 0; f < numFeatures; f++ {
		copy(order, indices)
		sort.Slice(order, func(a, b int) bool { return samples[order[a]][f] < samples[order[b]][f] })

		gLeft, hLeft := 0.0, 0.0
		for pos := 0; pos < len(order)-1; pos++ {
			idx := order[pos]
			gLeft += grads[idx]
			hLeft += hess[idx]
			if samples[idx][f] == samples[order[pos+1]][f] {
				continue
			}
			gRight := sumG - gLeft
			hRight := sumH - hLeft
			if hLeft < t.params.MinChildWeight || hRight < t.params.MinChildWeight {
				continue
			}
			gain := 0.5*(gLeft*gLeft/(hLeft+lambda)+gRight*gRight/(hRight+lambda)-parent) - t.params.Gamma
			if gain > bestGain {
				bestFeature = f
				bestThreshold = (samples[idx][f] + samples[order[pos+1]][f]) / 2
				bestGain = gain
			}
		}
	}
	return bestFeature, bestThreshold, bestGain
}

func (t *Trainer) leafWeight(sumG, sumH float64) float64 {
	return -sumG / (sumH + t.params.Lambda) * t.params.Eta
}
