package lightgbm

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"nova-ml/internal/mlerr"
)

// Params are the training hyperparameters. Zero values are replaced by
// defaults in DefaultParams.
type Params struct {
	NumIterations  int     `yaml:"num_iterations" json:"num_iterations"`
	LearningRate   float64 `yaml:"learning_rate" json:"learning_rate"`
	NumLeaves      int     `yaml:"num_leaves" json:"num_leaves"`
	MaxDepth       int     `yaml:"max_depth" json:"max_depth"` // <= 0 means unlimited
	MinDataInLeaf  int     `yaml:"min_data_in_leaf" json:"min_data_in_leaf"`
	Lambda         float64 `yaml:"lambda" json:"lambda"`
	MinGainToSplit float64 `yaml:"min_gain_to_split" json:"min_gain_to_split"`
}

// DefaultParams mirrors the common LightGBM defaults.
func DefaultParams() Params {
	return Params{
		NumIterations: 100,
		LearningRate:  0.1,
		NumLeaves:     31,
		MaxDepth:      -1,
		MinDataInLeaf: 20,
		Lambda:        0.0,
	}
}

// Trainer fits a Model by leaf-wise boosting: at each step the leaf with the
// highest split gain anywhere in the tree is split first, until NumLeaves is
// reached or no split clears MinGainToSplit.
type Trainer struct {
	params    Params
	objective Objective
	numClass  int
}

// NewTrainer builds a trainer for the given objective. numClass is only
// consulted for ObjectiveMulticlass and must be >= 3 there.
func NewTrainer(params Params, obj Objective, numClass int) (*Trainer, error) {
	if params.NumIterations <= 0 {
		return nil, mlerr.New("lightgbm: num_iterations must be positive")
	}
	if params.LearningRate <= 0 {
		return nil, mlerr.New("lightgbm: learning_rate must be positive")
	}
	if params.NumLeaves < 2 {
		return nil, mlerr.New("lightgbm: num_leaves must be at least 2")
	}
	switch obj {
	case ObjectiveRegression, ObjectiveBinary:
		numClass = 1
	case ObjectiveMulticlass:
		if numClass < 3 {
			return nil, mlerr.New("lightgbm: multiclass requires at least 3 classes")
		}
	default:
		return nil, mlerr.Newf("lightgbm: unknown objective %q", obj)
	}
	return &Trainer{params: params, objective: obj, numClass: numClass}, nil
}

// Fit trains on a dense feature matrix and target vector. Classification
// targets must be class indices 0..numClass-1 encoded as float64.
func (t *Trainer) Fit(x mat.Matrix, y []float64) (*Model, error) {
	rows, cols := x.Dims()
	if rows == 0 || cols == 0 {
		return nil, mlerr.New("lightgbm: empty training matrix")
	}
	if len(y) != rows {
		return nil, mlerr.Newf("lightgbm: %d rows but %d targets", rows, len(y))
	}

	features := denseColumns(x, rows, cols)
	model := &Model{
		Objective:   t.objective,
		NumClass:    t.numClass,
		NumFeatures: cols,
	}

	if t.objective == ObjectiveMulticlass {
		t.fitMulticlass(model, features, y, rows)
		return model, nil
	}

	var obj objective
	if t.objective == ObjectiveBinary {
		obj = logisticObjective{}
	} else {
		obj = l2Objective{}
	}

	model.InitScore = obj.initScore(y)
	scores := make([]float64, rows)
	for i := range scores {
		scores[i] = model.InitScore
	}

	grads := make([]float64, rows)
	hess := make([]float64, rows)
	for iter := 0; iter < t.params.NumIterations; iter++ {
		for i := 0; i < rows; i++ {
			grads[i], hess[i] = obj.gradHess(scores[i], y[i])
		}
		tree := t.buildTree(features, grads, hess)
		model.Trees = append(model.Trees, tree)
		for i := 0; i < rows; i++ {
			scores[i] += tree.Predict(rowOf(features, i))
		}
	}
	return model, nil
}

// fitMulticlass boosts one tree per class per iteration against softmax
// gradients. Scores start at zero for every class.
func (t *Trainer) fitMulticlass(model *Model, features [][]float64, y []float64, rows int) {
	k := t.numClass
	scores := make([][]float64, rows)
	for i := range scores {
		scores[i] = make([]float64, k)
	}
	grads := make([]float64, rows)
	hess := make([]float64, rows)

	for iter := 0; iter < t.params.NumIterations; iter++ {
		probs := make([][]float64, rows)
		for i := 0; i < rows; i++ {
			probs[i] = softmax(scores[i])
		}
		for class := 0; class < k; class++ {
			for i := 0; i < rows; i++ {
				p := probs[i][class]
				target := 0.0
				if int(y[i]) == class {
					target = 1.0
				}
				grads[i] = p - target
				hess[i] = math.Max(p*(1-p), 1e-16)
			}
			tree := t.buildTree(features, grads, hess)
			model.Trees = append(model.Trees, tree)
			for i := 0; i < rows; i++ {
				scores[i][class] += tree.Predict(rowOf(features, i))
			}
		}
	}
}

// leafWork is a leaf awaiting a potential split, with its best candidate
// precomputed so growth can always pick the global maximum gain.
type leafWork struct {
	nodeIdx int
	indices []int
	depth   int
	split   splitInfo
	sumG    float64
	sumH    float64
}

type splitInfo struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

// buildTree grows one tree leaf-wise until NumLeaves is reached or no
// remaining leaf offers a gain above MinGainToSplit.
func (t *Trainer) buildTree(features [][]float64, grads, hess []float64) Tree {
	all := make([]int, len(grads))
	for i := range all {
		all[i] = i
	}

	tree := Tree{Shrinkage: t.params.LearningRate}
	tree.Nodes = append(tree.Nodes, Node{Left: -1, Right: -1})

	root := leafWork{nodeIdx: 0, indices: all, depth: 0}
	root.sumG, root.sumH = sums(all, grads, hess)
	root.split = t.bestSplit(features, grads, hess, all, root.sumG, root.sumH)

	open := []leafWork{root}
	numLeaves := 1

	for numLeaves < t.params.NumLeaves {
		best := -1
		for i, lw := range open {
			if lw.split.gain <= t.params.MinGainToSplit {
				continue
			}
			if best == -1 || lw.split.gain > open[best].split.gain {
				best = i
			}
		}
		if best == -1 {
			break
		}

		lw := open[best]
		open = append(open[:best], open[best+1:]...)

		leftIdx := len(tree.Nodes)
		tree.Nodes = append(tree.Nodes, Node{Left: -1, Right: -1})
		rightIdx := len(tree.Nodes)
		tree.Nodes = append(tree.Nodes, Node{Left: -1, Right: -1})

		tree.Nodes[lw.nodeIdx].Feature = lw.split.feature
		tree.Nodes[lw.nodeIdx].Threshold = lw.split.threshold
		tree.Nodes[lw.nodeIdx].Left = leftIdx
		tree.Nodes[lw.nodeIdx].Right = rightIdx
		tree.Nodes[lw.nodeIdx].Value = 0

		for _, child := range []struct {
			nodeIdx int
			indices []int
		}{{leftIdx, lw.split.left}, {rightIdx, lw.split.right}} {
			cw := leafWork{nodeIdx: child.nodeIdx, indices: child.indices, depth: lw.depth + 1}
			cw.sumG, cw.sumH = sums(child.indices, grads, hess)
			if t.params.MaxDepth <= 0 || cw.depth < t.params.MaxDepth {
				cw.split = t.bestSplit(features, grads, hess, child.indices, cw.sumG, cw.sumH)
			}
			open = append(open, cw)
		}
		numLeaves++
	}

	for _, lw := range open {
		tree.Nodes[lw.nodeIdx].Value = leafValue(lw.sumG, lw.sumH, t.params.Lambda)
	}
	return tree
}

// bestSplit scans every feature with the exact greedy method: sort sample
// indices by feature value and sweep boundaries between distinct values.
func (t *Trainer) bestSplit(features [][]float64, grads, hess []float64, indices []int, sumG, sumH float64) splitInfo {
	best := splitInfo{feature: -1, gain: math.Inf(-1)}
	if len(indices) < 2*t.params.MinDataInLeaf {
		return best
	}
	parentScore := scoreOf(sumG, sumH, t.params.Lambda)

	order := make([]int, len(indices))
	for f := range features {
		col := features[f]
		copy(order, indices)
		sort.Slice(order, func(a, b int) bool { return col[order[a]] < col[order[b]] })

		gLeft, hLeft := 0.0, 0.0
		for pos := 0; pos < len(order)-1; pos++ {
			idx := order[pos]
			gLeft += grads[idx]
			hLeft += hess[idx]
			if col[idx] == col[order[pos+1]] {
				continue
			}
			nLeft := pos + 1
			if nLeft < t.params.MinDataInLeaf || len(order)-nLeft < t.params.MinDataInLeaf {
				continue
			}
			gRight := sumG - gLeft
			hRight := sumH - hLeft
			gain := 0.5 * (scoreOf(gLeft, hLeft, t.params.Lambda) +
				scoreOf(gRight, hRight, t.params.Lambda) - parentScore)
			if gain > best.gain {
				best.feature = f
				best.threshold = (col[idx] + col[order[pos+1]]) / 2
				best.gain = gain
			}
		}
	}

	if best.feature >= 0 {
		col := features[best.feature]
		for _, idx := range indices {
			if col[idx] <= best.threshold {
				best.left = append(best.left, idx)
			} else {
				best.right = append(best.right, idx)
			}
		}
	}
	return best
}

func scoreOf(g, h, lambda float64) float64 {
	return g * g / (h + lambda)
}

func leafValue(g, h, lambda float64) float64 {
	if h+lambda == 0 {
		return 0
	}
	return -g / (h + lambda)
}

func sums(indices []int, grads, hess []float64) (float64, float64) {
	g, h := 0.0, 0.0
	for _, i := range indices {
		g += grads[i]
		h += hess[i]
	}
	return g, h
}

// denseColumns copies the matrix into column-major slices so split scans
// touch contiguous memory.
func denseColumns(x mat.Matrix, rows, cols int) [][]float64 {
	features := make([][]float64, cols)
	for c := 0; c < cols; c++ {
		col := make([]float64, rows)
		for r := 0; r < rows; r++ {
			col[r] = x.At(r, c)
		}
		features[c] = col
	}
	return features
}

func rowOf(features [][]float64, i int) []float64 {
	row := make([]float64, len(features))
	for c := range features {
		row[c] = features[c][i]
	}
	return row
}
