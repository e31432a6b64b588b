package analytics

import (
	"math"
	"math/rand/v2"
	"sort"
)

// isolationForest scores one-dimensional samples by how quickly random
// splits isolate them. Scores near 1 isolate fast; scores well below 0.5 sit
// in dense regions.
type isolationForest struct {
	trees      []*iNode
	sampleSize int
}

type iNode struct {
	split       float64
	left, right *iNode
	size        int // leaf only
}

func (n *iNode) leaf() bool { return n.left == nil }

// fitForest grows trees over random subsamples of xs. The same seed and input
// always produce the same forest.
func fitForest(xs []float64, trees, sampleSize int, seed uint64) *isolationForest {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	psi := min(sampleSize, len(xs))
	maxDepth := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	f := &isolationForest{sampleSize: psi}
	sample := make([]float64, psi)
	for range trees {
		for i, j := range rng.Perm(len(xs))[:psi] {
			sample[i] = xs[j]
		}
		f.trees = append(f.trees, growTree(rng, sample, 0, maxDepth))
	}
	return f
}

func growTree(rng *rand.Rand, xs []float64, depth, maxDepth int) *iNode {
	if len(xs) <= 1 || depth >= maxDepth {
		return &iNode{size: len(xs)}
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}
	if lo == hi {
		return &iNode{size: len(xs)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right []float64
	for _, x := range xs {
		if x < split {
			left = append(left, x)
		} else {
			right = append(right, x)
		}
	}
	return &iNode{
		split: split,
		left:  growTree(rng, left, depth+1, maxDepth),
		right: growTree(rng, right, depth+1, maxDepth),
	}
}

func pathLength(n *iNode, x float64, depth int) float64 {
	for !n.leaf() {
		if x < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + avgPathLength(n.size)
}

// avgPathLength is the mean depth of an unsuccessful search in a binary
// search tree of n nodes.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	const eulerGamma = 0.5772156649015329
	m := float64(n - 1)
	return 2*(math.Log(m)+eulerGamma) - 2*m/float64(n)
}

func (f *isolationForest) score(x float64) float64 {
	if len(f.trees) == 0 || f.sampleSize < 2 {
		return 0
	}
	var sum float64
	for _, t := range f.trees {
		sum += pathLength(t, x, 0)
	}
	mean := sum / float64(len(f.trees))
	return math.Pow(2, -mean/avgPathLength(f.sampleSize))
}

// percentile returns the p-th percentile (0..100) of xs using linear
// interpolation between closest ranks.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	pos := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return s[lo]
	}
	return s[lo] + (s[hi]-s[lo])*(pos-float64(lo))
}

// outlierFlags marks the samples whose score is strictly above the
// (1-contamination) percentile of all scores.
func outlierFlags(xs []float64, contamination float64, trees, sampleSize int, seed uint64) ([]bool, []float64) {
	flags := make([]bool, len(xs))
	if len(xs) < 2 || contamination <= 0 {
		return flags, make([]float64, len(xs))
	}
	f := fitForest(xs, trees, sampleSize, seed)
	scores := make([]float64, len(xs))
	for i, x := range xs {
		scores[i] = f.score(x)
	}
	threshold := percentile(scores, 100*(1-contamination))
	for i, s := range scores {
		flags[i] = s > threshold
	}
	return flags, scores
}
