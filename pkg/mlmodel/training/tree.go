package training

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// treeNode is a binary regression tree node
type treeNode struct {
	Feature   int
	Threshold float64
	Left      *treeNode
	Right     *treeNode
	Value     float64 // Leaf prediction value
	IsLeaf    bool
}

func leaf(value float64) *treeNode {
	return &treeNode{IsLeaf: true, Value: value}
}

// predict walks the tree for one row
func (n *treeNode) predict(row []float64) float64 {
	node := n
	for !node.IsLeaf {
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

func (n *treeNode) depth() int {
	if n == nil || n.IsLeaf {
		return 0
	}
	l, r := n.Left.depth(), n.Right.depth()
	if l > r {
		return l + 1
	}
	return r + 1
}

// regressionTreeBuilder grows a variance-reduction tree over row indices
type regressionTreeBuilder struct {
	maxDepth        int
	minSamplesSplit int
	candidates      []int     // feature indices this tree may split on
	importance      []float64 // accumulated SSE reduction per feature
}

func (b *regressionTreeBuilder) build(X [][]float64, y []float64, idx []int) *treeNode {
	return b.buildTree(X, y, idx, 0)
}

// buildTree recursively builds a regression tree
func (b *regressionTreeBuilder) buildTree(X [][]float64, y []float64, idx []int, depth int) *treeNode {
	value := meanAt(y, idx)

	// Stop conditions
	if depth >= b.maxDepth || len(idx) < b.minSamplesSplit || isHomogeneousAt(y, idx) {
		return leaf(value)
	}

	feature, threshold, gain := b.findBestSplit(X, y, idx)
	if gain <= 0 {
		return leaf(value)
	}
	b.importance[feature] += gain

	left, right := partition(X, idx, feature, threshold)
	return &treeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      b.buildTree(X, y, left, depth+1),
		Right:     b.buildTree(X, y, right, depth+1),
	}
}

// findBestSplit scans every candidate feature for the threshold with the largest SSE reduction.
// Thresholds sit at midpoints between consecutive distinct values.
func (b *regressionTreeBuilder) findBestSplit(X [][]float64, y []float64, idx []int) (int, float64, float64) {
	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0

	var total, totalSq float64
	for _, i := range idx {
		total += y[i]
		totalSq += y[i] * y[i]
	}
	n := float64(len(idx))
	parentSSE := totalSq - total*total/n

	sorted := make([]int, len(idx))
	for _, feature := range b.candidates {
		sortByFeature(sorted, idx, X, feature)

		var leftSum, leftSq float64
		for k := 0; k < len(sorted)-1; k++ {
			yi := y[sorted[k]]
			leftSum += yi
			leftSq += yi * yi

			cur, next := X[sorted[k]][feature], X[sorted[k+1]][feature]
			if cur == next {
				continue
			}
			nl := float64(k + 1)
			nr := n - nl
			rightSum := total - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/nl) + (rightSq - rightSum*rightSum/nr)
			if gain := parentSSE - sse; gain > bestGain+1e-12 {
				bestFeature, bestThreshold, bestGain = feature, (cur+next)/2, gain
			}
		}
	}
	if bestFeature < 0 {
		return 0, 0, 0
	}
	return bestFeature, bestThreshold, bestGain
}

// sortByFeature copies idx into dst ordered by the feature value
func sortByFeature(dst, idx []int, X [][]float64, feature int) {
	copy(dst, idx)
	sort.SliceStable(dst, func(a, b int) bool {
		return X[dst[a]][feature] < X[dst[b]][feature]
	})
}

func partition(X [][]float64, idx []int, feature int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func meanAt(values []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range idx {
		sum += values[i]
	}
	return sum / float64(len(idx))
}

func isHomogeneousAt(values []float64, idx []int) bool {
	if len(idx) == 0 {
		return true
	}
	first := values[idx[0]]
	for _, i := range idx {
		if values[i] != first {
			return false
		}
	}
	return true
}

// normalizeImportance scales scores to sum to one and labels them
func normalizeImportance(scores []float64, names []string) map[string]float64 {
	out := make(map[string]float64, len(scores))
	total := floats.Sum(scores)
	for i, s := range scores {
		if total > 0 {
			s /= total
		}
		out[featureName(names, i)] = s
	}
	return out
}
