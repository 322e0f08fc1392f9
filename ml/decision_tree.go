package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

const maxSplitCandidates = 32

type DecisionTree struct {
	classes  []string
	features []string
	maxDepth int
	nodes    []TreeNode
}

type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	Probs      []float64 `json:"probs"`
	IsLeaf     bool      `json:"is_leaf"`
}

type treeParams struct {
	MaxDepth int        `json:"max_depth"`
	Nodes    []TreeNode `json:"nodes"`
}

func NewDecisionTree(classes, features []string, maxDepth int) *DecisionTree {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	return &DecisionTree{
		classes:  append([]string(nil), classes...),
		features: append([]string(nil), features...),
		maxDepth: maxDepth,
	}
}

func (dt *DecisionTree) Classes() []string  { return append([]string(nil), dt.classes...) }
func (dt *DecisionTree) Features() []string { return append([]string(nil), dt.features...) }

func (dt *DecisionTree) Train(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if err := checkRows(features, len(dt.features)); err != nil {
		return err
	}
	for _, label := range labels {
		if label < 0 || label >= len(dt.classes) {
			return fmt.Errorf("label %d out of range for %d classes", label, len(dt.classes))
		}
	}

	dt.nodes = dt.buildNode(features, labels, 0)
	return nil
}

func (dt *DecisionTree) PredictProba(rows [][]float64) ([][]float64, error) {
	if len(dt.nodes) == 0 {
		return nil, errors.New("model not trained")
	}
	if err := checkRows(rows, len(dt.features)); err != nil {
		return nil, err
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		probs, err := dt.predictRow(row)
		if err != nil {
			return nil, err
		}
		out[i] = append([]float64(nil), probs...)
	}
	return out, nil
}

func (dt *DecisionTree) predictRow(features []float64) ([]float64, error) {
	idx := 0
	for steps := 0; steps <= len(dt.nodes); steps++ {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.Probs, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
	return nil, errors.New("invalid tree state")
}

func (dt *DecisionTree) Save(path string) error {
	if len(dt.nodes) == 0 {
		return errors.New("model not trained")
	}
	return writeArtifact(path, TypeDecisionTree, dt.classes, dt.features, treeParams{
		MaxDepth: dt.maxDepth,
		Nodes:    dt.nodes,
	})
}

func (dt *DecisionTree) Load(path string) error {
	artifact, err := readArtifact(path)
	if err != nil {
		return err
	}
	if artifact.Type != TypeDecisionTree {
		return fmt.Errorf("model type %q is not %s", artifact.Type, TypeDecisionTree)
	}
	return dt.fromArtifact(artifact)
}

func (dt *DecisionTree) fromArtifact(artifact *modelArtifact) error {
	var params treeParams
	if err := json.Unmarshal(artifact.Params, &params); err != nil {
		return err
	}
	if len(params.Nodes) == 0 {
		return errors.New("model not trained")
	}
	for i, node := range params.Nodes {
		if node.IsLeaf && len(node.Probs) != len(artifact.Classes) {
			return fmt.Errorf("leaf %d has %d probabilities, expected %d", i, len(node.Probs), len(artifact.Classes))
		}
	}
	dt.classes = artifact.Classes
	dt.features = artifact.Features
	dt.maxDepth = params.MaxDepth
	dt.nodes = params.Nodes
	return nil
}

func (dt *DecisionTree) buildNode(features [][]float64, labels []int, depth int) []TreeNode {
	leaf := []TreeNode{{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Probs:      classDistribution(labels, len(dt.classes)),
		IsLeaf:     true,
	}}
	if depth >= dt.maxDepth || isPure(labels) {
		return leaf
	}

	bestFeature, threshold, ok := findBestSplit(features, labels)
	if !ok {
		return leaf
	}

	leftFeatures, leftLabels, rightFeatures, rightLabels := splitData(features, labels, bestFeature, threshold)
	if len(leftLabels) == 0 || len(rightLabels) == 0 {
		return leaf
	}

	leftNodes := dt.buildNode(leftFeatures, leftLabels, depth+1)
	rightNodes := dt.buildNode(rightFeatures, rightLabels, depth+1)

	root := TreeNode{
		FeatureIdx: bestFeature,
		Threshold:  threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
		IsLeaf:     false,
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	for _, n := range leftNodes {
		nodes = append(nodes, shiftNode(n, 1))
	}
	for _, n := range rightNodes {
		nodes = append(nodes, shiftNode(n, 1+len(leftNodes)))
	}
	return nodes
}

// 子树挂载前，子节点下标相对于子树
func shiftNode(n TreeNode, offset int) TreeNode {
	if !n.IsLeaf {
		n.LeftChild += offset
		n.RightChild += offset
	}
	return n
}

func findBestSplit(features [][]float64, labels []int) (int, float64, bool) {
	featureCount := len(features[0])
	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64

	for featureIdx := 0; featureIdx < featureCount; featureIdx++ {
		values := make([]float64, len(features))
		for i := range features {
			values[i] = features[i][featureIdx]
		}
		for _, threshold := range splitCandidates(values) {
			leftLabels, rightLabels := splitLabels(features, labels, featureIdx, threshold)
			if len(leftLabels) == 0 || len(rightLabels) == 0 {
				continue
			}
			impurity := weightedGini(leftLabels, rightLabels)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = featureIdx
				bestThreshold = threshold
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

// splitCandidates 排序去重后相邻值的中点，均匀抽取至多maxSplitCandidates个
func splitCandidates(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	unique := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != unique[len(unique)-1] {
			unique = append(unique, v)
		}
	}
	if len(unique) < 2 {
		return nil
	}
	mids := make([]float64, len(unique)-1)
	for i := 1; i < len(unique); i++ {
		mids[i-1] = (unique[i-1] + unique[i]) / 2
	}
	if len(mids) <= maxSplitCandidates {
		return mids
	}
	thinned := make([]float64, maxSplitCandidates)
	step := float64(len(mids)-1) / float64(maxSplitCandidates-1)
	for i := range thinned {
		thinned[i] = mids[int(math.Round(float64(i)*step))]
	}
	return thinned
}

func splitData(features [][]float64, labels []int, featureIdx int, threshold float64) ([][]float64, []int, [][]float64, []int) {
	leftFeatures := make([][]float64, 0)
	leftLabels := make([]int, 0)
	rightFeatures := make([][]float64, 0)
	rightLabels := make([]int, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftFeatures = append(leftFeatures, feature)
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightFeatures = append(rightFeatures, feature)
			rightLabels = append(rightLabels, labels[i])
		}
	}
	return leftFeatures, leftLabels, rightFeatures, rightLabels
}

func splitLabels(features [][]float64, labels []int, featureIdx int, threshold float64) ([]int, []int) {
	leftLabels := make([]int, 0)
	rightLabels := make([]int, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightLabels = append(rightLabels, labels[i])
		}
	}
	return leftLabels, rightLabels
}

func weightedGini(leftLabels, rightLabels []int) float64 {
	leftWeight := float64(len(leftLabels))
	rightWeight := float64(len(rightLabels))
	total := leftWeight + rightWeight
	return (leftWeight/total)*gini(leftLabels) + (rightWeight/total)*gini(rightLabels)
}

func gini(labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	counts := make(map[int]int)
	for _, label := range labels {
		counts[label]++
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(len(labels))
		impurity -= prob * prob
	}
	return impurity
}

func classDistribution(labels []int, classCount int) []float64 {
	probs := make([]float64, classCount)
	if len(labels) == 0 {
		for i := range probs {
			probs[i] = 1 / float64(classCount)
		}
		return probs
	}
	for _, label := range labels {
		probs[label]++
	}
	for i := range probs {
		probs[i] /= float64(len(labels))
	}
	return probs
}

func isPure(labels []int) bool {
	if len(labels) == 0 {
		return true
	}
	first := labels[0]
	for _, label := range labels[1:] {
		if label != first {
			return false
		}
	}
	return true
}
