package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type LogisticRegression struct {
	classes  []string
	features []string

	LearningRate float64
	Epochs       int
	L2           float64

	weights [][]float64
	bias    []float64
}

type logisticParams struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

func NewLogisticRegression(classes, features []string) *LogisticRegression {
	return &LogisticRegression{
		classes:      append([]string(nil), classes...),
		features:     append([]string(nil), features...),
		LearningRate: 0.1,
		Epochs:       300,
		L2:           1e-4,
	}
}

func (lr *LogisticRegression) Classes() []string  { return append([]string(nil), lr.classes...) }
func (lr *LogisticRegression) Features() []string { return append([]string(nil), lr.features...) }

func (lr *LogisticRegression) Train(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if err := checkRows(features, len(lr.features)); err != nil {
		return err
	}
	k, d := len(lr.classes), len(lr.features)
	for _, label := range labels {
		if label < 0 || label >= k {
			return fmt.Errorf("label %d out of range for %d classes", label, k)
		}
	}

	lr.weights = make([][]float64, k)
	for c := range lr.weights {
		lr.weights[c] = make([]float64, d)
	}
	lr.bias = make([]float64, k)

	n := float64(len(features))
	gradW := make([][]float64, k)
	for c := range gradW {
		gradW[c] = make([]float64, d)
	}
	gradB := make([]float64, k)

	for epoch := 0; epoch < lr.Epochs; epoch++ {
		for c := 0; c < k; c++ {
			for j := range gradW[c] {
				gradW[c][j] = 0
			}
			gradB[c] = 0
		}
		for i, row := range features {
			probs := lr.softmax(row)
			for c := 0; c < k; c++ {
				diff := probs[c]
				if labels[i] == c {
					diff -= 1
				}
				for j, x := range row {
					gradW[c][j] += diff * x
				}
				gradB[c] += diff
			}
		}
		for c := 0; c < k; c++ {
			for j := 0; j < d; j++ {
				lr.weights[c][j] -= lr.LearningRate * (gradW[c][j]/n + lr.L2*lr.weights[c][j])
			}
			lr.bias[c] -= lr.LearningRate * gradB[c] / n
		}
	}
	return nil
}

func (lr *LogisticRegression) PredictProba(rows [][]float64) ([][]float64, error) {
	if len(lr.weights) == 0 {
		return nil, errors.New("model not trained")
	}
	if err := checkRows(rows, len(lr.features)); err != nil {
		return nil, err
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = lr.softmax(row)
	}
	return out, nil
}

func (lr *LogisticRegression) softmax(row []float64) []float64 {
	scores := make([]float64, len(lr.weights))
	maxScore := math.Inf(-1)
	for c, w := range lr.weights {
		s := lr.bias[c]
		for j, x := range row {
			s += w[j] * x
		}
		scores[c] = s
		if s > maxScore {
			maxScore = s
		}
	}
	sum := 0.0
	for c := range scores {
		scores[c] = math.Exp(scores[c] - maxScore)
		sum += scores[c]
	}
	for c := range scores {
		scores[c] /= sum
	}
	return scores
}

func (lr *LogisticRegression) Save(path string) error {
	if len(lr.weights) == 0 {
		return errors.New("model not trained")
	}
	return writeArtifact(path, TypeLogisticRegression, lr.classes, lr.features, logisticParams{
		Weights: lr.weights,
		Bias:    lr.bias,
	})
}

func (lr *LogisticRegression) fromArtifact(artifact *modelArtifact) error {
	var params logisticParams
	if err := json.Unmarshal(artifact.Params, &params); err != nil {
		return err
	}
	if len(params.Weights) != len(artifact.Classes) || len(params.Bias) != len(artifact.Classes) {
		return fmt.Errorf("weights/bias do not match %d classes", len(artifact.Classes))
	}
	for c, w := range params.Weights {
		if len(w) != len(artifact.Features) {
			return fmt.Errorf("class %d has %d weights, expected %d", c, len(w), len(artifact.Features))
		}
	}
	lr.classes = artifact.Classes
	lr.features = artifact.Features
	lr.weights = params.Weights
	lr.bias = params.Bias
	return nil
}
