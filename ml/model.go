package ml

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

type Classifier interface {
	Classes() []string
	Features() []string
	PredictProba(rows [][]float64) ([][]float64, error)
}

type Trainable interface {
	Classifier
	Train(features [][]float64, labels []int) error
	Save(path string) error
}

const (
	TypeDecisionTree       = "decision_tree"
	TypeLogisticRegression = "logistic_regression"
)

type modelArtifact struct {
	Type     string          `json:"type"`
	Classes  []string        `json:"classes"`
	Features []string        `json:"features"`
	Params   json.RawMessage `json:"params"`
}

func writeArtifact(path, modelType string, classes, features []string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(modelArtifact{
		Type:     modelType,
		Classes:  classes,
		Features: features,
		Params:   raw,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

func readArtifact(path string) (*modelArtifact, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read model")
	}
	var artifact modelArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, errors.Wrap(err, "decode model")
	}
	if len(artifact.Classes) < 2 {
		return nil, fmt.Errorf("model declares %d classes, need at least 2", len(artifact.Classes))
	}
	if len(artifact.Features) == 0 {
		return nil, errors.New("model declares no features")
	}
	return &artifact, nil
}

func checkRows(rows [][]float64, width int) error {
	if len(rows) == 0 {
		return errors.New("no rows to predict")
	}
	for i, row := range rows {
		if len(row) != width {
			return fmt.Errorf("row %d has %d columns, model expects %d", i, len(row), width)
		}
	}
	return nil
}
