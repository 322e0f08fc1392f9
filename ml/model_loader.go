package ml

import (
	"errors"
)

func LoadModel(path string) (Classifier, error) {
	artifact, err := readArtifact(path)
	if err != nil {
		return nil, err
	}
	switch artifact.Type {
	case TypeDecisionTree:
		model := &DecisionTree{}
		if err := model.fromArtifact(artifact); err != nil {
			return nil, err
		}
		return model, nil
	case TypeLogisticRegression:
		model := &LogisticRegression{}
		if err := model.fromArtifact(artifact); err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, errors.New("unsupported model type")
	}
}

func NewModel(modelType string, classes, features []string, maxDepth int) (Trainable, error) {
	switch modelType {
	case TypeDecisionTree:
		return NewDecisionTree(classes, features, maxDepth), nil
	case TypeLogisticRegression:
		return NewLogisticRegression(classes, features), nil
	default:
		return nil, errors.New("unsupported model type")
	}
}
