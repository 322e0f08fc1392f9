package pipeline

import (
	"fmt"

	"inferserve/explain"
	"inferserve/ml"
)

// AlignedPredictor 把模型的类别列重排为目标类别顺序
func AlignedPredictor(clf ml.Classifier, targetClasses []string) (explain.PredictFunc, error) {
	modelClasses := clf.Classes()
	if len(modelClasses) != len(targetClasses) {
		return nil, fmt.Errorf("model has %d classes, schema declares %d", len(modelClasses), len(targetClasses))
	}
	position := make(map[string]int, len(modelClasses))
	for i, c := range modelClasses {
		position[c] = i
	}
	order := make([]int, len(targetClasses))
	for i, c := range targetClasses {
		j, ok := position[c]
		if !ok {
			return nil, fmt.Errorf("target class %q unknown to model", c)
		}
		order[i] = j
	}

	return func(rows [][]float64) ([][]float64, error) {
		raw, err := clf.PredictProba(rows)
		if err != nil {
			return nil, err
		}
		if len(raw) != len(rows) {
			return nil, fmt.Errorf("predictor returned %d rows for %d inputs", len(raw), len(rows))
		}
		out := make([][]float64, len(raw))
		for i, probs := range raw {
			if len(probs) != len(modelClasses) {
				return nil, fmt.Errorf("predictor returned %d probabilities for row %d, expected %d", len(probs), i, len(modelClasses))
			}
			aligned := make([]float64, len(order))
			for k, j := range order {
				aligned[k] = probs[j]
			}
			out[i] = aligned
		}
		return out, nil
	}, nil
}

// Predict 调用预测器一次，在部分响应的基础上生成完整预测响应
func Predict(rc *RequestContext, clf ml.Classifier, tf *TransformedFeatures, partial *PredictionsResponse) (resp *PredictionsResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = &PredictionError{RequestID: rc.RequestID, Err: fmt.Errorf("predictor panicked: %v", r)}
		}
	}()

	predict, err := AlignedPredictor(clf, partial.TargetClasses)
	if err != nil {
		return nil, &PredictionError{RequestID: rc.RequestID, Err: err}
	}
	probs, err := predict(tf.Rows)
	if err != nil {
		return nil, &PredictionError{RequestID: rc.RequestID, Err: err}
	}

	out := *partial
	out.TargetClasses = append([]string(nil), partial.TargetClasses...)
	out.Predictions = make([]Prediction, len(probs))
	for i, row := range probs {
		rounded := make([]float64, len(row))
		for k, p := range row {
			rounded[k] = ml.Round(p, ProbabilityDecimals)
		}
		out.Predictions[i] = Prediction{
			SampleID:               tf.IDs[i],
			PredictedClass:         out.TargetClasses[ml.Argmax(row)],
			PredictedProbabilities: rounded,
		}
	}
	return &out, nil
}
