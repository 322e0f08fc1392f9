package pipeline

import (
	"context"
	"fmt"

	"inferserve/explain"
	"inferserve/ml"
)

// Explain 对同一批转换后的特征生成逐行解释，不随客户端断开而取消
func Explain(rc *RequestContext, ex explain.Explainer, clf ml.Classifier, tf *TransformedFeatures, classNames []string) (set ExplanationSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			set = nil
			err = &ExplanationError{RequestID: rc.RequestID, Err: fmt.Errorf("explainer panicked: %v", r)}
		}
	}()
	fail := func(err error) (ExplanationSet, error) {
		return nil, &ExplanationError{RequestID: rc.RequestID, Err: err}
	}

	predict, err := AlignedPredictor(clf, classNames)
	if err != nil {
		return fail(err)
	}
	attrs, err := ex.Explain(context.Background(), tf.Rows, predict, classNames)
	if err != nil {
		return fail(err)
	}
	if len(attrs) != tf.Len() {
		return fail(fmt.Errorf("explainer returned %d explanations for %d rows", len(attrs), tf.Len()))
	}

	set = make(ExplanationSet, len(attrs))
	for i, attr := range attrs {
		if len(attr.Baseline) != len(classNames) || len(attr.Values) != len(classNames) {
			return fail(fmt.Errorf("explanation %d covers %d classes, expected %d", i, len(attr.Values), len(classNames)))
		}
		exp := Explanation{
			SampleID:      tf.IDs[i],
			Baseline:      make(map[string]float64, len(classNames)),
			FeatureScores: make(map[string]map[string]float64, len(classNames)),
		}
		for c, class := range classNames {
			if len(attr.Values[c]) != len(tf.Columns) {
				return fail(fmt.Errorf("explanation %d has %d scores for class %s, expected %d", i, len(attr.Values[c]), class, len(tf.Columns)))
			}
			exp.Baseline[class] = ml.Round(attr.Baseline[c], ProbabilityDecimals)
			scores := make(map[string]float64, len(tf.Columns))
			for j, feature := range tf.Columns {
				scores[feature] = ml.Round(attr.Values[c][j], ProbabilityDecimals)
			}
			exp.FeatureScores[class] = scores
		}
		set[i] = exp
	}
	return set, nil
}
