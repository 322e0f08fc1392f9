package pipeline

// Compose 合并预测与解释，不修改输入
func Compose(pred *PredictionsResponse, expl ExplanationSet, method, targetDescription string) *CombinedResponse {
	out := &CombinedResponse{
		PredictionsResponse: copyPredictions(pred),
		ExplanationMethod:   method,
		TargetDescription:   targetDescription,
		Explanations:        make(ExplanationSet, len(expl)),
	}
	for i, e := range expl {
		out.Explanations[i] = copyExplanation(e)
	}
	return out
}

func copyPredictions(pred *PredictionsResponse) PredictionsResponse {
	out := *pred
	out.TargetClasses = append([]string(nil), pred.TargetClasses...)
	out.Predictions = make([]Prediction, len(pred.Predictions))
	for i, p := range pred.Predictions {
		p.PredictedProbabilities = append([]float64(nil), p.PredictedProbabilities...)
		out.Predictions[i] = p
	}
	return out
}

func copyExplanation(e Explanation) Explanation {
	out := Explanation{
		SampleID:      e.SampleID,
		Baseline:      make(map[string]float64, len(e.Baseline)),
		FeatureScores: make(map[string]map[string]float64, len(e.FeatureScores)),
	}
	for k, v := range e.Baseline {
		out.Baseline[k] = v
	}
	for class, scores := range e.FeatureScores {
		m := make(map[string]float64, len(scores))
		for f, v := range scores {
			m[f] = v
		}
		out.FeatureScores[class] = m
	}
	return out
}
