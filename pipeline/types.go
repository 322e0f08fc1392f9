// Package pipeline 请求到响应的推理流水线：标识、转换、预测、解释与响应组装
package pipeline

// StatusSuccess 成功响应状态
const StatusSuccess = "success"

// ProbabilityDecimals 概率与解释分数保留的小数位数
const ProbabilityDecimals = 5

// TransformedFeatures 模型可直接使用的特征矩阵，行顺序与请求实例一致
type TransformedFeatures struct {
	IDs     []string
	Columns []string
	Rows    [][]float64
}

// Len 行数
func (tf *TransformedFeatures) Len() int {
	if tf == nil {
		return 0
	}
	return len(tf.Rows)
}

// Prediction 单个实例的预测
type Prediction struct {
	SampleID               string    `json:"sampleId"`
	PredictedClass         string    `json:"predictedClass"`
	PredictedProbabilities []float64 `json:"predictedProbabilities"`
}

// PredictionsResponse /infer 响应
type PredictionsResponse struct {
	Status        string       `json:"status"`
	Message       string       `json:"message"`
	Timestamp     string       `json:"timestamp"`
	RequestID     string       `json:"requestId"`
	TargetClasses []string     `json:"targetClasses"`
	Predictions   []Prediction `json:"predictions"`
}

// Explanation 单个实例的特征归因
type Explanation struct {
	SampleID      string                        `json:"sampleId"`
	Baseline      map[string]float64            `json:"baseline"`
	FeatureScores map[string]map[string]float64 `json:"featureScores"`
}

// ExplanationSet 与TransformedFeatures逐行对齐的解释
type ExplanationSet []Explanation

// CombinedResponse /explain 响应
type CombinedResponse struct {
	PredictionsResponse
	ExplanationMethod string         `json:"explanationMethod"`
	TargetDescription string         `json:"targetDescription"`
	Explanations      ExplanationSet `json:"explanations"`
}

// ValidationErrorResponse 请求校验失败(400)的响应体
type ValidationErrorResponse struct {
	Status      string      `json:"status"`
	Message     string      `json:"message"`
	Predictions interface{} `json:"predictions"`
}

// FailureResponse 流水线失败(500)的响应体
type FailureResponse struct {
	Detail string `json:"detail"`
}
