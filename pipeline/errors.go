package pipeline

import (
	"errors"
	"fmt"
)

// TransformError 请求转换失败
type TransformError struct {
	RequestID string
	Err       error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform request %s: %v", e.RequestID, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// PredictionError 预测器调用失败
type PredictionError struct {
	RequestID string
	Err       error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("predict request %s: %v", e.RequestID, e.Err)
}

func (e *PredictionError) Unwrap() error { return e.Err }

// ExplanationError 解释器调用失败
type ExplanationError struct {
	RequestID string
	Err       error
}

func (e *ExplanationError) Error() string {
	return fmt.Sprintf("explain request %s: %v", e.RequestID, e.Err)
}

func (e *ExplanationError) Unwrap() error { return e.Err }

// FailedStage 返回失败的流水线阶段，非流水线错误返回FAILED
func FailedStage(err error) Stage {
	var (
		te *TransformError
		pe *PredictionError
		ee *ExplanationError
	)
	switch {
	case errors.As(err, &te):
		return StageTransformed
	case errors.As(err, &pe):
		return StagePredicted
	case errors.As(err, &ee):
		return StageExplained
	}
	return StageFailed
}

// Cause 流水线错误的原始原因
func Cause(err error) error {
	if inner := errors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}
