package pipeline

import "time"

// Stage 请求处理阶段
type Stage string

const (
	StageReceived    Stage = "RECEIVED"
	StageIdentified  Stage = "IDENTIFIED"
	StageTransformed Stage = "TRANSFORMED"
	StagePredicted   Stage = "PREDICTED"
	StageExplained   Stage = "EXPLAINED"
	StageComposed    Stage = "COMPOSED"
	StageResponded   Stage = "RESPONDED"
	StageFailed      Stage = "FAILED"
)

// RequestContext 单个请求的上下文，只属于处理该请求的goroutine
type RequestContext struct {
	RequestID  string
	ReceivedAt time.Time

	stage Stage
}

// NewRequestContext 使用生成器分配请求ID
func NewRequestContext(gen IDGenerator) *RequestContext {
	if gen == nil {
		gen = NewRequestID
	}
	return &RequestContext{
		RequestID:  gen(),
		ReceivedAt: time.Now().UTC(),
		stage:      StageIdentified,
	}
}

// Stage 当前阶段
func (rc *RequestContext) Stage() Stage {
	return rc.stage
}

// Advance 推进阶段，FAILED与RESPONDED为终止阶段
func (rc *RequestContext) Advance(next Stage) {
	if rc.stage == StageFailed || rc.stage == StageResponded {
		return
	}
	rc.stage = next
}

// Timestamp 响应时间戳（RFC3339, UTC）
func (rc *RequestContext) Timestamp() string {
	return rc.ReceivedAt.Format(time.RFC3339)
}
