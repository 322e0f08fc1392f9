package pipeline

import (
	"time"

	"go.uber.org/zap"

	"inferserve/monitoring"
	"inferserve/resources"
	"inferserve/schema"
)

// Runner 串联各阶段，持有只读资源包，可被并发请求共享
type Runner struct {
	bundle      *resources.Bundle
	transformer *Transformer
	newID       IDGenerator
	log         *zap.Logger
	metrics     *monitoring.Metrics
}

// NewRunner 创建流水线，log与metrics可为nil
func NewRunner(b *resources.Bundle, log *zap.Logger, metrics *monitoring.Metrics) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		bundle:      b,
		transformer: NewTransformer(b.Schema, b.Preprocessor),
		newID:       NewRequestID,
		log:         log,
		metrics:     metrics,
	}
}

// WithIDGenerator 替换请求ID生成器
func (p *Runner) WithIDGenerator(gen IDGenerator) *Runner {
	cp := *p
	cp.newID = gen
	return &cp
}

// Bundle 资源包
func (p *Runner) Bundle() *resources.Bundle {
	return p.bundle
}

// Identify 为新请求分配ID
func (p *Runner) Identify() *RequestContext {
	rc := NewRequestContext(p.newID)
	p.log.Info("request identified", zap.String("request_id", rc.RequestID))
	return rc
}

// Infer 转换并预测
func (p *Runner) Infer(rc *RequestContext, req *schema.InferenceRequest) (*PredictionsResponse, error) {
	start := time.Now()
	tf, partial, err := p.transformer.Transform(rc, req)
	if err != nil {
		return nil, err
	}
	p.advance(rc, StageTransformed, start, zap.Int("instances", tf.Len()))

	start = time.Now()
	resp, err := Predict(rc, p.bundle.Predictor, tf, partial)
	if err != nil {
		return nil, err
	}
	p.advance(rc, StagePredicted, start)
	return resp, nil
}

// Explain 转换、预测并解释，任一步失败则整个请求失败
func (p *Runner) Explain(rc *RequestContext, req *schema.InferenceRequest) (*CombinedResponse, error) {
	start := time.Now()
	tf, partial, err := p.transformer.Transform(rc, req)
	if err != nil {
		return nil, err
	}
	p.advance(rc, StageTransformed, start, zap.Int("instances", tf.Len()))

	start = time.Now()
	pred, err := Predict(rc, p.bundle.Predictor, tf, partial)
	if err != nil {
		return nil, err
	}
	p.advance(rc, StagePredicted, start)

	start = time.Now()
	expl, err := Explain(rc, p.bundle.Explainer, p.bundle.Predictor, tf, pred.TargetClasses)
	if err != nil {
		return nil, err
	}
	p.advance(rc, StageExplained, start)

	start = time.Now()
	resp := Compose(pred, expl, p.bundle.Explainer.Method(), p.bundle.Schema.Target.Description)
	p.advance(rc, StageComposed, start)
	return resp, nil
}

func (p *Runner) advance(rc *RequestContext, stage Stage, start time.Time, fields ...zap.Field) {
	rc.Advance(stage)
	p.metrics.ObserveStage(string(stage), start)
	fields = append(fields,
		zap.String("request_id", rc.RequestID),
		zap.String("stage", string(stage)),
		zap.Duration("elapsed", time.Since(start)),
	)
	p.log.Info("stage complete", fields...)
}
