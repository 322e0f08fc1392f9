package logger

import (
	"go.uber.org/zap"
)

// ReportContext 错误上下文
type ReportContext struct {
	Message   string
	Err       error
	RequestID string
	Stage     string
}

// Reporter 将失败同时写入通用日志与错误日志
type Reporter struct {
	general *zap.Logger
	errs    *zap.Logger
}

// NewReporter 创建错误上报器
func NewReporter(l *Logger) *Reporter {
	return &Reporter{general: l.Logger, errs: l.ErrorSink()}
}

// Report 记录一次失败，从不panic，日志写入失败不会掩盖原始错误
func (r *Reporter) Report(rc ReportContext) {
	defer func() {
		_ = recover()
	}()

	fields := []zap.Field{zap.Error(rc.Err)}
	if rc.RequestID != "" {
		fields = append(fields, zap.String("request_id", rc.RequestID))
	}
	if rc.Stage != "" {
		fields = append(fields, zap.String("stage", rc.Stage))
	}

	// 两个输出分别保护，一个写入失败不影响另一个
	func() {
		defer func() { _ = recover() }()
		r.general.Error(rc.Message, fields...)
	}()
	func() {
		defer func() { _ = recover() }()
		r.errs.Error(rc.Message, fields...)
	}()
}
