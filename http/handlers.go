package http

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"inferserve/config"
	"inferserve/logger"
	"inferserve/monitoring"
	"inferserve/pipeline"
	"inferserve/schema"
)

const (
	endpointInfer   = "/infer"
	endpointExplain = "/explain"
)

// Handler 推理服务路由层
type Handler struct {
	runner   *pipeline.Runner
	model    *schema.RequestModel
	log      *zap.Logger
	reporter *logger.Reporter
	metrics  *monitoring.Metrics
}

// NewHandler 创建路由层，metrics可为nil
func NewHandler(runner *pipeline.Runner, lg *logger.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{
		runner:   runner,
		model:    runner.Bundle().RequestModel,
		log:      lg.Logger,
		reporter: logger.NewReporter(lg),
		metrics:  metrics,
	}
}

// Router 注册路由与中间件
func (h *Handler) Router(cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(Chain(
		RecoveryMiddleware(h.log),               // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(h.log, h.metrics),      // 2. 日志中间件
		SecurityHeadersMiddleware,               // 3. 安全头中间件
		CORSMiddleware(cfg.AllowedOrigins),      // 4. CORS中间件
		RequestSizeMiddleware(cfg.MaxBodyBytes), // 5. 请求大小限制
	))

	r.Get("/ping", h.handlePing)
	r.Post(endpointInfer, h.handleInfer)
	r.Post(endpointExplain, h.handleExplain)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}
	return r
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	h.log.Info("Received ping request. Service is healthy...")
	OK(w, map[string]string{"message": "Pong!"})
}

func (h *Handler) handleInfer(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, endpointInfer)
	if !ok {
		return
	}

	rc := h.runner.Identify()
	h.log.Info("Responding to inference request", zap.String("request_id", rc.RequestID))
	resp, err := h.runner.Infer(rc, req)
	if err != nil {
		h.fail(w, rc, endpointInfer, "inference", err)
		return
	}
	h.count(endpointInfer, len(resp.Predictions))
	rc.Advance(pipeline.StageResponded)
	OK(w, resp)
}

func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, endpointExplain)
	if !ok {
		return
	}

	rc := h.runner.Identify()
	h.log.Info("Responding to explanation request", zap.String("request_id", rc.RequestID))
	resp, err := h.runner.Explain(rc, req)
	if err != nil {
		h.fail(w, rc, endpointExplain, "explanations", err)
		return
	}
	h.count(endpointExplain, len(resp.Predictions))
	rc.Advance(pipeline.StageResponded)
	OK(w, resp)
}

// decode 校验请求体，失败时写出400响应
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, endpoint string) (*schema.InferenceRequest, bool) {
	req, err := h.model.Decode(r.Body)
	if err == nil {
		return req, true
	}
	h.reporter.Report(logger.ReportContext{
		Message: "Validation error with request data.",
		Err:     err,
		Stage:   string(pipeline.StageReceived),
	})
	if h.metrics != nil {
		h.metrics.PipelineFailures.WithLabelValues(endpoint, string(pipeline.StageReceived)).Inc()
	}
	BadRequest(w, err.Error())
	return nil, false
}

// fail 记录流水线失败并写出500响应，不返回任何部分结果
func (h *Handler) fail(w http.ResponseWriter, rc *pipeline.RequestContext, endpoint, during string, err error) {
	stage := pipeline.FailedStage(err)
	rc.Advance(pipeline.StageFailed)

	msg := fmt.Sprintf("Error occurred during %s. Request id: %s", during, rc.RequestID)
	h.reporter.Report(logger.ReportContext{
		Message:   msg,
		Err:       err,
		RequestID: rc.RequestID,
		Stage:     string(stage),
	})
	if h.metrics != nil {
		h.metrics.PipelineFailures.WithLabelValues(endpoint, string(stage)).Inc()
	}
	InternalError(w, fmt.Sprintf("%s Error: %v", msg, pipeline.Cause(err)))
}

func (h *Handler) count(endpoint string, n int) {
	if h.metrics != nil {
		h.metrics.InstanceCount.WithLabelValues(endpoint).Add(float64(n))
	}
}
