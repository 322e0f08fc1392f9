package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"inferserve/config"
	"inferserve/explain"
	"inferserve/logger"
	"inferserve/monitoring"
	"inferserve/pipeline"
	"inferserve/resources"
	"inferserve/resources/resourcestest"
)

type testServer struct {
	handler http.Handler
	metrics *monitoring.Metrics
	general *observer.ObservedLogs
	errs    *observer.ObservedLogs
}

func newTestServer(t *testing.T, mutate func(b *resources.Bundle)) *testServer {
	t.Helper()
	b := resourcestest.Bundle(t)
	if mutate != nil {
		mutate(b)
	}
	generalCore, general := observer.New(zapcore.InfoLevel)
	errorCore, errs := observer.New(zapcore.ErrorLevel)
	lg := logger.NewWithCores(generalCore, errorCore)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	runner := pipeline.NewRunner(b, lg.Logger, metrics)
	h := NewHandler(runner, lg, metrics)
	return &testServer{
		handler: h.Router(config.Default().Server),
		metrics: metrics,
		general: general,
		errs:    errs,
	}
}

func (s *testServer) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func validBody(t *testing.T) []byte {
	return resourcestest.Request(t,
		map[string]interface{}{"id": "a", "age": 30, "color": "blue", "score": 0.85},
		map[string]interface{}{"id": 7, "age": nil, "color": nil, "score": 0.15},
	)
}

func TestPing(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(http.MethodGet, "/ping", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Pong!"}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestInfer(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(http.MethodPost, "/infer", validBody(t))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp pipeline.PredictionsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "", resp.Message)
	assert.Len(t, resp.RequestID, 32)
	assert.Equal(t, []string{"no", "yes"}, resp.TargetClasses)
	require.Len(t, resp.Predictions, 2)
	assert.Equal(t, pipeline.Prediction{SampleID: "a", PredictedClass: "yes", PredictedProbabilities: []float64{0, 1}}, resp.Predictions[0])
	assert.Equal(t, pipeline.Prediction{SampleID: "7", PredictedClass: "no", PredictedProbabilities: []float64{1, 0}}, resp.Predictions[1])

	assert.Equal(t, 0, s.errs.Len())
	assert.Equal(t, 2, s.general.FilterMessage("stage complete").Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.RequestCount.WithLabelValues("/infer", "200")))
	assert.Equal(t, float64(2), testutil.ToFloat64(s.metrics.InstanceCount.WithLabelValues("/infer")))
}

func TestExplain(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(http.MethodPost, "/explain", validBody(t))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp pipeline.CombinedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, explain.MethodShap, resp.ExplanationMethod)
	assert.Equal(t, "Whether the sample is positive", resp.TargetDescription)
	require.Len(t, resp.Predictions, 2)
	require.Len(t, resp.Explanations, 2)
	assert.Equal(t, "a", resp.Explanations[0].SampleID)
	assert.Equal(t, "7", resp.Explanations[1].SampleID)
	assert.Equal(t, map[string]float64{"no": 0.5, "yes": 0.5}, resp.Explanations[0].Baseline)
	assert.InDelta(t, -0.5, resp.Explanations[0].FeatureScores["no"]["score"], 1e-9)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	for _, key := range []string{"status", "message", "timestamp", "requestId", "targetClasses", "predictions", "explanationMethod", "targetDescription", "explanations"} {
		assert.Contains(t, raw, key)
	}
}

func TestValidationFailure(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"missing instances", `{}`, "instances"},
		{"empty instances", `{"instances":[]}`, "at least 1 items"},
		{"missing required feature", `{"instances":[{"id":"a","age":1,"color":"red"}]}`, "score"},
		{"null required feature", `{"instances":[{"id":"a","age":1,"color":"red","score":null}]}`, "none is not an allowed value"},
		{"wrong type", `{"instances":[{"id":"a","age":"old","color":"red","score":0.1}]}`, "value is not a valid float"},
		{"not json", `instances`, "valid JSON"},
	}
	for _, path := range []string{"/infer", "/explain"} {
		for _, tt := range tests {
			t.Run(path+" "+tt.name, func(t *testing.T) {
				s := newTestServer(t, nil)
				rr := s.do(http.MethodPost, path, []byte(tt.body))
				require.Equal(t, http.StatusBadRequest, rr.Code)

				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
				assert.Equal(t, "error", body["status"])
				assert.Contains(t, body, "predictions")
				assert.Nil(t, body["predictions"])
				assert.Contains(t, body["message"], tt.message)

				require.Equal(t, 1, s.errs.Len())
				assert.Equal(t, "Validation error with request data.", s.errs.All()[0].Message)
			})
		}
	}
}

func TestTransformFailureReturns500(t *testing.T) {
	s := newTestServer(t, nil)
	body := resourcestest.Request(t, map[string]interface{}{"id": "a", "age": 30, "color": "purple", "score": 0.5})
	rr := s.do(http.MethodPost, "/infer", body)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var resp pipeline.FailureResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.Detail, "Error occurred during inference. Request id: "), resp.Detail)
	assert.Contains(t, resp.Detail, `unknown category "purple"`)

	require.Equal(t, 1, s.errs.Len())
	fields := s.errs.All()[0].ContextMap()
	assert.Equal(t, string(pipeline.StageTransformed), fields["stage"])
	assert.Contains(t, resp.Detail, fields["request_id"])
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.PipelineFailures.WithLabelValues("/infer", "TRANSFORMED")))
}

// panickingExplainer has no implementation behind Explain, so calling it panics.
type panickingExplainer struct{ explain.Explainer }

func (panickingExplainer) Method() string { return "Broken" }

func TestExplainerFailureFailsWholeRequest(t *testing.T) {
	s := newTestServer(t, func(b *resources.Bundle) {
		b.Explainer = panickingExplainer{}
	})
	rr := s.do(http.MethodPost, "/explain", validBody(t))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp, 1, "no partial predictions may leak into the failure body")
	assert.True(t, strings.HasPrefix(resp["detail"].(string), "Error occurred during explanations. Request id: "))

	require.Equal(t, 1, s.errs.Len())
	assert.Equal(t, string(pipeline.StageExplained), s.errs.All()[0].ContextMap()["stage"])

	// /infer does not touch the explainer
	rr = s.do(http.MethodPost, "/infer", validBody(t))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestExplainIgnoresClientCancellation(t *testing.T) {
	s := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/explain", bytes.NewReader(validBody(t))).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp pipeline.CombinedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Explanations, 2)
	assert.Equal(t, 0, s.errs.Len())
}

func TestUnknownRouteAndMethod(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/predict", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, s.do(http.MethodGet, "/infer", nil).Code)
}

func TestRequestBodyLimit(t *testing.T) {
	b := resourcestest.Bundle(t)
	lg := logger.Nop()
	cfg := config.Default().Server
	cfg.MaxBodyBytes = 16
	handler := NewHandler(pipeline.NewRunner(b, nil, nil), lg, nil).Router(cfg)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/infer", bytes.NewReader(validBody(t))))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "could not read request body")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(http.MethodGet, "/ping", nil)
	rr := s.do(http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `inferserve_requests_total{code="200",endpoint="/ping"} 1`)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(logger.Nop().Logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"detail":"Internal server error"}`, rr.Body.String())
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	tests := []struct {
		name       string
		origins    []string
		method     string
		origin     string
		wantStatus int
		wantHeader string
	}{
		{"wildcard", []string{"*"}, http.MethodGet, "http://a.example", http.StatusTeapot, "http://a.example"},
		{"listed", []string{"http://b.example"}, http.MethodGet, "http://b.example", http.StatusTeapot, "http://b.example"},
		{"not listed", []string{"http://b.example"}, http.MethodGet, "http://c.example", http.StatusTeapot, ""},
		{"preflight", []string{"*"}, http.MethodOptions, "http://a.example", http.StatusNoContent, "http://a.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/infer", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			CORSMiddleware(tt.origins)(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantHeader, rr.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestInferIsIdempotent(t *testing.T) {
	s := newTestServer(t, nil)

	var first, second pipeline.PredictionsResponse
	require.NoError(t, json.Unmarshal(s.do(http.MethodPost, "/infer", validBody(t)).Body.Bytes(), &first))
	require.NoError(t, json.Unmarshal(s.do(http.MethodPost, "/infer", validBody(t)).Body.Bytes(), &second))

	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Equal(t, first.Predictions, second.Predictions)
	assert.Equal(t, first.TargetClasses, second.TargetClasses)
}

func TestPingAfterFailures(t *testing.T) {
	s := newTestServer(t, func(b *resources.Bundle) {
		b.Explainer = panickingExplainer{}
	})
	s.do(http.MethodPost, "/explain", validBody(t))
	s.do(http.MethodPost, "/infer", []byte(`{}`))

	rr := s.do(http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Pong!"}`, rr.Body.String())
}
