package http

import (
	"encoding/json"
	"net/http"

	"inferserve/pipeline"
)

// JSON 写出JSON响应
func JSON(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

// OK 200响应
func OK(w http.ResponseWriter, v interface{}) {
	JSON(w, v, http.StatusOK)
}

// BadRequest 请求校验失败
func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, pipeline.ValidationErrorResponse{Status: "error", Message: message}, http.StatusBadRequest)
}

// InternalError 流水线失败
func InternalError(w http.ResponseWriter, detail string) {
	JSON(w, FailureBody(detail), http.StatusInternalServerError)
}

// FailureBody 500响应体
func FailureBody(detail string) pipeline.FailureResponse {
	return pipeline.FailureResponse{Detail: detail}
}
