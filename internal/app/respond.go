package app

import (
	"encoding/json"
	"net/http"

	"avalive/internal/errs"
)

type errorBody struct {
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError 按错误分类映射 HTTP 状态码
func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errs.KindProtocol:
		status = http.StatusBadRequest
	case errs.KindConcurrency:
		status = http.StatusTooManyRequests
	case errs.KindTimeout:
		status = http.StatusRequestTimeout
	case errs.KindConnection:
		status = http.StatusServiceUnavailable
	case errs.KindCancelled:
		status = http.StatusConflict
	}
	writeJSON(w, status, errorBody{
		Status:  "error",
		Kind:    kind.String(),
		Message: err.Error(),
	})
}
