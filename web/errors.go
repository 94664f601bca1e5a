package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrConfiguration 路由注册阶段的配置错误，启动时即失败
var ErrConfiguration = errors.New("web configuration error")

// ConfigError 处理函数签名不合法
type ConfigError struct {
	Func      string
	Signature string
	Reason    string
}

func (e *ConfigError) Error() string {
	if e.Signature == "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Func)
	}
	return fmt.Sprintf("%s: %s%s", e.Reason, e.Func, e.Signature)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// RequestError 客户端请求错误，返回 400
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func newRequestError(format string, args ...any) *RequestError {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

// APIError 处理函数返回的业务错误，Status 和 Kind 原样返回给客户端
//
//	return nil, web.NewAPIError(http.StatusForbidden, "permission", "admin only")
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func NewAPIError(status int, kind string, message string) *APIError {
	return &APIError{Status: status, Kind: kind, Message: message}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

const (
	KindBadRequest = "bad_request"
	KindInternal   = "internal"
)

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorStatus 将错误映射为状态码和响应体，未知错误统一为 500
func errorStatus(err error) (int, errorPayload) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, errorPayload{Error: KindBadRequest, Message: reqErr.Message}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		status := apiErr.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return status, errorPayload{Error: apiErr.Kind, Message: apiErr.Message}
	}
	return http.StatusInternalServerError, errorPayload{Error: KindInternal, Message: err.Error()}
}

func writeError(w http.ResponseWriter, err error) int {
	status, payload := errorStatus(err)
	return writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) int {
	buf, err := json.Marshal(v)
	if err != nil {
		return writeError(w, errors.Wrap(err, "json.Marshal failed"))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
	return status
}
