package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/eg9y/chat-api-plugins/internal/ctxkeys"
	"github.com/eg9y/chat-api-plugins/types"
)

// 499: 客户端在响应前断开（Nginx 约定）
const StatusClientClosedRequest = 499

// DefaultMaxBodyBytes 请求体默认上限
const DefaultMaxBodyBytes int64 = 1 << 20

// errInternal 仅用于无错误码的异常
const errInternal types.ErrorCode = "INTERNAL_ERROR"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// 校验错误使用 JSON 字段名
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// 头已写出，编码失败无法再改状态码
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// WriteError 写入错误响应。data 非 nil 时随错误一并返回（例如失败会话的结果）。
func WriteError(w http.ResponseWriter, r *http.Request, err error, data any, logger *zap.Logger) {
	info := toErrorInfo(err)

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", info.Code),
			zap.Int("status", info.HTTPStatus),
			zap.Error(err),
		}
		if id := requestID(r); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if info.HTTPStatus >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Warn("API error", fields...)
		}
	}

	WriteJSON(w, info.HTTPStatus, Response{
		Success:   false,
		Data:      data,
		Error:     info,
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, r, types.NewError(code, message).WithHTTPStatus(status), nil, logger)
}

func toErrorInfo(err error) *ErrorInfo {
	typed, ok := types.AsError(err)
	if !ok {
		if types.GetErrorCode(err) == types.ErrCancelled {
			return &ErrorInfo{
				Code:       string(types.ErrCancelled),
				Message:    "request cancelled",
				HTTPStatus: StatusClientClosedRequest,
			}
		}
		return &ErrorInfo{
			Code:       string(errInternal),
			Message:    "internal error",
			HTTPStatus: http.StatusInternalServerError,
		}
	}

	info := &ErrorInfo{
		Code:       string(typed.Code),
		Message:    typed.Message,
		Retryable:  typed.Retryable,
		HTTPStatus: mapErrorCodeToHTTPStatus(typed.Code),
	}
	// 只有请求错误沿用自带状态码；INVOCATION_ERROR 携带的是目标 API 的状态
	if typed.Code == types.ErrInvalidRequest && typed.HTTPStatus != 0 {
		info.HTTPStatus = typed.HTTPStatus
	}
	if typed.Cause != nil && typed.Code != types.ErrLLM {
		info.Details = typed.Cause.Error()
	}
	return info
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	id, _ := ctxkeys.RequestID(r.Context())
	return id
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	// 4xx 客户端错误
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrInvalidConfig:
		return http.StatusUnprocessableEntity
	case types.ErrMalformedReply:
		return http.StatusUnprocessableEntity
	case types.ErrUnsupportedReferenceShape, types.ErrUnknownSchema, types.ErrReferenceCycle:
		return http.StatusUnprocessableEntity
	case types.ErrCancelled:
		return StatusClientClosedRequest

	// 5xx 上游错误
	case types.ErrFetch, types.ErrInvocation, types.ErrLLM:
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码并校验 JSON 请求体。失败时已写出错误响应。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, r, err, nil, logger)
		return err
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiErr = types.Errorf(types.ErrInvalidRequest, "request body exceeds %d bytes", tooLarge.Limit).
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		WriteError(w, r, apiErr, nil, logger)
		return apiErr
	}

	if err := validate.Struct(dst); err != nil {
		apiErr := validationError(err)
		WriteError(w, r, apiErr, nil, logger)
		return apiErr
	}
	return nil
}

func validationError(err error) *types.Error {
	var valErrs validator.ValidationErrors
	if !errors.As(err, &valErrs) {
		return types.NewError(types.ErrInvalidRequest, "invalid request").WithCause(err)
	}
	msgs := make([]string, 0, len(valErrs))
	for _, ve := range valErrs {
		msgs = append(msgs, ve.Field()+": "+formatValidationError(ve))
	}
	return types.NewError(types.ErrInvalidRequest, strings.Join(msgs, "; "))
}

func formatValidationError(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return "required"
	case "url":
		return "must be a valid URL"
	case "max":
		return "must be at most " + ve.Param() + " characters"
	default:
		return "failed " + ve.Tag() + " validation"
	}
}

// ValidateContentType 验证 Content-Type 为 application/json
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		WriteErrorMessage(w, r, http.StatusUnsupportedMediaType, types.ErrInvalidRequest,
			"Content-Type must be application/json", logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap 供 http.ResponseController 访问底层 writer
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
