package response

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"fable-self/internal/pkg/i18n"
	"fable-self/internal/pkg/log"
	"fable-self/internal/pkg/trace"
	"fable-self/internal/pkg/xerrors"
)

// EmptyData 是一个用于在 API 成功响应中表示“无数据”的结构体。
// 使用一个具体的空结构体，比直接返回 nil 或 interface{} 更类型安全、意图更明确。
type EmptyData struct{}

// Response 通用的API响应结构体
type Response struct {
	Code      int         `json:"code"`               // 业务响应码
	Message   string      `json:"message"`            // 响应消息
	Data      interface{} `json:"data,omitempty"`     // 响应数据，成功时返回
	Error     string      `json:"error,omitempty"`    // 错误详情，失败时返回
	Timestamp int64       `json:"timestamp"`          // Unix时间戳
	TraceId   string      `json:"trace_id,omitempty"` // 请求追踪ID
}

// Writer 统一响应写入接口，供 handler 和中间件共用
type Writer interface {
	WriteSuccess(ctx context.Context, w http.ResponseWriter, data interface{}) error
	WriteError(ctx context.Context, w http.ResponseWriter, err error) error
	WriteJSON(ctx context.Context, w http.ResponseWriter, data interface{}, statusCode int) error
}

// ResponseHandler Writer 的默认实现
type ResponseHandler struct {
	logger      log.Logger
	environment string
}

// NewResponseHandler 创建响应处理器
func NewResponseHandler(logger log.Logger, environment string) *ResponseHandler {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &ResponseHandler{
		logger:      logger,
		environment: environment,
	}
}

// DefaultResponseHandler 返回开发环境默认配置的处理器, 主要供测试使用。
func DefaultResponseHandler() *ResponseHandler {
	return NewResponseHandler(nil, "development")
}

// WriteSuccess 写入成功响应
func (h *ResponseHandler) WriteSuccess(ctx context.Context, w http.ResponseWriter, data interface{}) error {
	resp := &Response{
		Code:      xerrors.CodeSuccess.ToInt(),
		Message:   i18n.GetErrorMessage(xerrors.CodeSuccess, i18n.GetLanguage(ctx)),
		Data:      data,
		Timestamp: time.Now().Unix(),
		TraceId:   trace.GetTraceID(ctx),
	}
	return h.writeJSON(ctx, w, resp, http.StatusOK)
}

// WriteError 写入错误响应，自动转换任意 error 为统一结构
func (h *ResponseHandler) WriteError(ctx context.Context, w http.ResponseWriter, err error) error {
	appErr := xerrors.Wrap(err, xerrors.CodeInternalError, "未知错误")
	if appErr == nil {
		return h.WriteSuccess(ctx, w, EmptyData{})
	}

	log.LogAppError(ctx, "request failed", appErr)

	resp := &Response{
		Code:      appErr.Code.ToInt(),
		Message:   i18n.GetErrorMessage(appErr.Code, i18n.GetLanguage(ctx)),
		Timestamp: time.Now().Unix(),
		TraceId:   trace.GetTraceID(ctx),
	}

	// 生产环境不暴露内部错误细节
	if h.environment != "production" && appErr.Err != nil {
		resp.Error = appErr.Err.Error()
	}

	return h.writeJSON(ctx, w, resp, xerrors.GetHTTPStatus(appErr.Code))
}

// WriteJSON 直接写入 JSON 响应(跳过 Response 包装)
func (h *ResponseHandler) WriteJSON(ctx context.Context, w http.ResponseWriter, data interface{}, statusCode int) error {
	return h.writeJSON(ctx, w, data, statusCode)
}

func (h *ResponseHandler) writeJSON(ctx context.Context, w http.ResponseWriter, data interface{}, statusCode int) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// header 已写入，只能记录日志
		h.logger.ErrorContext(ctx, "写入JSON响应失败", log.Any("error", err))
		return err
	}
	return nil
}
