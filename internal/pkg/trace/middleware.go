// File: internal/pkg/trace/middleware.go
package trace

import (
	"github.com/labstack/echo/v4"
)

// Middleware 战斗 API 的 TraceID 中间件。
// 指令分发网关转发请求时会带上 X-Trace-Id, 这里提取它并贯穿整条调用链;
// 网关未注入时生成新的, 保证超时定时器与清扫任务之外的所有日志都可追踪。
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			traceID := ExtractFromHeader(c.Request().Header)

			ctx := WithTraceID(c.Request().Context(), traceID)
			c.SetRequest(c.Request().WithContext(ctx))

			// 回写响应头, 方便网关把战斗结果和自己的日志对上
			c.Response().Header().Set("X-Trace-Id", traceID)

			return next(c)
		}
	}
}
