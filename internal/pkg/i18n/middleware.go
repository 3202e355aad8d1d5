// File: internal/pkg/i18n/middleware.go
package i18n

import (
	"github.com/labstack/echo/v4"
)

// Middleware Echo 中间件 - 从请求中检测语言偏好并写入 context
// 优先级: ?lang= 查询参数 > Accept-Language 头部 > 默认语言
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lang := DefaultLanguage

			if code := c.QueryParam("lang"); code != "" {
				lang = ParseLanguageCode(code)
			} else if accept := c.Request().Header.Get("Accept-Language"); accept != "" {
				lang = ParseAcceptLanguage(accept)
			}

			ctx := WithLanguage(c.Request().Context(), lang)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
