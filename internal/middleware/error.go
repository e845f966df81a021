package middleware

import (
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

const contextErrorRendered = "error_rendered"

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		renderError(c)
	}
}

// renderError logs the last error on c and writes it as JSON unless the
// handler already wrote a response. It runs at most once per request.
func renderError(c *gin.Context) {
	if len(c.Errors) == 0 || c.GetBool(contextErrorRendered) {
		return
	}
	c.Set(contextErrorRendered, true)

	appErr := apperrors.Wrap(c.Errors.Last().Err)

	logFields := []any{
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"code", appErr.Type,
		"client_ip", c.ClientIP(),
	}
	if appErr.Reason != "" {
		logFields = append(logFields, "reason", appErr.Reason)
	}
	if id := c.GetString(ContextRequestID); id != "" {
		logFields = append(logFields, "request_id", id)
	}

	if appErr.HTTPStatus >= 500 {
		logger.LogError(c.Request.Context(), appErr, "Internal Server Error", logFields...)
	} else {
		logger.Warn(appErr.Message, logFields...)
	}

	// handler 已写出响应（例如超时时附带 pending 结果）
	if c.Writer.Written() {
		return
	}
	c.JSON(appErr.HTTPStatus, gin.H{"error": appErr})
}
