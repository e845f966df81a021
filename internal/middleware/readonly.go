package middleware

import (
	"net/http"

	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

// readOnlyExempt are POST/PUT routes that never reach the chain: the kill
// switch itself and build-only previews.
var readOnlyExempt = map[string]bool{
	"/v1/admin/read-only": true,
	"/v1/payloads":        true,
}

// ReadOnlyMiddleware rejects writes while enabled reports true.
func ReadOnlyMiddleware(enabled func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if enabled == nil || !enabled() {
			c.Next()
			return
		}

		if readOnlyExempt[c.FullPath()] {
			c.Next()
			return
		}

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
		default:
			c.Error(apperrors.New(apperrors.ErrReadOnly, "read-only mode enabled", nil))
			c.Abort()
		}
	}
}
