package middleware

import (
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/service"
	"github.com/gin-gonic/gin"
)

func RateLimitMiddleware(tm *service.TenantManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 必须在 AuthMiddleware 之后使用
		tenant, ok := TenantFrom(c)
		if !ok {
			c.Error(apperrors.New(apperrors.ErrAuthFailed, "unauthorized", nil))
			c.Abort()
			return
		}

		limiter := tm.GetLimiterForTenant(tenant.ID)
		if limiter == nil {
			c.Next()
			return
		}

		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			c.Error(apperrors.New(apperrors.ErrRateLimited, "rate limit exceeded", nil))
			c.Abort()
			return
		}

		c.Next()
	}
}
