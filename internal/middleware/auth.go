package middleware

import (
	"github.com/GoPolymarket/perpgate/internal/config"
	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/service"
	"github.com/gin-gonic/gin"
)

const (
	HeaderGatewayKey = "X-Gateway-Key"
	ContextTenantKey = "tenant"
)

func AuthMiddleware(cfg *config.Config, tm *service.TenantManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(HeaderGatewayKey)
		if apiKey == "" {
			if cfg != nil && !cfg.Auth.RequireAPIKey {
				if tenant := tm.DefaultTenant(); tenant != nil {
					c.Set(ContextTenantKey, tenant)
					c.Next()
					return
				}
			}
			c.Error(apperrors.New(apperrors.ErrAuthFailed, "missing API key", nil))
			c.Abort()
			return
		}

		tenant, ok := tm.GetTenantByApiKey(apiKey)
		if !ok {
			c.Error(apperrors.New(apperrors.ErrAuthFailed, "invalid API key", nil))
			c.Abort()
			return
		}

		// 将租户信息存入上下文
		c.Set(ContextTenantKey, tenant)
		c.Next()
	}
}

// TenantFrom returns the tenant AuthMiddleware stored on c.
func TenantFrom(c *gin.Context) (*model.Tenant, bool) {
	v, ok := c.Get(ContextTenantKey)
	if !ok {
		return nil, false
	}
	t, ok := v.(*model.Tenant)
	return t, ok && t != nil
}
