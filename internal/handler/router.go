package handler

import (
	"net/http"

	"github.com/GoPolymarket/perpgate/internal/config"
	"github.com/GoPolymarket/perpgate/internal/market"
	"github.com/GoPolymarket/perpgate/internal/middleware"
	"github.com/GoPolymarket/perpgate/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Trade       *service.TradeService
	Query       *service.QueryService
	Tenants     *service.TenantManager
	Prices      market.Provider // optional
	Idempotency middleware.IdempotencyStore
	Network     string
}

func NewRouter(cfg *config.Config, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogMiddleware())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.ErrorHandler())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"service":   "perpgate",
			"network":   d.Network,
			"read_only": d.Trade.ReadOnly(),
		})
	})
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.Handler()))
	}

	trade := NewTradeHandler(d.Trade)
	query := NewQueryHandler(d.Query, d.Trade, d.Prices)
	admin := NewAdminHandler(d.Trade, d.Tenants)

	idem := d.Idempotency
	if idem == nil {
		idem = middleware.NewInMemIdempotencyStore(0)
	}

	v1 := r.Group("/v1")
	v1.Use(middleware.ReadOnlyMiddleware(d.Trade.ReadOnly))
	{
		ops := v1.Group("/admin")
		ops.Use(middleware.AdminMiddleware(cfg))
		ops.GET("/read-only", admin.ReadOnly)
		ops.PUT("/read-only", admin.SetReadOnly)
		ops.GET("/tenants", admin.ListTenants)
	}

	api := v1.Group("")
	api.Use(middleware.AuthMiddleware(cfg, d.Tenants))
	api.Use(middleware.RateLimitMiddleware(d.Tenants))
	api.Use(middleware.IdempotencyMiddleware(idem))
	{
		api.POST("/positions", trade.OpenPosition)
		api.POST("/orders", trade.PlaceOrder)
		api.POST("/vaults", trade.CreateVault)
		api.POST("/vaults/:id/borrow", trade.Borrow)
		api.POST("/payloads", trade.Preview)

		api.GET("/positions", query.ListPositions)
		api.GET("/positions/:id", query.GetPosition)
		api.GET("/positions/:id/info", query.GetPositionInfo)
		api.GET("/vaults/:id", query.GetVault)
		api.GET("/submissions", query.ListSubmissions)
		api.GET("/submissions/:hash", query.GetSubmission)
	}
	return r
}
