package handler

import (
	"net/http"
	"slices"
	"strings"

	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/service"
	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	trade   *service.TradeService
	tenants *service.TenantManager
}

func NewAdminHandler(trade *service.TradeService, tenants *service.TenantManager) *AdminHandler {
	return &AdminHandler{trade: trade, tenants: tenants}
}

type readOnlyRequest struct {
	ReadOnly *bool `json:"read_only" binding:"required"`
}

// ReadOnly handles GET /v1/admin/read-only.
func (h *AdminHandler) ReadOnly(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"read_only": h.trade.ReadOnly()})
}

// SetReadOnly handles PUT /v1/admin/read-only, the trading kill switch.
func (h *AdminHandler) SetReadOnly(c *gin.Context) {
	var req readOnlyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	h.trade.SetReadOnly(*req.ReadOnly)
	c.JSON(http.StatusOK, gin.H{"read_only": h.trade.ReadOnly()})
}

type tenantPublic struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Address string  `json:"address,omitempty"`
	QPS     float64 `json:"qps"`
	Burst   int     `json:"burst"`
}

// ListTenants handles GET /v1/admin/tenants. Key material is never returned.
func (h *AdminHandler) ListTenants(c *gin.Context) {
	tenants := h.tenants.ListTenants()
	out := make([]tenantPublic, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, tenantPublic{
			ID:      t.ID,
			Name:    t.Name,
			Address: t.Address(),
			QPS:     t.Rate.QPS,
			Burst:   t.Rate.Burst,
		})
	}
	slices.SortFunc(out, func(a, b tenantPublic) int { return strings.Compare(a.ID, b.ID) })
	c.JSON(http.StatusOK, gin.H{"tenants": out})
}
