package handler

import (
	"net/http"
	"strconv"

	"github.com/GoPolymarket/perpgate/internal/middleware"
	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/service"
	"github.com/gin-gonic/gin"
)

type TradeHandler struct {
	svc *service.TradeService
}

func NewTradeHandler(svc *service.TradeService) *TradeHandler {
	return &TradeHandler{svc: svc}
}

// OpenPosition handles POST /v1/positions.
func (h *TradeHandler) OpenPosition(c *gin.Context) {
	var req model.OpenPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	intent, err := req.ToIntent()
	if err != nil {
		c.Error(apperrors.NewInvalidIntent("%v", err))
		return
	}
	h.execute(c, intent)
}

// PlaceOrder handles POST /v1/orders.
func (h *TradeHandler) PlaceOrder(c *gin.Context) {
	var req model.LimitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	intent, err := req.ToIntent()
	if err != nil {
		c.Error(apperrors.NewInvalidIntent("%v", err))
		return
	}
	h.execute(c, intent)
}

// CreateVault handles POST /v1/vaults.
func (h *TradeHandler) CreateVault(c *gin.Context) {
	var req model.VaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	h.execute(c, req.ToCreateIntent())
}

// Borrow handles POST /v1/vaults/:id/borrow.
func (h *TradeHandler) Borrow(c *gin.Context) {
	vaultID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(apperrors.NewInvalidRequest("vault id must be a positive integer"))
		return
	}
	var req model.VaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	h.execute(c, req.ToAddIntent(vaultID))
}

// Preview handles POST /v1/payloads: build only, nothing is signed.
func (h *TradeHandler) Preview(c *gin.Context) {
	var req model.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	intent, err := previewIntent(req)
	if err != nil {
		c.Error(err)
		return
	}
	preview, err := h.svc.Preview(intent)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *TradeHandler) execute(c *gin.Context, intent model.Intent) {
	tenant, ok := middleware.TenantFrom(c)
	if !ok {
		c.Error(apperrors.New(apperrors.ErrAuthFailed, "missing tenant context", nil))
		return
	}

	result, err := h.svc.Execute(c.Request.Context(), tenant, intent)
	if err != nil {
		if result != nil {
			// 已广播但结果未知：把 tx hash 一并返回，调用方据此查询
			appErr := apperrors.Wrap(err)
			c.JSON(appErr.HTTPStatus, gin.H{"error": appErr, "result": result})
		}
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func previewIntent(req model.PreviewRequest) (model.Intent, error) {
	switch req.Kind {
	case model.KindOpenPosition:
		if req.Position == nil {
			return nil, apperrors.NewInvalidRequest("position is required")
		}
		intent, err := req.Position.ToIntent()
		if err != nil {
			return nil, apperrors.NewInvalidIntent("%v", err)
		}
		return intent, nil
	case model.KindPlaceLimitOrder:
		if req.Order == nil {
			return nil, apperrors.NewInvalidRequest("order is required")
		}
		intent, err := req.Order.ToIntent()
		if err != nil {
			return nil, apperrors.NewInvalidIntent("%v", err)
		}
		return intent, nil
	case model.KindCreateVaultAndBorrow:
		if req.Vault == nil {
			return nil, apperrors.NewInvalidRequest("vault is required")
		}
		return req.Vault.ToCreateIntent(), nil
	case model.KindAddCollateralAndBorrow:
		if req.Vault == nil {
			return nil, apperrors.NewInvalidRequest("vault is required")
		}
		return req.Vault.ToAddIntent(req.VaultID), nil
	default:
		return nil, apperrors.NewInvalidRequest("unknown intent kind " + string(req.Kind))
	}
}
