package handler

import (
	"net/http"
	"strconv"

	"github.com/GoPolymarket/perpgate/internal/market"
	"github.com/GoPolymarket/perpgate/internal/middleware"
	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const maxListedPositions = 500

type QueryHandler struct {
	query  *service.QueryService
	trade  *service.TradeService
	prices market.Provider
}

// NewQueryHandler serves read endpoints. prices may be nil; position info
// then needs explicit mark and quote query parameters.
func NewQueryHandler(query *service.QueryService, trade *service.TradeService, prices market.Provider) *QueryHandler {
	return &QueryHandler{query: query, trade: trade, prices: prices}
}

// ListPositions handles GET /v1/positions?account=0x..&market=BTCPERP.
// account defaults to the caller's signing address.
func (h *QueryHandler) ListPositions(c *gin.Context) {
	account, err := h.account(c)
	if err != nil {
		c.Error(err)
		return
	}

	positions := make([]*model.PositionSnapshot, 0)
	for snap, err := range h.query.QueryPositions(c.Request.Context(), account, c.QueryArray("market")...) {
		if err != nil {
			c.Error(err)
			return
		}
		positions = append(positions, snap)
		if len(positions) >= maxListedPositions {
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"account": account.Hex(), "positions": positions})
}

// GetPosition handles GET /v1/positions/:id.
func (h *QueryHandler) GetPosition(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.Error(err)
		return
	}
	snap, err := h.query.QueryPosition(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetPositionInfo handles GET /v1/positions/:id/info?mark=&quote=. Missing
// prices are taken from the feed.
func (h *QueryHandler) GetPositionInfo(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.Error(err)
		return
	}
	base, err := h.query.QueryPosition(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	mark, quote, err := h.resolvePrices(c, base.Market)
	if err != nil {
		c.Error(err)
		return
	}
	snap, err := h.query.QueryPositionInfo(c.Request.Context(), id, mark, quote)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetVault handles GET /v1/vaults/:id.
func (h *QueryHandler) GetVault(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.Error(err)
		return
	}
	vault, err := h.query.QueryVault(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, vault)
}

// GetSubmission handles GET /v1/submissions/:hash.
func (h *QueryHandler) GetSubmission(c *gin.Context) {
	tenant, ok := middleware.TenantFrom(c)
	if !ok {
		c.Error(apperrors.New(apperrors.ErrAuthFailed, "missing tenant context", nil))
		return
	}
	rec, err := h.trade.Submission(c.Request.Context(), c.Param("hash"))
	if err != nil {
		c.Error(err)
		return
	}
	// 不暴露其他租户的记录
	if rec.TenantID != tenant.ID {
		c.Error(apperrors.NewNotFound("submission " + c.Param("hash") + " not found"))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListSubmissions handles GET /v1/submissions?limit=.
func (h *QueryHandler) ListSubmissions(c *gin.Context) {
	tenant, ok := middleware.TenantFrom(c)
	if !ok {
		c.Error(apperrors.New(apperrors.ErrAuthFailed, "missing tenant context", nil))
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := h.trade.Submissions(c.Request.Context(), tenant.ID, limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": records})
}

func (h *QueryHandler) account(c *gin.Context) (common.Address, error) {
	if raw := c.Query("account"); raw != "" {
		if !common.IsHexAddress(raw) {
			return common.Address{}, apperrors.NewInvalidRequest("account is not a hex address")
		}
		return common.HexToAddress(raw), nil
	}
	tenant, ok := middleware.TenantFrom(c)
	if !ok || !tenant.Identity.Valid() {
		return common.Address{}, apperrors.NewInvalidRequest("account is required")
	}
	return tenant.Identity.Address(), nil
}

// resolvePrices resolves the mark and quote prices for a position info query.
func (h *QueryHandler) resolvePrices(c *gin.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	var feed market.Price
	var fromFeed bool
	if h.prices != nil {
		feed, fromFeed = h.prices.GetPrice(symbol)
	}

	mark, err := priceParam(c, "mark")
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if mark == nil {
		if !fromFeed {
			return decimal.Zero, decimal.Zero, apperrors.NewInvalidRequest("no mark price for " + symbol + "; pass ?mark=")
		}
		mark = &feed.Mark
	}

	quote, err := priceParam(c, "quote")
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if quote == nil {
		one := decimal.NewFromInt(1)
		quote = &one
		if fromFeed && feed.Quote.IsPositive() {
			quote = &feed.Quote
		}
	}
	return *mark, *quote, nil
}

func priceParam(c *gin.Context, name string) (*decimal.Decimal, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || !v.IsPositive() {
		return nil, apperrors.NewInvalidRequest(name + " must be a positive decimal")
	}
	return &v, nil
}

func parseID(c *gin.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperrors.NewInvalidRequest("id must be a positive integer")
	}
	return id, nil
}
