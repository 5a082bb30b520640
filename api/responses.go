package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/clearhaven/otcx/internal/access"
	"github.com/clearhaven/otcx/internal/ledger"
	"github.com/clearhaven/otcx/internal/settlement"
)

// OrderView is the single generic projection of an order. Every field
// a dashboard needs is here; there are no per-field alias endpoints.
type OrderView struct {
	ID                string `json:"id"`
	Maker             string `json:"maker"`
	AssetClass        string `json:"asset_class"`
	AssetRef          string `json:"asset_ref"`
	Amount            string `json:"amount"`
	PricePerUnit      string `json:"price_per_unit"`
	PriceDecimal      string `json:"price_decimal"`
	Side              string `json:"side"`
	FilledAmount      string `json:"filled_amount"`
	Remaining         string `json:"remaining"`
	Status            string `json:"status"`
	TotalValue        string `json:"total_value"`
	TotalValueDecimal string `json:"total_value_decimal"`
	CreatedAt         uint64 `json:"created_at"`
	CreatedTime       string `json:"created_time"`
}

func orderView(o *ledger.Order) OrderView {
	totalValue := o.TotalValue()
	return OrderView{
		ID:                o.ID.Hex(),
		Maker:             o.Maker.Hex(),
		AssetClass:        o.AssetClass.String(),
		AssetRef:          o.AssetRef.Hex(),
		Amount:            o.Amount.String(),
		PricePerUnit:      o.PricePerUnit.String(),
		PriceDecimal:      decimal.NewFromBigInt(o.PricePerUnit, -18).String(),
		Side:              o.Side.String(),
		FilledAmount:      o.FilledAmount.String(),
		Remaining:         o.Remaining().String(),
		Status:            o.Status.String(),
		TotalValue:        totalValue.String(),
		TotalValueDecimal: decimal.NewFromBigInt(totalValue, -18).String(),
		CreatedAt:         o.CreatedAt,
		CreatedTime:       o.CreatedTime.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// StatsView is the aggregate platform projection.
type StatsView struct {
	TotalOrders        int    `json:"total_orders"`
	OpenOrders         int    `json:"open_orders"`
	TotalFeesCollected string `json:"total_fees_collected"`
	Sequence           uint64 `json:"sequence"`
	Paused             bool   `json:"paused"`
	FeeBps             uint64 `json:"fee_bps"`
	MinOrderValue      string `json:"min_order_value"`
	Capacity           int    `json:"capacity"`
}

// errStatus maps domain errors to HTTP statuses.
func errStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrNotOpen),
		errors.Is(err, settlement.ErrSettlementNotReady):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrCapacityExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, ledger.ErrIndexOutOfRange),
		errors.Is(err, ledger.ErrZeroFill),
		errors.Is(err, ledger.ErrExceedsRemaining),
		errors.Is(err, settlement.ErrInvalidAssetClass),
		errors.Is(err, settlement.ErrZeroAmount),
		errors.Is(err, settlement.ErrZeroPrice),
		errors.Is(err, settlement.ErrBelowMinimum),
		errors.Is(err, access.ErrFeeTooHigh):
		return http.StatusUnprocessableEntity
	case errors.Is(err, settlement.ErrInsufficientAttachedValue),
		errors.Is(err, settlement.ErrFundingMismatch),
		errors.Is(err, settlement.ErrTransferFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, access.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, access.ErrPaused):
		return http.StatusLocked
	case errors.Is(err, settlement.ErrReentrant):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(errStatus(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
