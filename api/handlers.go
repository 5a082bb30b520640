package api

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/clearhaven/otcx/internal/ledger"
	"github.com/clearhaven/otcx/internal/settlement"
)

// actorHeader carries the caller identity. There is no signature
// scheme here; authentication is assumed to happen upstream.
const actorHeader = "X-Actor-Address"

type postOrderRequest struct {
	AssetClass    string `json:"asset_class" validate:"required,oneof=crypto rwa"`
	AssetRef      string `json:"asset_ref"`
	Amount        string `json:"amount" validate:"required"`
	PricePerUnit  string `json:"price_per_unit" validate:"required"`
	Side          string `json:"side" validate:"required,oneof=sell buy"`
	AttachedValue string `json:"attached_value"`
}

type fillOrderRequest struct {
	FillAmount    string `json:"fill_amount" validate:"required"`
	AttachedValue string `json:"attached_value"`
}

type cancelBatchRequest struct {
	OrderIDs []string `json:"order_ids" validate:"required,min=1"`
}

type recordRwaFillRequest struct {
	Taker      string `json:"taker" validate:"required"`
	FillAmount string `json:"fill_amount" validate:"required"`
}

type releaseRwaRequest struct {
	FeeValue string `json:"fee_value"`
}

type minOrderValueRequest struct {
	MinOrderValue string `json:"min_order_value" validate:"required"`
}

type feeBpsRequest struct {
	FeeBps uint64 `json:"fee_bps"`
}

type amountRequest struct {
	Amount string `json:"amount" validate:"required"`
}

func (s *Server) actor(c *gin.Context) (common.Address, bool) {
	raw := c.GetHeader(actorHeader)
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + actorHeader + " header"})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// parseUnits parses a non-negative base-10 fixed-point integer. Empty
// input yields zero.
func parseUnits(s string) (*big.Int, bool) {
	if s == "" {
		return new(big.Int), true
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

func pageParams(c *gin.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(ledger.MaxPageSize)))
	return offset, limit
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) postOrder(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	var req postOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	assetClass, err := ledger.ParseAssetClass(req.AssetClass)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	side, err := ledger.ParseSide(req.Side)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	amount, ok := parseUnits(req.Amount)
	if !ok {
		badRequest(c, "invalid amount")
		return
	}
	price, ok := parseUnits(req.PricePerUnit)
	if !ok {
		badRequest(c, "invalid price_per_unit")
		return
	}
	attached, ok := parseUnits(req.AttachedValue)
	if !ok {
		badRequest(c, "invalid attached_value")
		return
	}

	id, err := s.engine.PostOrder(c.Request.Context(), actor, settlement.PostOrderRequest{
		AssetClass:    assetClass,
		AssetRef:      common.HexToHash(req.AssetRef),
		Amount:        amount,
		PricePerUnit:  price,
		Side:          side,
		AttachedValue: attached,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order_id": id.Hex()})
}

func (s *Server) getOrder(c *gin.Context) {
	id := common.HexToHash(c.Param("id"))
	order, err := s.store.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView(order))
}

func (s *Server) listOrders(c *gin.Context) {
	offset, limit := pageParams(c)

	pred := func(o *ledger.Order) bool { return true }
	filtered := false
	if v := c.Query("status"); v != "" {
		filtered = true
		prev := pred
		pred = func(o *ledger.Order) bool { return prev(o) && o.Status.String() == v }
	}
	if v := c.Query("side"); v != "" {
		filtered = true
		prev := pred
		pred = func(o *ledger.Order) bool { return prev(o) && o.Side.String() == v }
	}
	if v := c.Query("asset_class"); v != "" {
		filtered = true
		prev := pred
		pred = func(o *ledger.Order) bool { return prev(o) && o.AssetClass.String() == v }
	}

	var ids []common.Hash
	if filtered {
		ids = s.store.PaginateWhere(offset, limit, pred)
	} else {
		ids = s.store.Paginate(offset, limit)
	}

	if c.Query("view") == "full" {
		views := make([]OrderView, 0, len(ids))
		for _, id := range ids {
			if order, err := s.store.Get(id); err == nil {
				views = append(views, orderView(order))
			}
		}
		c.JSON(http.StatusOK, gin.H{"orders": views})
		return
	}
	hexIDs := make([]string, len(ids))
	for i, id := range ids {
		hexIDs[i] = id.Hex()
	}
	c.JSON(http.StatusOK, gin.H{"order_ids": hexIDs})
}

func (s *Server) listMakerOrders(c *gin.Context) {
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		badRequest(c, "invalid maker address")
		return
	}
	maker := common.HexToAddress(raw)
	offset, limit := pageParams(c)

	ids := s.store.MakerOrders(maker, offset, limit)
	hexIDs := make([]string, len(ids))
	for i, id := range ids {
		hexIDs[i] = id.Hex()
	}
	c.JSON(http.StatusOK, gin.H{
		"maker":     maker.Hex(),
		"total":     s.store.MakerOrderCount(maker),
		"order_ids": hexIDs,
	})
}

func (s *Server) fillOrder(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	var req fillOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	fillAmount, ok := parseUnits(req.FillAmount)
	if !ok {
		badRequest(c, "invalid fill_amount")
		return
	}
	attached, ok := parseUnits(req.AttachedValue)
	if !ok {
		badRequest(c, "invalid attached_value")
		return
	}

	id := common.HexToHash(c.Param("id"))
	if err := s.engine.FillOrder(c.Request.Context(), actor, id, fillAmount, attached); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id.Hex(), "filled": fillAmount.String()})
}

func (s *Server) cancelOrder(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	id := common.HexToHash(c.Param("id"))
	if err := s.engine.CancelOrder(c.Request.Context(), actor, id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id.Hex(), "status": "cancelled"})
}

func (s *Server) cancelOrders(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	var req cancelBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ids := make([]common.Hash, len(req.OrderIDs))
	for i, raw := range req.OrderIDs {
		ids[i] = common.HexToHash(raw)
	}
	if err := s.engine.CancelOrders(c.Request.Context(), actor, ids); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submitted": len(ids)})
}

func (s *Server) recordRwaFill(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	var req recordRwaFillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !common.IsHexAddress(req.Taker) {
		badRequest(c, "invalid taker address")
		return
	}
	fillAmount, ok := parseUnits(req.FillAmount)
	if !ok {
		badRequest(c, "invalid fill_amount")
		return
	}

	id := common.HexToHash(c.Param("id"))
	err := s.engine.RecordRwaFill(c.Request.Context(), actor, id, common.HexToAddress(req.Taker), fillAmount)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id.Hex(), "recorded": fillAmount.String()})
}

func (s *Server) releaseRwaSettlement(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	var req releaseRwaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	feeValue, ok := parseUnits(req.FeeValue)
	if !ok {
		badRequest(c, "invalid fee_value")
		return
	}

	id := common.HexToHash(c.Param("id"))
	if err := s.engine.ReleaseRwaSettlement(c.Request.Context(), actor, id, feeValue); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id.Hex(), "status": "released"})
}

func (s *Server) pause(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	if err := s.engine.Pause(c.Request.Context(), actor); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) resume(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	if err := s.engine.Resume(c.Request.Context(), actor); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) setMinOrderValue(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	var req minOrderValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	v, ok := parseUnits(req.MinOrderValue)
	if !ok {
		badRequest(c, "invalid min_order_value")
		return
	}
	if err := s.engine.SetMinOrderValue(c.Request.Context(), actor, v); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"min_order_value": v.String()})
}

func (s *Server) setFeeBps(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	var req feeBpsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := s.engine.SetFeeBps(c.Request.Context(), actor, req.FeeBps); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee_bps": req.FeeBps})
}

func (s *Server) sweep(c *gin.Context) {
	actor, ok := s.actor(c)
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	amount, ok := parseUnits(req.Amount)
	if !ok {
		badRequest(c, "invalid amount")
		return
	}
	if err := s.engine.SweepToTreasury(c.Request.Context(), actor, amount); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swept": amount.String()})
}

func (s *Server) platformStats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsView{
		TotalOrders:        s.store.TotalOrders(),
		OpenOrders:         s.store.OpenOrders(),
		TotalFeesCollected: s.store.TotalFeesCollected().String(),
		Sequence:           s.engine.Sequence(),
		Paused:             s.ctrl.Paused(),
		FeeBps:             s.ctrl.FeeBps(),
		MinOrderValue:      s.ctrl.MinOrderValue().String(),
		Capacity:           ledger.MaxOrders,
	})
}

func (s *Server) platformConfig(c *gin.Context) {
	roles := s.ctrl.Roles()
	c.JSON(http.StatusOK, gin.H{
		"operator":        roles.Operator.Hex(),
		"treasury":        roles.Treasury.Hex(),
		"escrow_keeper":   roles.EscrowKeeper.Hex(),
		"escrow_account":  s.engine.EscrowAccount().Hex(),
		"fee_bps":         s.ctrl.FeeBps(),
		"min_order_value": s.ctrl.MinOrderValue().String(),
		"paused":          s.ctrl.Paused(),
		"max_page_size":   ledger.MaxPageSize,
	})
}

func (s *Server) getBalance(c *gin.Context) {
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		badRequest(c, "invalid address")
		return
	}
	addr := common.HexToAddress(raw)
	balance := s.book.BalanceOf(addr)
	c.JSON(http.StatusOK, gin.H{
		"address":         addr.Hex(),
		"balance":         balance.String(),
		"balance_decimal": decimal.NewFromBigInt(balance, -18).String(),
	})
}

func (s *Server) deposit(c *gin.Context) {
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		badRequest(c, "invalid address")
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	amount, ok := parseUnits(req.Amount)
	if !ok || amount.Sign() == 0 {
		badRequest(c, "invalid amount")
		return
	}
	addr := common.HexToAddress(raw)
	if err := s.book.Deposit(addr, amount); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "balance": s.book.BalanceOf(addr).String()})
}

func (s *Server) listEvents(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event journal disabled"})
		return
	}
	fromSeq, _ := strconv.ParseUint(c.DefaultQuery("from_seq", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	recs, err := s.journal.Range(c.Request.Context(), fromSeq, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": recs})
}
