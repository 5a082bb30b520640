// Package settlement implements the desk's order settlement state
// machine: posting, filling, cancelling and the two-phase RWA release
// protocol. Every mutating operation commits ledger state, value
// moves and events as one unit or not at all.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clearhaven/otcx/internal/access"
	"github.com/clearhaven/otcx/internal/events"
	"github.com/clearhaven/otcx/internal/funds"
	"github.com/clearhaven/otcx/internal/ledger"
	"github.com/clearhaven/otcx/pkg/metrics"
)

var (
	ErrInvalidAssetClass         = errors.New("invalid asset class for operation")
	ErrZeroAmount                = errors.New("amount must be positive")
	ErrZeroPrice                 = errors.New("price must be positive")
	ErrBelowMinimum              = errors.New("order value below minimum")
	ErrInsufficientAttachedValue = errors.New("attached value below required")
	ErrFundingMismatch           = errors.New("attached value does not match required funding")
	ErrSettlementNotReady        = errors.New("no pending settlement for order")
	ErrTransferFailed            = errors.New("value transfer failed")
	ErrReentrant                 = errors.New("reentrant call")
)

// PostOrderRequest carries the parameters of a new order.
type PostOrderRequest struct {
	AssetClass    ledger.AssetClass
	AssetRef      common.Hash
	Amount        *big.Int
	PricePerUnit  *big.Int
	Side          ledger.Side
	AttachedValue *big.Int
}

// Engine is the settlement engine. All mutations run single-flight: a
// second mutating call while one is in flight fails fast with
// ErrReentrant. That kills logical reentrancy from transfer callbacks
// and serializes writers, so "move value then commit state" is atomic
// for every observer.
type Engine struct {
	store  *ledger.Store
	book   *funds.Book
	ctrl   *access.Controller
	bus    events.Bus
	escrow common.Address
	log    *zap.Logger

	busy atomic.Bool
	seq  atomic.Uint64
}

// NewEngine wires the engine. escrow is the desk's own account on the
// value book; sell-side inventory and pending fees live there.
func NewEngine(store *ledger.Store, book *funds.Book, ctrl *access.Controller, bus events.Bus, escrow common.Address, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:  store,
		book:   book,
		ctrl:   ctrl,
		bus:    bus,
		escrow: escrow,
		log:    log,
	}
}

// EscrowAccount is the address holding escrowed value.
func (e *Engine) EscrowAccount() common.Address {
	return e.escrow
}

// Sequence is the number of committed mutating operations.
func (e *Engine) Sequence() uint64 {
	return e.seq.Load()
}

// guard acquires the single-flight latch. Callers must invoke the
// returned release exactly once.
func (e *Engine) guard(op string) (func(), error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrReentrant
	}
	start := time.Now()
	return func() {
		e.busy.Store(false)
		metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}, nil
}

func (e *Engine) emit(ctx context.Context, topic, typ string, seq uint64, payload interface{}) {
	e.bus.Publish(ctx, events.Event{
		ID:        uuid.New(),
		Topic:     topic,
		Type:      typ,
		Seq:       seq,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func (e *Engine) move(moves []funds.Move) error {
	if len(moves) == 0 {
		return nil
	}
	if err := e.book.Apply(moves); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// PostOrder validates and records a new order, escrowing sell-side
// crypto inventory. Returns the new order id.
func (e *Engine) PostOrder(ctx context.Context, maker common.Address, req PostOrderRequest) (common.Hash, error) {
	release, err := e.guard("post")
	if err != nil {
		return common.Hash{}, err
	}
	defer release()

	if err := e.ctrl.RequireNotPaused(); err != nil {
		return common.Hash{}, err
	}
	if req.AssetClass != ledger.AssetCrypto && req.AssetClass != ledger.AssetRWA {
		return common.Hash{}, ErrInvalidAssetClass
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return common.Hash{}, ErrZeroAmount
	}
	if req.PricePerUnit == nil || req.PricePerUnit.Sign() <= 0 {
		return common.Hash{}, ErrZeroPrice
	}
	totalValue := ledger.UnitValue(req.Amount, req.PricePerUnit)
	if totalValue.Cmp(e.ctrl.MinOrderValue()) < 0 {
		return common.Hash{}, ErrBelowMinimum
	}
	if e.store.TotalOrders() >= ledger.MaxOrders {
		return common.Hash{}, ledger.ErrCapacityExceeded
	}

	attached := req.AttachedValue
	if attached == nil {
		attached = new(big.Int)
	}
	var moves []funds.Move
	if req.Side == ledger.SideSell && req.AssetClass == ledger.AssetCrypto {
		// Sell-side inventory is escrowed for the life of the order
		// and must be funded exactly.
		if attached.Cmp(req.Amount) != 0 {
			return common.Hash{}, ErrFundingMismatch
		}
		moves = append(moves, funds.Move{From: maker, To: e.escrow, Amount: new(big.Int).Set(req.Amount)})
	} else if attached.Sign() != 0 {
		return common.Hash{}, ErrFundingMismatch
	}

	seq := e.seq.Add(1)
	now := time.Now()
	order := &ledger.Order{
		ID:           ledger.NewOrderID(seq, maker, now.UnixNano()),
		Maker:        maker,
		AssetClass:   req.AssetClass,
		AssetRef:     req.AssetRef,
		Amount:       new(big.Int).Set(req.Amount),
		PricePerUnit: new(big.Int).Set(req.PricePerUnit),
		Side:         req.Side,
		FilledAmount: new(big.Int),
		Status:       ledger.StatusOpen,
		CreatedAt:    uint64(e.store.TotalOrders()),
		CreatedTime:  now,
	}

	if err := e.move(moves); err != nil {
		return common.Hash{}, err
	}
	if err := e.store.Insert(order); err != nil {
		// Unwind the escrow leg so a failed insert commits nothing.
		for i := range moves {
			moves[i].From, moves[i].To = moves[i].To, moves[i].From
		}
		if uerr := e.book.Apply(moves); uerr != nil {
			e.log.Error("failed to unwind escrow after insert failure", zap.Error(uerr))
		}
		return common.Hash{}, fmt.Errorf("failed to record order: %w", err)
	}

	metrics.OrdersPosted.WithLabelValues(order.Side.String(), order.AssetClass.String()).Inc()
	metrics.OpenOrders.Set(float64(e.store.OpenOrders()))

	e.emit(ctx, events.TopicOrders, events.TypePosted, seq, events.Posted{
		OrderID:    order.ID,
		Maker:      order.Maker,
		AssetClass: order.AssetClass.String(),
		AssetRef:   order.AssetRef,
		Amount:     new(big.Int).Set(order.Amount),
		Price:      new(big.Int).Set(order.PricePerUnit),
		Side:       order.Side.String(),
	})
	if order.AssetClass == ledger.AssetRWA {
		e.emit(ctx, events.TopicOrders, events.TypeRwaPosted, seq, events.RwaPosted{
			OrderID:  order.ID,
			AssetRef: order.AssetRef,
			Amount:   new(big.Int).Set(order.Amount),
			Price:    new(big.Int).Set(order.PricePerUnit),
		})
	}

	e.log.Info("order posted",
		zap.String("order_id", order.ID.Hex()),
		zap.String("maker", order.Maker.Hex()),
		zap.String("side", order.Side.String()),
		zap.String("asset_class", order.AssetClass.String()),
	)
	return order.ID, nil
}

// FillOrder settles a crypto fill at the posted price. The taker
// attaches at least fillAmount * price / 1e18 of value. Sell-side
// fills pay the maker and refund excess; buy-side fills retain the
// attached value in escrow with no outbound leg besides the fee.
func (e *Engine) FillOrder(ctx context.Context, taker common.Address, id common.Hash, fillAmount, attachedValue *big.Int) error {
	release, err := e.guard("fill")
	if err != nil {
		return err
	}
	defer release()

	if err := e.ctrl.RequireNotPaused(); err != nil {
		return err
	}
	order, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if order.AssetClass != ledger.AssetCrypto {
		return ErrInvalidAssetClass
	}
	if order.Status != ledger.StatusOpen {
		return ledger.ErrNotOpen
	}
	if fillAmount == nil || fillAmount.Sign() <= 0 {
		return ledger.ErrZeroFill
	}
	if fillAmount.Cmp(order.Remaining()) > 0 {
		return ledger.ErrExceedsRemaining
	}

	takerValue := ledger.UnitValue(fillAmount, order.PricePerUnit)
	attached := attachedValue
	if attached == nil {
		attached = new(big.Int)
	}
	if attached.Cmp(takerValue) < 0 {
		return ErrInsufficientAttachedValue
	}
	fee := feeFor(takerValue, e.ctrl.FeeBps())

	moves := []funds.Move{{From: taker, To: e.escrow, Amount: new(big.Int).Set(attached)}}
	if order.Side == ledger.SideSell {
		moves = append(moves, funds.Move{From: e.escrow, To: order.Maker, Amount: new(big.Int).Set(takerValue)})
		if excess := new(big.Int).Sub(attached, takerValue); excess.Sign() > 0 {
			moves = append(moves, funds.Move{From: e.escrow, To: taker, Amount: excess})
		}
	}
	// Buy side: the attached value satisfies the order's value
	// requirement in place; no payout leg exists on this path.
	if fee.Sign() > 0 {
		moves = append(moves, funds.Move{From: e.escrow, To: e.ctrl.Roles().Treasury, Amount: new(big.Int).Set(fee)})
	}

	if err := e.move(moves); err != nil {
		return err
	}

	seq := e.seq.Add(1)
	if _, err := e.store.ApplyFill(id, fillAmount); err != nil {
		// Preconditions were checked under the latch; this is a
		// programming error.
		return fmt.Errorf("failed to apply fill: %w", err)
	}
	if fee.Sign() > 0 {
		e.store.AddFees(fee)
		feeF, _ := new(big.Float).SetInt(fee).Float64()
		metrics.FeesCollected.Add(feeF)
	}
	metrics.OrdersFilled.WithLabelValues(order.AssetClass.String()).Inc()
	metrics.OpenOrders.Set(float64(e.store.OpenOrders()))

	e.emit(ctx, events.TopicOrders, events.TypeFilled, seq, events.Filled{
		OrderID:    id,
		Taker:      taker,
		FillAmount: new(big.Int).Set(fillAmount),
	})
	if fee.Sign() > 0 {
		e.emit(ctx, events.TopicSettlement, events.TypeTreasuryFee, seq, events.TreasuryFee{
			Treasury: e.ctrl.Roles().Treasury,
			Amount:   new(big.Int).Set(fee),
		})
	}

	e.log.Info("order filled",
		zap.String("order_id", id.Hex()),
		zap.String("taker", taker.Hex()),
		zap.String("fill_amount", fillAmount.String()),
		zap.String("fee", fee.String()),
	)
	return nil
}

// CancelOrder cancels one open order. The caller must be the order's
// maker or the operator. Unfilled sell-side crypto inventory is
// refunded to the maker. Cancellation stays available while paused.
func (e *Engine) CancelOrder(ctx context.Context, actor common.Address, id common.Hash) error {
	release, err := e.guard("cancel")
	if err != nil {
		return err
	}
	defer release()
	return e.cancelLocked(ctx, actor, id)
}

// CancelOrders cancels a batch. Entries that do not qualify (missing,
// not open, caller not authorized, refund rejected) are skipped; the
// batch never fails whole.
func (e *Engine) CancelOrders(ctx context.Context, actor common.Address, ids []common.Hash) error {
	release, err := e.guard("cancel_batch")
	if err != nil {
		return err
	}
	defer release()

	for _, id := range ids {
		if err := e.cancelLocked(ctx, actor, id); err != nil {
			e.log.Debug("skipping batch cancel entry",
				zap.String("order_id", id.Hex()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (e *Engine) cancelLocked(ctx context.Context, actor common.Address, id common.Hash) error {
	order, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if order.Status != ledger.StatusOpen {
		return ledger.ErrNotOpen
	}
	if actor != order.Maker {
		if err := e.ctrl.RequireOperator(actor); err != nil {
			return err
		}
	}

	if order.Side == ledger.SideSell && order.AssetClass == ledger.AssetCrypto {
		if unfilled := order.Remaining(); unfilled.Sign() > 0 {
			if err := e.move([]funds.Move{{From: e.escrow, To: order.Maker, Amount: unfilled}}); err != nil {
				return err
			}
		}
	}

	seq := e.seq.Add(1)
	if err := e.store.Cancel(id); err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	metrics.OrdersCancelled.Inc()
	metrics.OpenOrders.Set(float64(e.store.OpenOrders()))

	e.emit(ctx, events.TopicOrders, events.TypeCancelled, seq, events.Cancelled{OrderID: id, By: actor})

	e.log.Info("order cancelled",
		zap.String("order_id", id.Hex()),
		zap.String("by", actor.Hex()),
	)
	return nil
}

// RecordRwaFill attests an off-ledger fill of an RWA order. Escrow
// keeper only. The pending settlement record is overwritten if one
// already exists; value movement is deferred to release.
func (e *Engine) RecordRwaFill(ctx context.Context, keeper common.Address, id common.Hash, taker common.Address, fillAmount *big.Int) error {
	release, err := e.guard("rwa_record")
	if err != nil {
		return err
	}
	defer release()

	if err := e.ctrl.RequireKeeper(keeper); err != nil {
		return err
	}
	order, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if order.AssetClass != ledger.AssetRWA {
		return ErrInvalidAssetClass
	}
	if order.Status != ledger.StatusOpen {
		return ledger.ErrNotOpen
	}
	if fillAmount == nil || fillAmount.Sign() <= 0 {
		return ledger.ErrZeroFill
	}
	if fillAmount.Cmp(order.Remaining()) > 0 {
		return ledger.ErrExceedsRemaining
	}

	seq := e.seq.Add(1)
	e.store.PutPending(id, ledger.RwaSettlement{Taker: taker, FillAmount: fillAmount})
	if _, err := e.store.ApplyFill(id, fillAmount); err != nil {
		return fmt.Errorf("failed to apply rwa fill: %w", err)
	}
	metrics.OrdersFilled.WithLabelValues(order.AssetClass.String()).Inc()
	metrics.OpenOrders.Set(float64(e.store.OpenOrders()))

	e.emit(ctx, events.TopicOrders, events.TypeFilled, seq, events.Filled{
		OrderID:    id,
		Taker:      taker,
		FillAmount: new(big.Int).Set(fillAmount),
	})

	e.log.Info("rwa fill recorded",
		zap.String("order_id", id.Hex()),
		zap.String("taker", taker.Hex()),
		zap.String("fill_amount", fillAmount.String()),
	)
	return nil
}

// ReleaseRwaSettlement closes a pending RWA settlement. Escrow keeper
// only. The fee transfer happens only when 0 < feeValue <= value; the
// pending record is deleted either way, so a second release without a
// new fill record fails with ErrSettlementNotReady.
func (e *Engine) ReleaseRwaSettlement(ctx context.Context, keeper common.Address, id common.Hash, feeValue *big.Int) error {
	release, err := e.guard("rwa_release")
	if err != nil {
		return err
	}
	defer release()

	if err := e.ctrl.RequireKeeper(keeper); err != nil {
		return err
	}
	rec, ok := e.store.Pending(id)
	if !ok {
		return ErrSettlementNotReady
	}
	order, err := e.store.Get(id)
	if err != nil {
		return err
	}

	value := ledger.UnitValue(rec.FillAmount, order.PricePerUnit)
	fee := feeValue
	if fee == nil {
		fee = new(big.Int)
	}

	chargeFee := fee.Sign() > 0 && fee.Cmp(value) <= 0
	if chargeFee {
		if err := e.move([]funds.Move{{From: e.escrow, To: e.ctrl.Roles().Treasury, Amount: new(big.Int).Set(fee)}}); err != nil {
			return err
		}
	}

	seq := e.seq.Add(1)
	e.store.DeletePending(id)
	if chargeFee {
		e.store.AddFees(fee)
		feeF, _ := new(big.Float).SetInt(fee).Float64()
		metrics.FeesCollected.Add(feeF)
		e.emit(ctx, events.TopicSettlement, events.TypeTreasuryFee, seq, events.TreasuryFee{
			Treasury: e.ctrl.Roles().Treasury,
			Amount:   new(big.Int).Set(fee),
		})
	}
	metrics.SettlementReleases.Inc()

	e.emit(ctx, events.TopicSettlement, events.TypeSettlementReleased, seq, events.SettlementReleased{
		OrderID:    id,
		Maker:      order.Maker,
		Taker:      rec.Taker,
		FillAmount: new(big.Int).Set(rec.FillAmount),
		Value:      value,
	})

	e.log.Info("rwa settlement released",
		zap.String("order_id", id.Hex()),
		zap.String("taker", rec.Taker.Hex()),
		zap.String("value", value.String()),
	)
	return nil
}

// feeFor computes takerValue * bps / 10000 with floor division.
func feeFor(takerValue *big.Int, bps uint64) *big.Int {
	if bps == 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(takerValue, new(big.Int).SetUint64(bps))
	return fee.Quo(fee, big.NewInt(10000))
}
