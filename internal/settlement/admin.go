package settlement

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/clearhaven/otcx/internal/events"
	"github.com/clearhaven/otcx/internal/funds"
)

// Pause closes the posting and filling gates. Operator only.
func (e *Engine) Pause(ctx context.Context, actor common.Address) error {
	release, err := e.guard("pause")
	if err != nil {
		return err
	}
	defer release()

	if err := e.ctrl.SetPaused(actor, true); err != nil {
		return err
	}
	seq := e.seq.Add(1)
	e.emit(ctx, events.TopicPlatform, events.TypePlatformPaused, seq, events.PlatformPaused{By: actor})
	return nil
}

// Resume reopens the posting and filling gates. Operator only.
func (e *Engine) Resume(ctx context.Context, actor common.Address) error {
	release, err := e.guard("resume")
	if err != nil {
		return err
	}
	defer release()

	if err := e.ctrl.SetPaused(actor, false); err != nil {
		return err
	}
	seq := e.seq.Add(1)
	e.emit(ctx, events.TopicPlatform, events.TypePlatformResumed, seq, events.PlatformResumed{By: actor})
	return nil
}

// SetMinOrderValue updates the smallest acceptable order value,
// effective for subsequent posts. Operator only.
func (e *Engine) SetMinOrderValue(ctx context.Context, actor common.Address, v *big.Int) error {
	release, err := e.guard("set_min_order")
	if err != nil {
		return err
	}
	defer release()

	old, err := e.ctrl.SetMinOrderValue(actor, v)
	if err != nil {
		return err
	}
	seq := e.seq.Add(1)
	e.emit(ctx, events.TopicPlatform, events.TypeMinOrderUpdated, seq, events.MinOrderUpdated{
		Old: old,
		New: e.ctrl.MinOrderValue(),
	})
	return nil
}

// SetFeeBps updates the fee rate, effective for subsequent fills.
// Operator only; capped at 100%.
func (e *Engine) SetFeeBps(ctx context.Context, actor common.Address, bps uint64) error {
	release, err := e.guard("set_fee_bps")
	if err != nil {
		return err
	}
	defer release()

	old, err := e.ctrl.SetFeeBps(actor, bps)
	if err != nil {
		return err
	}
	seq := e.seq.Add(1)
	e.emit(ctx, events.TopicPlatform, events.TypeFeeBpsUpdated, seq, events.FeeBpsUpdated{Old: old, New: bps})
	return nil
}

// SweepToTreasury moves unencumbered escrow value to the treasury.
// Operator only. Sweeps are not fee collection and do not touch the
// fee aggregate.
func (e *Engine) SweepToTreasury(ctx context.Context, actor common.Address, amount *big.Int) error {
	release, err := e.guard("sweep")
	if err != nil {
		return err
	}
	defer release()

	if err := e.ctrl.RequireOperator(actor); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	treasury := e.ctrl.Roles().Treasury
	if err := e.move([]funds.Move{{From: e.escrow, To: treasury, Amount: new(big.Int).Set(amount)}}); err != nil {
		return err
	}
	seq := e.seq.Add(1)
	e.emit(ctx, events.TopicSettlement, events.TypeTreasurySwept, seq, events.TreasurySwept{
		Treasury: treasury,
		Amount:   new(big.Int).Set(amount),
	})

	e.log.Info("escrow swept to treasury",
		zap.String("by", actor.Hex()),
		zap.String("amount", amount.String()),
	)
	return nil
}
