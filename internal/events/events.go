// Package events defines the desk's domain events and the fan-out
// machinery that delivers them to subscribers and external sinks.
package events

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topics group events for routing to external sinks.
const (
	TopicOrders     = "otcx.orders"
	TopicSettlement = "otcx.settlement"
	TopicPlatform   = "otcx.platform"
)

// Event types.
const (
	TypePosted             = "order.posted"
	TypeRwaPosted          = "order.rwa_posted"
	TypeFilled             = "order.filled"
	TypeCancelled          = "order.cancelled"
	TypeSettlementReleased = "settlement.released"
	TypeTreasuryFee        = "treasury.fee"
	TypeTreasurySwept      = "treasury.swept"
	TypePlatformPaused     = "platform.paused"
	TypePlatformResumed    = "platform.resumed"
	TypeMinOrderUpdated    = "platform.min_order_updated"
	TypeFeeBpsUpdated      = "platform.fee_bps_updated"
)

// Event is the envelope around a typed payload. Seq is the settlement
// engine's operation sequence and orders events totally.
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Topic     string      `json:"topic"`
	Type      string      `json:"type"`
	Seq       uint64      `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Posted is emitted for every accepted order.
type Posted struct {
	OrderID    common.Hash    `json:"order_id"`
	Maker      common.Address `json:"maker"`
	AssetClass string         `json:"asset_class"`
	AssetRef   common.Hash    `json:"asset_ref"`
	Amount     *big.Int       `json:"amount"`
	Price      *big.Int       `json:"price"`
	Side       string         `json:"side"`
}

// RwaPosted is additionally emitted for RWA orders.
type RwaPosted struct {
	OrderID  common.Hash `json:"order_id"`
	AssetRef common.Hash `json:"asset_ref"`
	Amount   *big.Int    `json:"amount"`
	Price    *big.Int    `json:"price"`
}

// Filled is emitted for crypto fills and RWA fill records alike.
type Filled struct {
	OrderID    common.Hash    `json:"order_id"`
	Taker      common.Address `json:"taker"`
	FillAmount *big.Int       `json:"fill_amount"`
}

// Cancelled is emitted per cancelled order.
type Cancelled struct {
	OrderID common.Hash    `json:"order_id"`
	By      common.Address `json:"by"`
}

// SettlementReleased closes an RWA two-phase settlement.
type SettlementReleased struct {
	OrderID    common.Hash    `json:"order_id"`
	Maker      common.Address `json:"maker"`
	Taker      common.Address `json:"taker"`
	FillAmount *big.Int       `json:"fill_amount"`
	Value      *big.Int       `json:"value"`
}

// TreasuryFee is emitted for every fee transfer to the treasury.
type TreasuryFee struct {
	Treasury common.Address `json:"treasury"`
	Amount   *big.Int       `json:"amount"`
}

// TreasurySwept is emitted when the operator sweeps escrow value to
// the treasury outside of fee collection.
type TreasurySwept struct {
	Treasury common.Address `json:"treasury"`
	Amount   *big.Int       `json:"amount"`
}

// PlatformPaused and PlatformResumed record pause gate flips.
type PlatformPaused struct {
	By common.Address `json:"by"`
}

type PlatformResumed struct {
	By common.Address `json:"by"`
}

// MinOrderUpdated records a minimum order value change.
type MinOrderUpdated struct {
	Old *big.Int `json:"old"`
	New *big.Int `json:"new"`
}

// FeeBpsUpdated records a fee rate change.
type FeeBpsUpdated struct {
	Old uint64 `json:"old"`
	New uint64 `json:"new"`
}

// Handler consumes events. Handlers must not block.
type Handler func(ctx context.Context, evt Event)

// Bus fans events out to subscribers.
type Bus interface {
	Publish(ctx context.Context, evt Event)
	Subscribe(topic string, h Handler)
}

// InMemoryBus delivers events synchronously in publish order so sinks
// like the journal observe the same total order the ledger produced.
// A panicking handler is recovered and logged, never propagated.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *zap.Logger
}

// NewInMemoryBus builds an empty bus.
func NewInMemoryBus(log *zap.Logger) *InMemoryBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &InMemoryBus{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

// Subscribe registers a handler for a topic. The empty topic receives
// every event.
func (b *InMemoryBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish delivers the event to topic subscribers and wildcard
// subscribers, in registration order.
func (b *InMemoryBus) Publish(ctx context.Context, evt Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[evt.Topic])+len(b.handlers[""]))
	hs = append(hs, b.handlers[evt.Topic]...)
	hs = append(hs, b.handlers[""]...)
	b.mu.RUnlock()

	for _, h := range hs {
		b.deliver(ctx, h, evt)
	}
}

func (b *InMemoryBus) deliver(ctx context.Context, h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("topic", evt.Topic),
				zap.String("type", evt.Type),
				zap.Uint64("seq", evt.Seq),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, evt)
}
