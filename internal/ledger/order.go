// Package ledger holds the desk's order ledger: the order entity, the
// bounded append-only order sequence, per-maker indices, pending RWA
// settlement records and platform aggregates.
package ledger

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AssetClass distinguishes natively-settled value from assets settled
// off-ledger through the escrow keeper.
type AssetClass uint8

const (
	AssetCrypto AssetClass = iota
	AssetRWA
)

func (c AssetClass) String() string {
	switch c {
	case AssetCrypto:
		return "crypto"
	case AssetRWA:
		return "rwa"
	default:
		return fmt.Sprintf("asset_class(%d)", uint8(c))
	}
}

// ParseAssetClass maps the wire representation back to the enum.
func ParseAssetClass(s string) (AssetClass, error) {
	switch s {
	case "crypto":
		return AssetCrypto, nil
	case "rwa":
		return AssetRWA, nil
	default:
		return 0, fmt.Errorf("unknown asset class %q", s)
	}
}

// Side is the maker's side of the order.
type Side uint8

const (
	SideSell Side = iota
	SideBuy
)

func (s Side) String() string {
	switch s {
	case SideSell:
		return "sell"
	case SideBuy:
		return "buy"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// ParseSide maps the wire representation back to the enum.
func ParseSide(s string) (Side, error) {
	switch s {
	case "sell":
		return SideSell, nil
	case "buy":
		return SideBuy, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// Status is the order lifecycle state. Open is initial; Filled and
// Cancelled are terminal.
type Status uint8

const (
	StatusOpen Status = iota
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// PriceScale is the fixed-point denominator for pricePerUnit: prices
// carry 18 decimals, so value = amount * price / PriceScale.
var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// UnitValue converts a quantity at a given unit price into value,
// flooring like EVM integer division.
func UnitValue(amount, pricePerUnit *big.Int) *big.Int {
	v := new(big.Int).Mul(amount, pricePerUnit)
	return v.Quo(v, PriceScale)
}

// Order is the central ledger entity. All fields except FilledAmount
// and Status are immutable after creation.
type Order struct {
	ID           common.Hash
	Maker        common.Address
	AssetClass   AssetClass
	AssetRef     common.Hash
	Amount       *big.Int
	PricePerUnit *big.Int
	Side         Side
	FilledAmount *big.Int
	Status       Status
	CreatedAt    uint64 // ledger height (orders ever posted) at creation
	CreatedTime  time.Time
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() *big.Int {
	return new(big.Int).Sub(o.Amount, o.FilledAmount)
}

// TotalValue is amount * pricePerUnit / PriceScale.
func (o *Order) TotalValue() *big.Int {
	return UnitValue(o.Amount, o.PricePerUnit)
}

// Clone deep-copies the order so callers can never alias store state.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Amount = new(big.Int).Set(o.Amount)
	cp.PricePerUnit = new(big.Int).Set(o.PricePerUnit)
	cp.FilledAmount = new(big.Int).Set(o.FilledAmount)
	return &cp
}

// NewOrderID derives a 32-byte order id from the creation context.
// Uniqueness is guaranteed by the sequence counter; the hash only
// makes ids opaque and collision-resistant.
func NewOrderID(seq uint64, maker common.Address, unixNano int64) common.Hash {
	var buf [8 + common.AddressLength + 8]byte
	binary.BigEndian.PutUint64(buf[:8], seq)
	copy(buf[8:], maker.Bytes())
	binary.BigEndian.PutUint64(buf[8+common.AddressLength:], uint64(unixNano))
	return common.BytesToHash(crypto.Keccak256(buf[:]))
}

// RwaSettlement is the pending two-phase settlement record for an RWA
// order. A non-zero Taker marks the settlement as pending release.
type RwaSettlement struct {
	Taker      common.Address
	FillAmount *big.Int
}
