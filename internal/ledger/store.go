package ledger

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// MaxOrders bounds the append-only order sequence.
	MaxOrders = 512
	// MaxPageSize caps every paginated read.
	MaxPageSize = 100
)

var (
	ErrNotFound         = errors.New("order not found")
	ErrNotOpen          = errors.New("order not open")
	ErrExceedsRemaining = errors.New("fill amount exceeds remaining")
	ErrZeroFill         = errors.New("fill amount must be positive")
	ErrCapacityExceeded = errors.New("order capacity exceeded")
	ErrIDCollision      = errors.New("order id collision")
	ErrIndexOutOfRange  = errors.New("index out of range")
)

// Store owns all ledger state. Mutations go through the settlement
// engine; reads return copies so no caller observes a partially
// updated order.
type Store struct {
	mu        sync.RWMutex
	orders    map[common.Hash]*Order
	sequence  []common.Hash
	byMaker   map[common.Address][]common.Hash
	pending   map[common.Hash]RwaSettlement
	totalFees *big.Int
	openCount int
}

// NewStore builds an empty ledger.
func NewStore() *Store {
	return &Store{
		orders:    make(map[common.Hash]*Order),
		byMaker:   make(map[common.Address][]common.Hash),
		pending:   make(map[common.Hash]RwaSettlement),
		totalFees: new(big.Int),
	}
}

// Insert appends an order to the sequence and the maker index. The
// store takes ownership of the order value.
func (s *Store) Insert(o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sequence) >= MaxOrders {
		return ErrCapacityExceeded
	}
	if _, exists := s.orders[o.ID]; exists {
		// Ids are derived from a monotonic counter, so a collision is
		// a programming error. Fail loudly, never overwrite.
		return ErrIDCollision
	}

	s.orders[o.ID] = o
	s.sequence = append(s.sequence, o.ID)
	s.byMaker[o.Maker] = append(s.byMaker[o.Maker], o.ID)
	if o.Status == StatusOpen {
		s.openCount++
	}
	return nil
}

// Get returns a copy of the order.
func (s *Store) Get(id common.Hash) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

// ApplyFill advances filledAmount and flips the order to Filled when
// it reaches the full amount. Returns whether the order completed.
func (s *Store) ApplyFill(id common.Hash, fillAmount *big.Int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.Status != StatusOpen {
		return false, ErrNotOpen
	}
	if fillAmount.Sign() <= 0 {
		return false, ErrZeroFill
	}
	remaining := new(big.Int).Sub(o.Amount, o.FilledAmount)
	if fillAmount.Cmp(remaining) > 0 {
		return false, ErrExceedsRemaining
	}

	o.FilledAmount.Add(o.FilledAmount, fillAmount)
	if o.FilledAmount.Cmp(o.Amount) == 0 {
		o.Status = StatusFilled
		s.openCount--
		return true, nil
	}
	return false, nil
}

// Cancel flips an open order to Cancelled.
func (s *Store) Cancel(id common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != StatusOpen {
		return ErrNotOpen
	}
	o.Status = StatusCancelled
	s.openCount--
	return nil
}

// TotalOrders is the ledger height: the count of orders ever posted.
func (s *Store) TotalOrders() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sequence)
}

// OpenOrders is the count of orders currently in the Open state.
func (s *Store) OpenOrders() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openCount
}

// OrderIDAt returns the id at a sequence position. Unlike the
// paginated reads this accessor is strict about bounds.
func (s *Store) OrderIDAt(i int) (common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 || i >= len(s.sequence) {
		return common.Hash{}, ErrIndexOutOfRange
	}
	return s.sequence[i], nil
}

// Paginate returns up to min(limit, MaxPageSize) ids starting at
// offset. Out-of-range input yields an empty page, never an error.
func (s *Store) Paginate(offset, limit int) []common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pageOf(s.sequence, offset, limit)
}

// PaginateWhere pages over the subsequence of orders matching pred.
// Offset and limit apply to the matching set.
func (s *Store) PaginateWhere(offset, limit int, pred func(*Order) bool) []common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]common.Hash, 0, len(s.sequence))
	for _, id := range s.sequence {
		if pred(s.orders[id]) {
			matched = append(matched, id)
		}
	}
	return pageOf(matched, offset, limit)
}

// MakerOrders pages over the append-only per-maker index.
func (s *Store) MakerOrders(maker common.Address, offset, limit int) []common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pageOf(s.byMaker[maker], offset, limit)
}

// MakerOrderCount is the number of orders a maker has ever posted.
func (s *Store) MakerOrderCount(maker common.Address) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byMaker[maker])
}

func pageOf(ids []common.Hash, offset, limit int) []common.Hash {
	if offset < 0 || limit <= 0 || offset >= len(ids) {
		return []common.Hash{}
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	out := make([]common.Hash, end-offset)
	copy(out, ids[offset:end])
	return out
}

// PutPending writes or overwrites the pending RWA settlement record
// for an order.
func (s *Store) PutPending(id common.Hash, rec RwaSettlement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.FillAmount = new(big.Int).Set(rec.FillAmount)
	s.pending[id] = rec
}

// Pending returns a copy of the pending record, if any.
func (s *Store) Pending(id common.Hash) (RwaSettlement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.pending[id]
	if !ok {
		return RwaSettlement{}, false
	}
	rec.FillAmount = new(big.Int).Set(rec.FillAmount)
	return rec, true
}

// DeletePending removes and returns the pending record.
func (s *Store) DeletePending(id common.Hash) (RwaSettlement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.pending[id]
	if !ok {
		return RwaSettlement{}, false
	}
	delete(s.pending, id)
	return rec, true
}

// AddFees grows the monotonic fee aggregate.
func (s *Store) AddFees(amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalFees.Add(s.totalFees, amount)
}

// TotalFeesCollected returns a copy of the fee aggregate.
func (s *Store) TotalFeesCollected() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.totalFees)
}
