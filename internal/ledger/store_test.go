package ledger

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func testOrder(seq uint64, maker common.Address) *Order {
	now := time.Now()
	return &Order{
		ID:           NewOrderID(seq, maker, now.UnixNano()),
		Maker:        maker,
		AssetClass:   AssetCrypto,
		Amount:       big.NewInt(100),
		PricePerUnit: new(big.Int).Set(PriceScale),
		Side:         SideSell,
		FilledAmount: new(big.Int),
		Status:       StatusOpen,
		CreatedAt:    seq,
		CreatedTime:  now,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := NewStore()
	maker := common.HexToAddress("0x01")
	o := testOrder(1, maker)
	if err := s.Insert(o); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Get(o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != o.ID || got.Maker != maker {
		t.Errorf("got order %+v", got)
	}

	// Reads are copies; mutating one must not leak into the store.
	got.FilledAmount.SetInt64(42)
	again, _ := s.Get(o.ID)
	if again.FilledAmount.Sign() != 0 {
		t.Error("store state aliased by a read")
	}

	if _, err := s.Get(common.HexToHash("0xdead")); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id: got %v, want ErrNotFound", err)
	}
}

func TestInsertRejectsCollision(t *testing.T) {
	s := NewStore()
	o := testOrder(1, common.HexToAddress("0x01"))
	if err := s.Insert(o); err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := testOrder(2, common.HexToAddress("0x02"))
	dup.ID = o.ID
	if err := s.Insert(dup); !errors.Is(err, ErrIDCollision) {
		t.Errorf("colliding insert: got %v, want ErrIDCollision", err)
	}
	if s.TotalOrders() != 1 {
		t.Errorf("total orders: got %d, want 1", s.TotalOrders())
	}
}

func TestInsertCapacity(t *testing.T) {
	s := NewStore()
	maker := common.HexToAddress("0x01")
	for i := 0; i < MaxOrders; i++ {
		if err := s.Insert(testOrder(uint64(i), maker)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := s.Insert(testOrder(MaxOrders, maker)); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("insert at capacity: got %v, want ErrCapacityExceeded", err)
	}
}

func TestApplyFillTransitions(t *testing.T) {
	s := NewStore()
	o := testOrder(1, common.HexToAddress("0x01"))
	s.Insert(o)

	completed, err := s.ApplyFill(o.ID, big.NewInt(40))
	if err != nil || completed {
		t.Fatalf("partial fill: completed=%v err=%v", completed, err)
	}
	completed, err = s.ApplyFill(o.ID, big.NewInt(60))
	if err != nil || !completed {
		t.Fatalf("completing fill: completed=%v err=%v", completed, err)
	}

	got, _ := s.Get(o.ID)
	if got.Status != StatusFilled {
		t.Errorf("status: got %v, want filled", got.Status)
	}
	if _, err := s.ApplyFill(o.ID, big.NewInt(1)); !errors.Is(err, ErrNotOpen) {
		t.Errorf("fill after completion: got %v, want ErrNotOpen", err)
	}

	o2 := testOrder(2, common.HexToAddress("0x01"))
	s.Insert(o2)
	if _, err := s.ApplyFill(o2.ID, big.NewInt(101)); !errors.Is(err, ErrExceedsRemaining) {
		t.Errorf("over-fill: got %v, want ErrExceedsRemaining", err)
	}
	if _, err := s.ApplyFill(o2.ID, big.NewInt(0)); !errors.Is(err, ErrZeroFill) {
		t.Errorf("zero fill: got %v, want ErrZeroFill", err)
	}
}

func TestCancelTransitions(t *testing.T) {
	s := NewStore()
	o := testOrder(1, common.HexToAddress("0x01"))
	s.Insert(o)

	if err := s.Cancel(o.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.Cancel(o.ID); !errors.Is(err, ErrNotOpen) {
		t.Errorf("second cancel: got %v, want ErrNotOpen", err)
	}
	if s.OpenOrders() != 0 {
		t.Errorf("open orders: got %d, want 0", s.OpenOrders())
	}
}

func TestPaginateDefensiveReads(t *testing.T) {
	s := NewStore()
	maker := common.HexToAddress("0x01")
	for i := 0; i < 10; i++ {
		s.Insert(testOrder(uint64(i), maker))
	}

	if got := s.Paginate(0, 5); len(got) != 5 {
		t.Errorf("page: got %d ids, want 5", len(got))
	}
	if got := s.Paginate(8, 5); len(got) != 2 {
		t.Errorf("tail page: got %d ids, want 2", len(got))
	}
	// Out-of-range reads return empty pages, never errors.
	if got := s.Paginate(100, 5); len(got) != 0 {
		t.Errorf("past-end page: got %d ids, want 0", len(got))
	}
	if got := s.Paginate(-1, 5); len(got) != 0 {
		t.Errorf("negative offset: got %d ids, want 0", len(got))
	}
	// The batch cap clamps oversized limits.
	if got := s.Paginate(0, MaxPageSize+50); len(got) != 10 {
		t.Errorf("clamped page: got %d ids, want 10", len(got))
	}
}

func TestOrderIDAtIsStrict(t *testing.T) {
	s := NewStore()
	o := testOrder(1, common.HexToAddress("0x01"))
	s.Insert(o)

	id, err := s.OrderIDAt(0)
	if err != nil || id != o.ID {
		t.Fatalf("at 0: id=%s err=%v", id.Hex(), err)
	}
	if _, err := s.OrderIDAt(1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("past end: got %v, want ErrIndexOutOfRange", err)
	}
	if _, err := s.OrderIDAt(-1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("negative: got %v, want ErrIndexOutOfRange", err)
	}
}

func TestMakerIndexIsAppendOnly(t *testing.T) {
	s := NewStore()
	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")
	a1 := testOrder(1, alice)
	a2 := testOrder(2, alice)
	b1 := testOrder(3, bob)
	s.Insert(a1)
	s.Insert(b1)
	s.Insert(a2)

	// Cancelled orders remain listed.
	s.Cancel(a1.ID)

	got := s.MakerOrders(alice, 0, 10)
	if len(got) != 2 || got[0] != a1.ID || got[1] != a2.ID {
		t.Errorf("maker index: got %d ids", len(got))
	}
	if s.MakerOrderCount(bob) != 1 {
		t.Errorf("bob count: got %d, want 1", s.MakerOrderCount(bob))
	}
}

func TestPaginateWhere(t *testing.T) {
	s := NewStore()
	maker := common.HexToAddress("0x01")
	for i := 0; i < 6; i++ {
		o := testOrder(uint64(i), maker)
		if i%2 == 0 {
			o.Side = SideBuy
		}
		s.Insert(o)
	}

	buys := s.PaginateWhere(0, 10, func(o *Order) bool { return o.Side == SideBuy })
	if len(buys) != 3 {
		t.Errorf("buy filter: got %d ids, want 3", len(buys))
	}
	second := s.PaginateWhere(1, 1, func(o *Order) bool { return o.Side == SideBuy })
	if len(second) != 1 || second[0] != buys[1] {
		t.Error("filtered offset should apply to the matching set")
	}
}

func TestPendingRecords(t *testing.T) {
	s := NewStore()
	id := common.HexToHash("0x01")
	taker := common.HexToAddress("0x02")

	if _, ok := s.Pending(id); ok {
		t.Fatal("pending on empty store")
	}
	s.PutPending(id, RwaSettlement{Taker: taker, FillAmount: big.NewInt(10)})
	s.PutPending(id, RwaSettlement{Taker: taker, FillAmount: big.NewInt(25)})

	rec, ok := s.Pending(id)
	if !ok || rec.FillAmount.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("pending: ok=%v rec=%+v", ok, rec)
	}

	if _, ok := s.DeletePending(id); !ok {
		t.Fatal("delete pending")
	}
	if _, ok := s.DeletePending(id); ok {
		t.Fatal("second delete should find nothing")
	}
}

func TestConcurrentReadsDuringFills(t *testing.T) {
	s := NewStore()
	maker := common.HexToAddress("0x01")
	o := testOrder(1, maker)
	o.Amount = big.NewInt(1000)
	s.Insert(o)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.ApplyFill(o.ID, big.NewInt(10))
		}()
		go func() {
			defer wg.Done()
			got, err := s.Get(o.ID)
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			// Snapshot consistency: a filled-to-capacity order must
			// already carry the terminal status.
			if got.FilledAmount.Cmp(got.Amount) == 0 && got.Status == StatusOpen {
				t.Error("observed full fill with open status")
			}
			if got.FilledAmount.Cmp(got.Amount) > 0 {
				t.Error("filled amount exceeds amount")
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get(o.ID)
	if got.Status != StatusFilled || got.FilledAmount.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("final order: status=%v filled=%s", got.Status, got.FilledAmount)
	}
}

func TestOrderIDDerivation(t *testing.T) {
	maker := common.HexToAddress("0x01")
	a := NewOrderID(1, maker, 1000)
	b := NewOrderID(2, maker, 1000)
	if a == b {
		t.Error("distinct sequence numbers must give distinct ids")
	}
	if a != NewOrderID(1, maker, 1000) {
		t.Error("id derivation must be deterministic")
	}
}
