package journal

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clearhaven/otcx/internal/events"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	return j
}

func testEvent(seq uint64, typ string) events.Event {
	return events.Event{
		ID:        uuid.New(),
		Topic:     events.TopicOrders,
		Type:      typ,
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		Payload: events.Filled{
			OrderID:    common.HexToHash("0x01"),
			Taker:      common.HexToAddress("0x02"),
			FillAmount: big.NewInt(int64(seq)),
		},
	}
}

func TestAppendAndRange(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 5; seq++ {
		if err := j.Append(ctx, testEvent(seq, events.TypeFilled)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}

	recs, err := j.Range(ctx, 3, 10)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("range from 3: got %d records, want 3", len(recs))
	}
	if recs[0].Seq != 3 || recs[2].Seq != 5 {
		t.Errorf("records out of order: first=%d last=%d", recs[0].Seq, recs[2].Seq)
	}
	if !strings.Contains(recs[0].Payload, `"fill_amount":3`) {
		t.Errorf("payload not journaled: %s", recs[0].Payload)
	}

	limited, err := j.Range(ctx, 1, 2)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit: got %d records, want 2", len(limited))
	}
}

func TestAppendAssignsMissingID(t *testing.T) {
	j := openTestJournal(t)
	evt := testEvent(1, events.TypeFilled)
	evt.ID = uuid.Nil

	if err := j.Append(context.Background(), evt); err != nil {
		t.Fatalf("append: %v", err)
	}
	recs, err := j.Range(context.Background(), 0, 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("range: recs=%d err=%v", len(recs), err)
	}
	if recs[0].ID == uuid.Nil.String() {
		t.Error("record kept the nil id")
	}
}

func TestSubscribeJournalsBusEvents(t *testing.T) {
	j := openTestJournal(t)
	bus := events.NewInMemoryBus(zap.NewNop())
	j.Subscribe(bus)

	bus.Publish(context.Background(), testEvent(1, events.TypeFilled))
	bus.Publish(context.Background(), testEvent(2, events.TypeCancelled))

	recs, err := j.Range(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("journaled: got %d records, want 2", len(recs))
	}
	if recs[1].Type != events.TypeCancelled {
		t.Errorf("second record type: got %s", recs[1].Type)
	}
}
