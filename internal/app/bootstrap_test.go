package app

import (
	"context"
	"path/filepath"
	"testing"

	"samco_go/internal/domain"
	"samco_go/internal/event"
	"samco_go/internal/storage"
	"samco_go/pkg/quant"
)

func orderEvent(seq uint64, orderID, brokerID string, status domain.OrderStatus) event.OrderEvent {
	return event.OrderEvent{
		BaseEvent: event.BaseEvent{Seq: seq, Ts: quant.TimeStamp(int64(seq) * 1000)},
		OrderID:   orderID,
		BrokerID:  brokerID,
		Status:    status,
		Symbol:    "SBIN",
		Exchange:  "NSE",
	}
}

func TestBootstrap_ReplayOrderEvents(t *testing.T) {
	journal, err := storage.NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer journal.Close()

	ctx := context.Background()
	statuses := []domain.OrderStatus{domain.StatusSubmitted, domain.StatusPartiallyFilled, domain.StatusFilled}
	for i, st := range statuses {
		if err := journal.SaveOrderEvent(ctx, orderEvent(uint64(i+1), "o-1", "B100", st)); err != nil {
			t.Fatalf("save event: %v", err)
		}
	}

	b := &Bootstrap{Journal: journal, events: make(chan event.Event, 8)}
	n, err := b.ReplayOrderEvents(ctx, 2)
	if err != nil {
		t.Fatalf("ReplayOrderEvents: %v", err)
	}
	if n != 2 {
		t.Fatalf("replayed %d events, want 2", n)
	}

	for want := uint64(2); want <= 3; want++ {
		ev := <-b.events
		oe, ok := ev.(event.OrderEvent)
		if !ok {
			t.Fatalf("replayed event type %T", ev)
		}
		if oe.GetSeq() != want {
			t.Errorf("seq = %d, want %d", oe.GetSeq(), want)
		}
		if oe.OrderID != "o-1" {
			t.Errorf("order id = %q, want o-1", oe.OrderID)
		}
	}
}
