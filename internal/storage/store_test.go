package storage

import (
	"context"
	"path/filepath"
	"testing"

	"samco_go/internal/domain"
	"samco_go/internal/event"
	"samco_go/pkg/quant"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Failed to create journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

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

func TestJournal_SaveAndLoad(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.SaveOrderEvent(ctx, orderEvent(1, "o-1", "B100", domain.StatusSubmitted)); err != nil {
		t.Fatalf("Failed to save event: %v", err)
	}
	if err := j.SaveOrderEvent(ctx, orderEvent(2, "o-1", "B100", domain.StatusFilled)); err != nil {
		t.Fatalf("Failed to save event: %v", err)
	}

	loaded, err := j.LoadOrderEvents(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to load events: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(loaded))
	}
	if loaded[0].GetSeq() != 1 || loaded[0].Status != domain.StatusSubmitted {
		t.Errorf("Event 1 mismatch: %+v", loaded[0])
	}
	if loaded[1].GetSeq() != 2 || loaded[1].Status != domain.StatusFilled {
		t.Errorf("Event 2 mismatch: %+v", loaded[1])
	}
}

func TestJournal_LastSeq(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	lastSeq, err := j.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq failed: %v", err)
	}
	if lastSeq != 0 {
		t.Errorf("Expected 0 for empty journal, got %d", lastSeq)
	}

	if err := j.SaveOrderEvent(ctx, orderEvent(5, "o-1", "B100", domain.StatusSubmitted)); err != nil {
		t.Fatalf("Failed to save event: %v", err)
	}
	if err := j.SaveOrderEvent(ctx, orderEvent(10, "o-2", "B101", domain.StatusSubmitted)); err != nil {
		t.Fatalf("Failed to save event: %v", err)
	}

	lastSeq, err = j.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq failed: %v", err)
	}
	if lastSeq != 10 {
		t.Errorf("Expected 10, got %d", lastSeq)
	}
}

func TestJournal_OrderByBrokerID(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	// Unknown broker id resolves to nothing.
	if _, ok, err := j.OrderByBrokerID(ctx, "B999"); err != nil || ok {
		t.Fatalf("Expected no match, got ok=%v err=%v", ok, err)
	}

	if err := j.SaveOrderEvent(ctx, orderEvent(1, "o-1", "B100", domain.StatusSubmitted)); err != nil {
		t.Fatalf("Failed to save event: %v", err)
	}

	o, ok, err := j.OrderByBrokerID(ctx, "B100")
	if err != nil || !ok {
		t.Fatalf("Expected match, got ok=%v err=%v", ok, err)
	}
	if o.ID != "o-1" || o.Symbol != "SBIN" || o.BrokerID != "B100" {
		t.Errorf("Reconstructed order mismatch: %+v", o)
	}

	// A terminal latest event means the order is no longer adoptable.
	if err := j.SaveOrderEvent(ctx, orderEvent(2, "o-1", "B100", domain.StatusFilled)); err != nil {
		t.Fatalf("Failed to save event: %v", err)
	}
	if _, ok, _ := j.OrderByBrokerID(ctx, "B100"); ok {
		t.Error("Terminal order must not be adoptable")
	}
}

func TestJournal_Metadata(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	v, err := j.GetMetadata(ctx, "session_token")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if v != "" {
		t.Errorf("Expected empty value for missing key, got %q", v)
	}

	if err := j.UpsertMetadata(ctx, "session_token", "abc", 1000); err != nil {
		t.Fatalf("UpsertMetadata failed: %v", err)
	}
	if err := j.UpsertMetadata(ctx, "session_token", "def", 2000); err != nil {
		t.Fatalf("UpsertMetadata failed: %v", err)
	}

	v, err = j.GetMetadata(ctx, "session_token")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if v != "def" {
		t.Errorf("Expected upserted value def, got %q", v)
	}
}
