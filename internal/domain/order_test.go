package domain

import "testing"

func TestOrder_IsOpen(t *testing.T) {
	tests := []struct {
		name   string
		status OrderStatus
		want   bool
	}{
		{"SUBMITTED", StatusSubmitted, true},
		{"UPDATE_SUBMITTED", StatusUpdateSubmitted, true},
		{"PARTIALLY_FILLED", StatusPartiallyFilled, true},
		{"FILLED", StatusFilled, false},
		{"CANCELED", StatusCanceled, false},
		{"INVALID", StatusInvalid, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{Status: tt.status}
			if got := o.IsOpen(); got != tt.want {
				t.Errorf("Order.IsOpen() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrder_SignedQuantity(t *testing.T) {
	buy := &Order{Side: "BUY", Quantity: 100}
	if got := buy.SignedQuantity(); got != 100 {
		t.Errorf("buy SignedQuantity = %d, want 100", got)
	}
	sell := &Order{Side: "SELL", Quantity: 100}
	if got := sell.SignedQuantity(); got != -100 {
		t.Errorf("sell SignedQuantity = %d, want -100", got)
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	if StatusSubmitted.Terminal() {
		t.Error("SUBMITTED should not be terminal")
	}
	for _, s := range []OrderStatus{StatusFilled, StatusCanceled, StatusInvalid} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
