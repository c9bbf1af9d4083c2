package domain

import "samco_go/pkg/quant"

// OrderStatus represents the lifecycle state of an order as seen by the engine.
type OrderStatus string

const (
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusUpdateSubmitted OrderStatus = "UPDATE_SUBMITTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusInvalid         OrderStatus = "INVALID"
)

// Terminal reports whether no further transitions can follow.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusInvalid
}

// Order represents a trading order owned by the host engine.
// The bridge holds references and tracks broker-side identity.
type Order struct {
	ID          string // engine-internal order id
	Symbol      string
	Exchange    string // "NSE", "BSE", "NFO"
	Side        string // "BUY", "SELL"
	Type        string // "L" (limit), "MKT" (market), "SL" (stop-loss)
	ProductType string // "MIS", "CNC", "NRML"
	Validity    string // "DAY", "IOC"
	Quantity    int64  // shares; always positive, direction comes from Side
	PriceMicros quant.PriceMicros

	// BrokerID is the broker-assigned order number. At most one broker id is
	// active per engine order; modification replaces it, never appends.
	BrokerID string

	Status OrderStatus
}

// IsOpen checks if the order is still active at the broker.
func (o *Order) IsOpen() bool {
	return o.Status == StatusSubmitted ||
		o.Status == StatusUpdateSubmitted ||
		o.Status == StatusPartiallyFilled
}

// SignedQuantity returns the order quantity with sell direction negated.
func (o *Order) SignedQuantity() int64 {
	if o.Side == "SELL" {
		return -o.Quantity
	}
	return o.Quantity
}
