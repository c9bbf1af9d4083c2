package event

import (
	"samco_go/internal/domain"
	"samco_go/pkg/quant"
)

// Type defines the type of event.
type Type uint16

const (
	EvOrderUpdate Type = iota + 1
	EvQuote
	EvTrade
	EvOpenInterest
	EvWarning
)

// Event is the interface for all bridge events.
type Event interface {
	GetSeq() uint64
	GetTs() quant.TimeStamp
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64          `json:"seq"`
	Ts  quant.TimeStamp `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64         { return e.Seq }
func (e BaseEvent) GetTs() quant.TimeStamp { return e.Ts }

// OrderEvent represents an order lifecycle transition.
type OrderEvent struct {
	BaseEvent
	OrderID   string             `json:"order_id"`
	BrokerID  string             `json:"broker_id"`
	Status    domain.OrderStatus `json:"status"`
	Symbol    string             `json:"symbol"`
	Exchange  string             `json:"exchange"`
	FillPrice quant.PriceMicros  `json:"fill_price,omitempty"`
	FillQty   int64              `json:"fill_qty,omitempty"` // signed; sell fills are negative
	FeeMicros int64              `json:"fee,omitempty"`      // charged once, on the final fill
	Message   string             `json:"message,omitempty"`
}

func (e OrderEvent) GetType() Type { return EvOrderUpdate }

// QuoteEvent represents a top-of-book snapshot for a subscribed instrument.
type QuoteEvent struct {
	BaseEvent
	Symbol    string            `json:"symbol"`
	Exchange  string            `json:"exchange"`
	BidPrice  quant.PriceMicros `json:"bid_price"`
	BidSize   int64             `json:"bid_size"`
	AskPrice  quant.PriceMicros `json:"ask_price"`
	AskSize   int64             `json:"ask_size"`
	LastPrice quant.PriceMicros `json:"last_price"`
}

func (e QuoteEvent) GetType() Type { return EvQuote }

// TradeEvent represents a last-trade tick.
type TradeEvent struct {
	BaseEvent
	Symbol   string            `json:"symbol"`
	Exchange string            `json:"exchange"`
	Price    quant.PriceMicros `json:"price"`
	Qty      int64             `json:"qty"`
}

func (e TradeEvent) GetType() Type { return EvTrade }

// OpenInterestEvent represents an open-interest update for a derivative.
type OpenInterestEvent struct {
	BaseEvent
	Symbol       string `json:"symbol"`
	Exchange     string `json:"exchange"`
	OpenInterest int64  `json:"open_interest"`
}

func (e OpenInterestEvent) GetType() Type { return EvOpenInterest }

// WarningEvent carries a non-fatal diagnostic for the consumer.
type WarningEvent struct {
	BaseEvent
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e WarningEvent) GetType() Type { return EvWarning }
