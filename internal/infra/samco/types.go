package samco

import (
	"strconv"
	"strings"

	"samco_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// Samco response status values.
const (
	StatusSuccess = "Success"
	StatusFailure = "Failure"
)

// Broker-side order status values of interest to reconciliation. Samco is
// not consistent about case, so compare through IsComplete/IsCancelled.
const (
	orderStatusComplete  = "COMPLETE"
	orderStatusCancelled = "CANCELLED"
)

type loginRequest struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
	YOB      string `json:"yob"`
}

type loginResponse struct {
	SessionToken  string `json:"sessionToken"`
	Status        string `json:"status"`
	StatusMessage string `json:"statusMessage"`
}

// OrderRequest is the wire shape for placing or modifying an order.
// Samco takes all numerics as strings.
type OrderRequest struct {
	SymbolName        string `json:"symbolName"`
	Exchange          string `json:"exchange"`
	TransactionType   string `json:"transactionType"` // BUY / SELL
	OrderType         string `json:"orderType"`       // L / MKT / SL
	ProductType       string `json:"productType"`     // MIS / CNC / NRML
	OrderValidity     string `json:"orderValidity"`   // DAY / IOC
	Quantity          string `json:"quantity"`
	Price             string `json:"price,omitempty"`
	TriggerPrice      string `json:"triggerPrice,omitempty"`
	DisclosedQuantity string `json:"disclosedQuantity,omitempty"`
}

// OrderResponse covers place and modify replies.
type OrderResponse struct {
	Status           string   `json:"status"`
	StatusMessage    string   `json:"statusMessage"`
	OrderNumber      string   `json:"orderNumber"`
	Exchange         string   `json:"exchange"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
}

// Rejected reports a business-level rejection: the HTTP exchange succeeded
// but the broker refused the order.
func (r *OrderResponse) Rejected() bool {
	return r.Status == StatusFailure || len(r.ValidationErrors) > 0
}

// CancelResponse is the reply to an order cancellation.
type CancelResponse struct {
	Status        string `json:"status"`
	StatusMessage string `json:"statusMessage"`
	OrderNumber   string `json:"orderNumber"`
}

// OrderDetail is one order's current broker-side state. Quantities and
// prices arrive as decimal strings.
type OrderDetail struct {
	Status          string `json:"status"`
	StatusMessage   string `json:"statusMessage"`
	OrderNumber     string `json:"orderNumber"`
	OrderStatus     string `json:"orderStatus"`
	TradingSymbol   string `json:"tradingSymbol"`
	Exchange        string `json:"exchange"`
	TransactionType string `json:"transactionType"`
	Quantity        string `json:"quantity"`
	FilledQuantity  string `json:"filledQuantity"`
	PendingQuantity string `json:"pendingQuantity"`
	OrderPrice      string `json:"orderPrice"`
	AveragePrice    string `json:"averagePrice"`
	OrderTime       string `json:"orderTime"`
}

// IsComplete reports whether the broker considers the order fully executed.
func (d *OrderDetail) IsComplete() bool {
	return strings.EqualFold(d.OrderStatus, orderStatusComplete)
}

// IsCancelled reports whether the broker cancelled the order.
func (d *OrderDetail) IsCancelled() bool {
	return strings.EqualFold(d.OrderStatus, orderStatusCancelled)
}

// FilledQty parses the filled quantity; malformed values read as zero.
func (d *OrderDetail) FilledQty() int64 { return parseQty(d.FilledQuantity) }

// PendingQty parses the remaining quantity; malformed values read as zero.
func (d *OrderDetail) PendingQty() int64 { return parseQty(d.PendingQuantity) }

// TotalQty parses the ordered quantity.
func (d *OrderDetail) TotalQty() int64 { return parseQty(d.Quantity) }

// AvgPriceMicros parses the average fill price into fixed point.
func (d *OrderDetail) AvgPriceMicros() quant.PriceMicros {
	return PriceMicrosFromString(d.AveragePrice)
}

type orderBookResponse struct {
	Status           string        `json:"status"`
	StatusMessage    string        `json:"statusMessage"`
	OrderBookDetails []OrderDetail `json:"orderBookDetails"`
}

// Position is one net position row.
type Position struct {
	TradingSymbol   string `json:"tradingSymbol"`
	Exchange        string `json:"exchange"`
	ProductCode     string `json:"productCode"`
	NetQuantity     string `json:"netQuantity"`
	AveragePrice    string `json:"averageBuyPrice"`
	LastTradedPrice string `json:"lastTradedPrice"`
}

type positionsResponse struct {
	Status          string     `json:"status"`
	StatusMessage   string     `json:"statusMessage"`
	PositionDetails []Position `json:"positionDetails"`
}

// Holding is one demat holding row.
type Holding struct {
	TradingSymbol    string `json:"tradingSymbol"`
	Exchange         string `json:"exchange"`
	HoldingsQuantity string `json:"holdingsQuantity"`
	AveragePrice     string `json:"averagePrice"`
}

type holdingsResponse struct {
	Status         string    `json:"status"`
	StatusMessage  string    `json:"statusMessage"`
	HoldingDetails []Holding `json:"holdingDetails"`
}

// Limits is the account margin snapshot.
type Limits struct {
	Status          string `json:"status"`
	StatusMessage   string `json:"statusMessage"`
	NetAvailable    string `json:"netAvailableMargin"`
	MarginUsed      string `json:"marginUsed"`
	CollateralValue string `json:"collateralValue"`
}

// Quote is a REST quote snapshot.
type Quote struct {
	Status          string `json:"status"`
	StatusMessage   string `json:"statusMessage"`
	TradingSymbol   string `json:"tradingSymbol"`
	Exchange        string `json:"exchange"`
	LastTradedPrice string `json:"lastTradedPrice"`
	BestBidPrice    string `json:"bestBidPrice"`
	BestBidQty      string `json:"bestBidQuantity"`
	BestAskPrice    string `json:"bestAskPrice"`
	BestAskQty      string `json:"bestAskQuantity"`
	OpenInterest    string `json:"openInterest"`
}

// Candle is one intraday OHLCV bar.
type Candle struct {
	DateTime string `json:"dateTime"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
}

type candleResponse struct {
	Status        string   `json:"status"`
	StatusMessage string   `json:"statusMessage"`
	Candles       []Candle `json:"intradayCandleData"`
}

// PriceMicrosFromString converts a decimal wire string to fixed point.
// Empty or malformed values read as zero.
func PriceMicrosFromString(s string) quant.PriceMicros {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return quant.PriceMicros(d.Shift(6).IntPart())
}

func parseQty(s string) int64 {
	if s == "" {
		return 0
	}
	// Samco occasionally sends quantities as "50.0"
	if dot := strings.IndexByte(s, '.'); dot != -1 {
		s = s[:dot]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
