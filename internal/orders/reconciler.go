// Package orders tracks locally-known open orders and reconciles them
// against the broker by polling, since Samco pushes no fill notifications.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"samco_go/internal/domain"
	"samco_go/internal/event"
	"samco_go/internal/infra"
	"samco_go/internal/infra/samco"
	"samco_go/internal/symbols"
	"samco_go/pkg/quant"
	"samco_go/pkg/safe"

	"github.com/shopspring/decimal"
)

// ErrInvalidOrderProperties is returned when a required order property is
// missing; no broker call is made.
var ErrInvalidOrderProperties = errors.New("orders: missing required order properties")

// BrokerAPI is the REST order surface the reconciler drives.
type BrokerAPI interface {
	PlaceOrder(ctx context.Context, req samco.OrderRequest) (*samco.OrderResponse, error)
	ModifyOrder(ctx context.Context, orderNumber string, req samco.OrderRequest) (*samco.OrderResponse, error)
	CancelOrder(ctx context.Context, orderNumber string) (*samco.CancelResponse, error)
	OrderDetail(ctx context.Context, orderNumber string) (*samco.OrderDetail, error)
	OrderBook(ctx context.Context) ([]samco.OrderDetail, error)
}

// HistoryLookup resolves broker order ids placed by earlier process
// lifetimes back to engine orders.
type HistoryLookup interface {
	OrderByBrokerID(brokerID string) (*domain.Order, bool)
}

// Reconciler owns pending-order tracking, fill detection and order event
// emission. Order-mutating calls share one serialized gate with the inbound
// stream handler so the broker never sees interleaved requests.
type Reconciler struct {
	api     BrokerAPI
	dir     *symbols.Directory
	history HistoryLookup // may be nil
	sink    func(event.Event)
	gate    *sync.Mutex

	pending    sync.Map // broker id -> *domain.Order
	fills      sync.Map // engine order id -> accumulated signed quantity
	lastStatus sync.Map // broker id -> domain.OrderStatus last emitted
	active     sync.Map // broker id -> *samco.OrderDetail, latest broker view

	wake         chan struct{}
	pollInterval time.Duration
	feeMicros    int64

	seq    *uint64
	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler creates an order reconciler. The gate must be the same mutex
// given to the market data normalizer.
func NewReconciler(api BrokerAPI, dir *symbols.Directory, history HistoryLookup, gate *sync.Mutex, sink func(event.Event), pollInterval time.Duration, feeINR int64, seq *uint64) *Reconciler {
	return &Reconciler{
		api:          api,
		dir:          dir,
		history:      history,
		sink:         sink,
		gate:         gate,
		wake:         make(chan struct{}, 1),
		pollInterval: pollInterval,
		feeMicros:    safe.SafeMul(feeINR, quant.PriceScale),
		seq:          seq,
		now:          time.Now,
	}
}

// PlaceOrder validates and submits an order. Missing required properties and
// resolution failures fail locally with an INVALID event and no broker call.
// A business-level broker rejection also emits INVALID, but the call itself
// reports success because the request reached the broker.
func (r *Reconciler) PlaceOrder(ctx context.Context, o *domain.Order) error {
	if o.Exchange == "" || o.ProductType == "" {
		r.emitOrder(o, domain.StatusInvalid, 0, 0, 0, "order is missing exchange or product type")
		return ErrInvalidOrderProperties
	}

	rec, err := r.dir.Lookup(o.Symbol, o.Exchange)
	if err != nil {
		r.emitOrder(o, domain.StatusInvalid, 0, 0, 0, err.Error())
		return err
	}

	r.gate.Lock()
	defer r.gate.Unlock()

	resp, err := r.api.PlaceOrder(ctx, buildOrderRequest(o, rec))
	if err != nil {
		return fmt.Errorf("place order %s: %w", o.ID, err)
	}
	if resp.Rejected() {
		infra.IncBrokerRejection()
		o.Status = domain.StatusInvalid
		r.emitOrder(o, domain.StatusInvalid, 0, 0, 0, rejectionMessage(resp))
		return nil
	}

	// Re-submission replaces the active broker id, never appends.
	if o.BrokerID != "" {
		r.pending.Delete(o.BrokerID)
	}
	o.BrokerID = resp.OrderNumber
	o.Status = domain.StatusSubmitted
	r.pending.Store(resp.OrderNumber, o)
	r.setLastStatus(resp.OrderNumber, domain.StatusSubmitted)
	r.emitOrder(o, domain.StatusSubmitted, 0, 0, 0, "")

	r.wakePoll()
	return nil
}

// CancelOrder sends a cancel for the order's active broker id. On
// broker-confirmed success the pending entry is removed; any other outcome
// reports failure without raising an event, leaving the poll loop to
// reconcile actual state.
func (r *Reconciler) CancelOrder(ctx context.Context, o *domain.Order) error {
	if o.BrokerID == "" {
		return fmt.Errorf("cancel order %s: no active broker id", o.ID)
	}

	r.gate.Lock()
	defer r.gate.Unlock()

	resp, err := r.api.CancelOrder(ctx, o.BrokerID)
	if err != nil {
		return err
	}
	if resp.Status != samco.StatusSuccess {
		return fmt.Errorf("cancel order %s rejected: %s", o.ID, resp.StatusMessage)
	}

	r.dropTracking(o.BrokerID, o.ID)
	return nil
}

// UpdateOrder modifies an open order with the same broker-id bookkeeping as
// placement: a replacement id displaces the old one.
func (r *Reconciler) UpdateOrder(ctx context.Context, o *domain.Order) error {
	if o.BrokerID == "" {
		return fmt.Errorf("update order %s: no active broker id", o.ID)
	}

	rec, err := r.dir.Lookup(o.Symbol, o.Exchange)
	if err != nil {
		r.emitOrder(o, domain.StatusInvalid, 0, 0, 0, err.Error())
		return err
	}

	r.gate.Lock()
	defer r.gate.Unlock()

	resp, err := r.api.ModifyOrder(ctx, o.BrokerID, buildOrderRequest(o, rec))
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if resp.Rejected() {
		infra.IncBrokerRejection()
		r.emitOrder(o, domain.StatusInvalid, 0, 0, 0, rejectionMessage(resp))
		return nil
	}

	newID := resp.OrderNumber
	if newID == "" {
		newID = o.BrokerID
	}
	if newID != o.BrokerID {
		r.pending.Delete(o.BrokerID)
		r.lastStatus.Delete(o.BrokerID)
		o.BrokerID = newID
	}
	o.Status = domain.StatusUpdateSubmitted
	r.pending.Store(newID, o)
	r.setLastStatus(newID, domain.StatusUpdateSubmitted)
	r.emitOrder(o, domain.StatusUpdateSubmitted, 0, 0, 0, "")

	r.wakePoll()
	return nil
}

// Start launches the poll loop. The loop seeds its pending set from the
// broker's live order book on first entry so orders placed in a prior
// process lifetime are still monitored.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.runLoop(ctx)
}

// Close stops the poll loop, waiting a bounded grace period.
func (r *Reconciler) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("Order poll loop did not stop within grace period")
	}
}

func (r *Reconciler) runLoop(ctx context.Context) {
	defer r.wg.Done()

	r.SeedFromOrderBook(ctx)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
			// A new order was just placed; reconcile promptly.
		}
		r.PollOnce(ctx)
	}
}

// SeedFromOrderBook adopts live broker orders into the pending set,
// resolving their engine orders through the history lookup. Orders that
// resolve nowhere belong to another session and are ignored.
func (r *Reconciler) SeedFromOrderBook(ctx context.Context) {
	book, err := r.api.OrderBook(ctx)
	if err != nil {
		slog.Warn("Order book seed failed", "err", err)
		return
	}

	for i := range book {
		d := &book[i]
		if d.IsComplete() || d.IsCancelled() {
			continue
		}
		if _, ok := r.pending.Load(d.OrderNumber); ok {
			continue
		}
		if r.history == nil {
			continue
		}
		o, ok := r.history.OrderByBrokerID(d.OrderNumber)
		if !ok {
			slog.Debug("Untracked broker order ignored", "broker_id", d.OrderNumber)
			continue
		}
		o.BrokerID = d.OrderNumber
		r.pending.Store(d.OrderNumber, o)
		r.setLastStatus(d.OrderNumber, domain.StatusSubmitted)
		r.active.Store(d.OrderNumber, d)
		slog.Info("Adopted open order from broker", "broker_id", d.OrderNumber, "order_id", o.ID)
	}
}

// PollOnce fetches broker detail for every pending order and emits the
// resulting state transitions. Per-order failures are logged and skipped so
// one bad response never stalls the loop.
func (r *Reconciler) PollOnce(ctx context.Context) {
	r.pending.Range(func(k, v any) bool {
		brokerID := k.(string)
		o := v.(*domain.Order)

		detail, err := r.api.OrderDetail(ctx, brokerID)
		if err != nil {
			slog.Warn("Order poll failed", "broker_id", brokerID, "err", err)
			return true
		}
		r.active.Store(brokerID, detail)
		r.reconcile(o, brokerID, detail)
		return true
	})
}

// ActiveOrders returns the latest broker view of each tracked order.
func (r *Reconciler) ActiveOrders() []samco.OrderDetail {
	var out []samco.OrderDetail
	r.active.Range(func(_, v any) bool {
		out = append(out, *v.(*samco.OrderDetail))
		return true
	})
	return out
}

// reconcile derives the order state from one broker detail snapshot and
// emits at most one event per state transition.
func (r *Reconciler) reconcile(o *domain.Order, brokerID string, detail *samco.OrderDetail) {
	if detail.IsCancelled() {
		if last, _ := r.lastStatus.Load(brokerID); last != domain.StatusCanceled {
			o.Status = domain.StatusCanceled
			r.emitOrder(o, domain.StatusCanceled, 0, 0, 0, "")
		}
		r.dropTracking(brokerID, o.ID)
		return
	}

	filled := detail.FilledQty()
	pendingQty := detail.PendingQty()

	switch {
	case !detail.IsComplete() && filled == 0:
		// Still live at the broker; SUBMITTED was emitted at placement.

	case filled > 0 && pendingQty > 0:
		r.EmitFill(o, brokerID, detail)

	case pendingQty == 0 && filled > 0:
		r.EmitFill(o, brokerID, detail)
	}
}

// EmitFill accumulates the newly observed fill quantity and emits a
// PARTIALLY_FILLED or FILLED event. The fee is charged once, on the final
// fill only. Orders that resolve neither through the pending cache nor the
// history lookup are dropped and counted: they belong to another session.
func (r *Reconciler) EmitFill(o *domain.Order, brokerID string, detail *samco.OrderDetail) {
	if o == nil {
		if v, ok := r.pending.Load(brokerID); ok {
			o = v.(*domain.Order)
		} else if r.history != nil {
			if h, ok := r.history.OrderByBrokerID(brokerID); ok {
				o = h
			}
		}
		if o == nil {
			infra.IncUnknownFill()
			slog.Debug("Fill for unknown order ignored", "broker_id", brokerID)
			return
		}
	}

	totalFilled := detail.FilledQty()
	prev := int64(0)
	if v, ok := r.fills.Load(o.ID); ok {
		prev = v.(int64)
	}
	delta := totalFilled - prev
	if delta <= 0 {
		// Stale snapshot; nothing new to report.
		return
	}

	newTotal := safe.SafeAdd(prev, delta)
	r.fills.Store(o.ID, newTotal)

	// Orders adopted from the journal lack side and target quantity; the
	// broker detail fills the gaps.
	side := o.Side
	if side == "" {
		side = detail.TransactionType
	}
	target := o.Quantity
	if target == 0 {
		target = detail.TotalQty()
	}

	signedDelta := delta
	if side == "SELL" {
		signedDelta = -delta
	}
	price := detail.AvgPriceMicros()
	slog.Info("Fill observed", "order_id", o.ID, "qty", signedDelta,
		"notional_inr", safe.MulDiv(delta, int64(price), quant.PriceScale))

	if target > 0 && newTotal >= target {
		o.Status = domain.StatusFilled
		r.emitOrder(o, domain.StatusFilled, price, signedDelta, r.feeMicros, "")
		r.dropTracking(brokerID, o.ID)
		return
	}

	o.Status = domain.StatusPartiallyFilled
	r.setLastStatus(brokerID, domain.StatusPartiallyFilled)
	r.emitOrder(o, domain.StatusPartiallyFilled, price, signedDelta, 0, "")
}

func (r *Reconciler) dropTracking(brokerID, orderID string) {
	r.pending.Delete(brokerID)
	r.fills.Delete(orderID)
	r.lastStatus.Delete(brokerID)
	r.active.Delete(brokerID)
}

func (r *Reconciler) setLastStatus(brokerID string, s domain.OrderStatus) {
	r.lastStatus.Store(brokerID, s)
}

func (r *Reconciler) wakePoll() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reconciler) emitOrder(o *domain.Order, status domain.OrderStatus, price quant.PriceMicros, qty, fee int64, msg string) {
	r.sink(event.OrderEvent{
		BaseEvent: event.BaseEvent{
			Seq: quant.NextSeq(r.seq),
			Ts:  quant.TimeStamp(r.now().UnixMicro()),
		},
		OrderID:   o.ID,
		BrokerID:  o.BrokerID,
		Status:    status,
		Symbol:    o.Symbol,
		Exchange:  o.Exchange,
		FillPrice: price,
		FillQty:   qty,
		FeeMicros: fee,
		Message:   msg,
	})
}

func buildOrderRequest(o *domain.Order, rec symbols.InstrumentRecord) samco.OrderRequest {
	req := samco.OrderRequest{
		SymbolName:      rec.TradingSymbol,
		Exchange:        o.Exchange,
		TransactionType: o.Side,
		OrderType:       o.Type,
		ProductType:     o.ProductType,
		OrderValidity:   o.Validity,
		Quantity:        strconv.FormatInt(o.Quantity, 10),
	}
	if req.OrderValidity == "" {
		req.OrderValidity = "DAY"
	}
	if o.PriceMicros != 0 {
		req.Price = decimal.New(int64(o.PriceMicros), -6).String()
	}
	return req
}

func rejectionMessage(resp *samco.OrderResponse) string {
	if len(resp.ValidationErrors) > 0 {
		return resp.ValidationErrors[0]
	}
	if resp.StatusMessage != "" {
		return resp.StatusMessage
	}
	return "order rejected by broker"
}
