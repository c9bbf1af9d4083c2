// Package marketdata turns the broker's quote stream into normalized tick
// events and owns the subscription set. The broker protocol is stateless: a
// reconnect wipes server-side subscriptions, so every subscribe frame
// carries the full active token set.
package marketdata

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"samco_go/internal/event"
	"samco_go/internal/infra"
	"samco_go/internal/infra/samco"
	"samco_go/internal/symbols"
	"samco_go/pkg/quant"
)

// tradeTimeLayout is the broker's last-trade-time format, in IST.
const tradeTimeLayout = "02/01/2006 15:04:05"

// Sender is the outbound side of the stream transport.
type Sender interface {
	Send(data []byte) error
	IsOpen() bool
}

type streamFrame struct {
	Response *struct {
		StreamingType string    `json:"streaming_type"`
		Data          quoteData `json:"data"`
	} `json:"response"`
}

type quoteData struct {
	Sym string `json:"sym"`
	LTP string `json:"ltp"`
	LTQ string `json:"ltq"`
	LTT string `json:"ltt"`
	BPr string `json:"bPr"`
	BSz string `json:"bSz"`
	APr string `json:"aPr"`
	ASz string `json:"aSz"`
	OI  string `json:"oI"`
}

type controlSymbol struct {
	Symbol string `json:"symbol"`
}

type controlFrame struct {
	Request struct {
		StreamingType string `json:"streaming_type"`
		Data          struct {
			Symbols []controlSymbol `json:"symbols"`
		} `json:"data"`
		RequestType string `json:"request_type"`
	} `json:"request"`
}

// Normalizer parses inbound quote frames and manages subscriptions. Frame
// handling runs under the shared gate, serialized with order mutations.
// Invariant: a token lives in at most one of subscribed / pendingUnsub.
type Normalizer struct {
	send Sender
	dir  *symbols.Directory
	sink func(event.Event)
	gate *sync.Mutex

	mu           sync.Mutex
	subscribed   map[string]struct{}
	pendingUnsub map[string]struct{}
	tokenRecord  map[string]symbols.InstrumentRecord

	// lastTradeTs is the single dedup watermark for the whole stream; the
	// broker repeats the last trade on every quote snapshot.
	lastTradeTs int64

	loc *time.Location
	seq *uint64
	now func() time.Time
}

// New creates a normalizer. The gate must be the same mutex given to the
// order reconciler.
func New(send Sender, dir *symbols.Directory, gate *sync.Mutex, sink func(event.Event), seq *uint64) *Normalizer {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return &Normalizer{
		send:         send,
		dir:          dir,
		sink:         sink,
		gate:         gate,
		subscribed:   make(map[string]struct{}),
		pendingUnsub: make(map[string]struct{}),
		tokenRecord:  make(map[string]symbols.InstrumentRecord),
		loc:          loc,
		seq:          seq,
		now:          time.Now,
	}
}

// Subscribe resolves every symbol and adds the resulting tokens to the
// subscription set. A single resolution failure aborts the whole call
// before anything changes. The subscription is recorded even when the
// transport is down; OnOpen replays it.
func (n *Normalizer) Subscribe(engineSymbols []string) error {
	// A symbol may resolve to more than one token (multi-exchange listings);
	// all of them are subscribed.
	var recs []symbols.InstrumentRecord
	for _, s := range engineSymbols {
		listings, err := n.dir.Resolve(s)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		recs = append(recs, listings...)
	}
	return n.subscribeRecords(recs)
}

// SubscribeUnderlying subscribes the full derivative chain of an underlying
// name: every future and option sharing it in the instrument master.
func (n *Normalizer) SubscribeUnderlying(name string) error {
	var chain []symbols.InstrumentRecord
	for _, rec := range n.dir.ByUnderlying(name) {
		if rec.IsDerivative() {
			chain = append(chain, rec)
		}
	}
	if len(chain) == 0 {
		return fmt.Errorf("subscribe chain %s: %w", name, symbols.ErrSymbolNotFound)
	}
	return n.subscribeRecords(chain)
}

func (n *Normalizer) subscribeRecords(recs []symbols.InstrumentRecord) error {
	n.mu.Lock()
	var added []string
	wasPendingUnsub := make(map[string]struct{})
	for _, rec := range recs {
		if _, ok := n.subscribed[rec.Token]; ok {
			continue
		}
		if _, ok := n.pendingUnsub[rec.Token]; ok {
			wasPendingUnsub[rec.Token] = struct{}{}
			delete(n.pendingUnsub, rec.Token)
		}
		n.subscribed[rec.Token] = struct{}{}
		n.tokenRecord[rec.Token] = rec
		added = append(added, rec.Token)
	}
	tokens := n.activeTokensLocked()
	n.mu.Unlock()

	if len(added) == 0 {
		return nil
	}
	if !n.send.IsOpen() {
		slog.Info("Subscription recorded while disconnected", "tokens", len(tokens))
		return nil
	}
	if err := n.sendControl("subscribe", tokens); err != nil {
		// The broker never heard about these tokens; roll the additions
		// back so local and broker state do not drift while connected.
		n.mu.Lock()
		for _, token := range added {
			delete(n.subscribed, token)
			if _, ok := wasPendingUnsub[token]; ok {
				n.pendingUnsub[token] = struct{}{}
			} else {
				delete(n.tokenRecord, token)
			}
		}
		n.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe removes the symbols' tokens from the subscription set and
// tells the broker. Returns false without side effects when the transport
// is not open.
func (n *Normalizer) Unsubscribe(engineSymbols []string) bool {
	if !n.send.IsOpen() {
		return false
	}

	n.mu.Lock()
	var tokens []string
	for _, s := range engineSymbols {
		listings, err := n.dir.Resolve(s)
		if err != nil {
			continue
		}
		for _, rec := range listings {
			if _, ok := n.subscribed[rec.Token]; !ok {
				continue
			}
			delete(n.subscribed, rec.Token)
			n.pendingUnsub[rec.Token] = struct{}{}
			tokens = append(tokens, rec.Token)
		}
	}
	n.mu.Unlock()

	if len(tokens) == 0 {
		return true
	}
	if err := n.sendControl("unsubscribe", tokens); err != nil {
		slog.Warn("Unsubscribe send failed", "err", err)
		return false
	}

	n.mu.Lock()
	for _, token := range tokens {
		delete(n.pendingUnsub, token)
		delete(n.tokenRecord, token)
	}
	n.mu.Unlock()
	return true
}

// OnOpen replays the active subscription set after a (re)connect. The
// broker keeps no state across connections.
func (n *Normalizer) OnOpen() {
	n.mu.Lock()
	// Unsubscribes in flight when the connection dropped are moot now.
	for token := range n.pendingUnsub {
		delete(n.pendingUnsub, token)
		delete(n.tokenRecord, token)
	}
	tokens := n.activeTokensLocked()
	n.mu.Unlock()

	if len(tokens) == 0 {
		return
	}
	if err := n.sendControl("subscribe", tokens); err != nil {
		slog.Warn("Subscription replay failed", "err", err)
		return
	}
	slog.Info("Subscriptions replayed", "tokens", len(tokens))
}

// OnFrame handles one inbound stream frame under the shared gate.
// Unparseable or unrecognized frames are dropped and counted; a tick that
// parses structurally but carries a bad payload raises a warning event.
func (n *Normalizer) OnFrame(msg []byte) {
	n.gate.Lock()
	defer n.gate.Unlock()

	if err := n.handleFrame(msg); err != nil {
		slog.Warn("Stream frame handling failed", "err", err)
		n.sink(event.WarningEvent{
			BaseEvent: n.base(),
			Code:      "STREAM_PARSE",
			Message:   err.Error(),
		})
	}
}

func (n *Normalizer) handleFrame(msg []byte) error {
	var f streamFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		infra.IncDroppedFrame()
		slog.Debug("Dropped unparseable frame", "err", err)
		return nil
	}
	if f.Response == nil || f.Response.StreamingType != "quote" {
		infra.IncDroppedFrame()
		slog.Debug("Dropped unrecognized frame", "frame", string(msg))
		return nil
	}

	d := f.Response.Data
	token := d.Sym
	if i := strings.IndexByte(token, '_'); i != -1 {
		token = token[:i]
	}

	n.mu.Lock()
	rec, tracked := n.tokenRecord[token]
	_, active := n.subscribed[token]
	n.mu.Unlock()
	if !tracked || !active {
		// Late frames after unsubscribe, or a token we never asked for.
		infra.IncDroppedFrame()
		slog.Debug("Dropped frame for inactive token", "token", token)
		return nil
	}

	q := event.AcquireQuoteEvent()
	q.BaseEvent = n.base()
	q.Symbol = rec.TradingSymbol
	q.Exchange = rec.Exchange
	q.BidPrice = samco.PriceMicrosFromString(d.BPr)
	q.BidSize = parseSize(d.BSz)
	q.AskPrice = samco.PriceMicrosFromString(d.APr)
	q.AskSize = parseSize(d.ASz)
	q.LastPrice = samco.PriceMicrosFromString(d.LTP)
	n.sink(q)
	infra.IncTickEmitted("quote")

	if d.LTT != "" && d.LTT != "NA" {
		ts, err := time.ParseInLocation(tradeTimeLayout, d.LTT, n.loc)
		if err != nil {
			return fmt.Errorf("parse trade time %q: %w", d.LTT, err)
		}
		micros := ts.UnixMicro()
		if micros != n.lastTradeTs {
			n.lastTradeTs = micros
			n.sink(event.TradeEvent{
				BaseEvent: n.base(),
				Symbol:    rec.TradingSymbol,
				Exchange:  rec.Exchange,
				Price:     samco.PriceMicrosFromString(d.LTP),
				Qty:       parseSize(d.LTQ),
			})
			infra.IncTickEmitted("trade")
		}
	}

	if d.OI != "" {
		n.sink(event.OpenInterestEvent{
			BaseEvent:    n.base(),
			Symbol:       rec.TradingSymbol,
			Exchange:     rec.Exchange,
			OpenInterest: parseSize(d.OI),
		})
		infra.IncTickEmitted("oi")
	}
	return nil
}

// SymbolForToken resolves a subscribed token back to its engine symbol and
// exchange. The reverse index holds tokens only while they are subscribed.
func (n *Normalizer) SymbolForToken(token string) (symbol, exchange string, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, active := n.subscribed[token]; !active {
		return "", "", false
	}
	rec, ok := n.tokenRecord[token]
	if !ok {
		return "", "", false
	}
	return rec.TradingSymbol, rec.Exchange, true
}

// ActiveTokens returns the currently subscribed tokens.
func (n *Normalizer) ActiveTokens() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.activeTokensLocked()
}

func (n *Normalizer) activeTokensLocked() []string {
	tokens := make([]string, 0, len(n.subscribed))
	for token := range n.subscribed {
		tokens = append(tokens, token)
	}
	return tokens
}

func (n *Normalizer) sendControl(requestType string, tokens []string) error {
	var cf controlFrame
	cf.Request.StreamingType = "quote"
	cf.Request.RequestType = requestType
	cf.Request.Data.Symbols = make([]controlSymbol, 0, len(tokens))
	for _, token := range tokens {
		cf.Request.Data.Symbols = append(cf.Request.Data.Symbols, controlSymbol{Symbol: token})
	}

	body, err := json.Marshal(&cf)
	if err != nil {
		return err
	}
	return n.send.Send(append(body, '\n'))
}

func (n *Normalizer) base() event.BaseEvent {
	return event.BaseEvent{
		Seq: quant.NextSeq(n.seq),
		Ts:  quant.TimeStamp(n.now().UnixMicro()),
	}
}

func parseSize(s string) int64 {
	if s == "" {
		return 0
	}
	if dot := strings.IndexByte(s, '.'); dot != -1 {
		s = s[:dot]
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
