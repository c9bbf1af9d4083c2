// Package app wires the bridge together: REST client, stream transport,
// session manager, order reconciler, market data normalizer and the event
// journal.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"samco_go/internal/domain"
	"samco_go/internal/event"
	"samco_go/internal/infra"
	"samco_go/internal/infra/samco"
	"samco_go/internal/marketdata"
	"samco_go/internal/orders"
	"samco_go/internal/session"
	"samco_go/internal/storage"
	"samco_go/internal/symbols"
	"samco_go/pkg/quant"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config     *infra.Config
	Journal    *storage.Journal
	Directory  *symbols.Directory
	Client     *samco.Client
	Session    *session.Manager
	Orders     *orders.Reconciler
	MarketData *marketdata.Normalizer

	transport *infra.StreamTransport
	events    chan event.Event
	seq       uint64
}

// NewBootstrap creates an empty Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization: config, logging, journal,
// instrument master and the full component graph. Nothing connects yet.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping Samco bridge...")

	event.Warmup()

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	slog.SetDefault(infra.NewLogger(cfg.Logging.Level))
	infra.InitMetrics()

	journalPath := cfg.Journal.Path
	if journalPath == "" {
		journalPath = "samco_journal.db"
	}
	journal, err := storage.NewJournal(journalPath)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	b.Journal = journal
	slog.Info("✅ Journal initialized (WAL-mode)", "path", journalPath)

	// Resume event numbering above anything already journaled.
	lastSeq, err := journal.LastSeq(context.Background())
	if err != nil {
		return err
	}
	b.seq = lastSeq

	if prev, err := journal.GetMetadata(context.Background(), "last_login_unix_ms"); err == nil && prev != "" {
		if ts, err := quant.ParseTimeStampMillis(prev); err == nil {
			slog.Info("Previous login", "at", time.UnixMicro(int64(ts)).Format(time.RFC3339))
		}
	}

	dir := symbols.New()
	if err := dir.LoadFile(cfg.Symbols.MasterPath); err != nil {
		return err
	}
	b.Directory = dir
	if err := journal.UpsertMetadata(context.Background(), "instrument_master_path",
		cfg.Symbols.MasterPath, timeNowMicros()); err != nil {
		slog.Warn("Metadata write failed", "err", err)
	}

	b.Client = samco.NewClient(cfg)
	b.events = make(chan event.Event, 1024)

	gate := &sync.Mutex{}
	bridge := &streamBridge{}
	b.transport = infra.NewStreamTransport(cfg.API.Samco.StreamURL, nil, bridge)

	cal, err := session.NewNSECalendar()
	if err != nil {
		return err
	}
	b.Session = session.NewManager(
		b.transport,
		&samcoAuth{client: b.Client, transport: b.transport},
		cal,
		cfg.ConnectTimeout(),
		cfg.WatchdogInterval(),
	)

	b.Orders = orders.NewReconciler(
		b.Client,
		dir,
		&journalHistory{journal: journal},
		gate,
		b.emit,
		cfg.PollInterval(),
		cfg.Broker.OrderFeeINR,
		&b.seq,
	)
	b.MarketData = marketdata.New(b.transport, dir, gate, b.emit, &b.seq)

	bridge.session = b.Session
	bridge.md = b.MarketData

	slog.Info("✅ Bridge components wired", "instruments_path", cfg.Symbols.MasterPath)
	return nil
}

// Start connects the session and launches the order poll loop.
func (b *Bootstrap) Start(ctx context.Context) error {
	if err := b.Session.Connect(ctx); err != nil {
		return err
	}
	if err := b.Journal.UpsertMetadata(ctx, "last_login_unix_ms",
		fmt.Sprintf("%d", time.Now().UnixMilli()), timeNowMicros()); err != nil {
		slog.Warn("Metadata write failed", "err", err)
	}
	b.Orders.Start(ctx)
	return nil
}

func timeNowMicros() int64 {
	return time.Now().UnixMicro()
}

// Events is the consumer side of the bridge. Quote events are pooled: the
// consumer must release them after use.
func (b *Bootstrap) Events() <-chan event.Event {
	return b.events
}

// ReplayOrderEvents pushes journaled order events at or above fromSeq back
// onto the consumer channel so a restarted consumer can rebuild order state.
// Returns how many events were replayed.
func (b *Bootstrap) ReplayOrderEvents(ctx context.Context, fromSeq uint64) (int, error) {
	events, err := b.Journal.LoadOrderEvents(ctx, fromSeq)
	if err != nil {
		return 0, err
	}
	for i, ev := range events {
		select {
		case b.events <- ev:
		case <-ctx.Done():
			return i, ctx.Err()
		}
	}
	return len(events), nil
}

// Shutdown stops background loops and closes the journal.
func (b *Bootstrap) Shutdown() {
	if b.Orders != nil {
		b.Orders.Close()
	}
	if b.Session != nil {
		if err := b.Session.Close(); err != nil {
			slog.Warn("Session close failed", "err", err)
		}
	}
	if b.Journal != nil {
		b.Journal.Close()
	}
	slog.Info("👋 Bridge shut down")
}

// emit is the single event sink. Order events hit the journal before they
// reach the consumer; a full channel drops rather than blocks the hot path.
func (b *Bootstrap) emit(ev event.Event) {
	if oe, ok := ev.(event.OrderEvent); ok {
		if err := b.Journal.SaveOrderEvent(context.Background(), oe); err != nil {
			slog.Warn("Journal write failed", "order_id", oe.OrderID, "err", err)
		}
	}

	select {
	case b.events <- ev:
	default:
		slog.Warn("Event channel full, dropping", "type", ev.GetType())
		if q, ok := ev.(*event.QuoteEvent); ok {
			event.ReleaseQuoteEvent(q)
		}
	}
}

// streamBridge routes transport callbacks to the session manager and the
// market data normalizer. Fields are set after construction because the
// transport needs the handler before the rest of the graph exists.
type streamBridge struct {
	session *session.Manager
	md      *marketdata.Normalizer
}

func (s *streamBridge) OnOpen() {
	s.session.NotifyOpen()
	s.md.OnOpen()
}

func (s *streamBridge) OnFrame(msg []byte) {
	s.md.OnFrame(msg)
}

func (s *streamBridge) OnClose(err error) {
	s.session.NotifyClose(err)
}

// samcoAuth logs in over REST and pushes the fresh session token into the
// stream handshake header before each dial.
type samcoAuth struct {
	client    *samco.Client
	transport *infra.StreamTransport
}

func (a *samcoAuth) Login(ctx context.Context) error {
	if err := a.client.Login(ctx); err != nil {
		return err
	}
	a.transport.SetHeader(a.client.StreamHeader())
	return nil
}

// journalHistory adapts the journal to the reconciler's history lookup.
type journalHistory struct {
	journal *storage.Journal
}

func (h *journalHistory) OrderByBrokerID(brokerID string) (*domain.Order, bool) {
	o, ok, err := h.journal.OrderByBrokerID(context.Background(), brokerID)
	if err != nil {
		slog.Warn("History lookup failed", "broker_id", brokerID, "err", err)
		return nil, false
	}
	return o, ok
}
