package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"samco_go/internal/app"
	"samco_go/internal/event"
	"samco_go/internal/infra"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	replayFrom := flag.Uint64("replay-from", 0, "replay journaled order events from this sequence (0 disables)")
	flag.Parse()

	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Shutdown()

	// 3. Metrics endpoint
	if addr := bootstrap.Config.Metrics.Addr; addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", infra.MetricsHandler())
			slog.Info("📊 Metrics server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				slog.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
	}

	// 4. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Connect session and start the order poll loop
	if err := bootstrap.Start(ctx); err != nil {
		slog.Error("❌ Session connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.InfoContext(ctx, "✅ Session connected, order reconciliation running")

	// 6. Drain bridge events (a real host engine consumes this channel)
	go func() {
		for ev := range bootstrap.Events() {
			switch e := ev.(type) {
			case event.OrderEvent:
				slog.InfoContext(ctx, "Order update",
					slog.String("order_id", e.OrderID),
					slog.String("status", string(e.Status)))
			case *event.QuoteEvent:
				event.ReleaseQuoteEvent(e)
			case event.WarningEvent:
				slog.WarnContext(ctx, "Bridge warning",
					slog.String("code", e.Code),
					slog.String("message", e.Message))
			}
		}
	}()

	// 7. Replay journaled order history for the consumer
	if *replayFrom > 0 {
		n, err := bootstrap.ReplayOrderEvents(ctx, *replayFrom)
		if err != nil {
			slog.Error("❌ Journal replay failed", slog.Any("error", err))
			os.Exit(1)
		}
		slog.InfoContext(ctx, "✅ Journal replayed", slog.Int("events", n))
	}

	slog.InfoContext(ctx, "✨ Samco bridge fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	for _, d := range bootstrap.Orders.ActiveOrders() {
		slog.Info("Order still open at shutdown",
			slog.String("broker_id", d.OrderNumber),
			slog.String("status", d.OrderStatus))
	}

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
