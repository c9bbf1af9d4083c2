package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"samco_go/internal/infra"
	"samco_go/internal/infra/samco"
)

// Manual integration check against the live Samco API. Needs real
// credentials in SAMCO_USER_ID / SAMCO_PASSWORD / SAMCO_YOB. Places a
// far-from-market limit order and cancels it, then walks the account
// surface read-only.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	slog.Info("🚀 Starting Samco Integration Test...")

	userID := os.Getenv("SAMCO_USER_ID")
	password := os.Getenv("SAMCO_PASSWORD")
	yob := os.Getenv("SAMCO_YOB")
	if userID == "" || password == "" || yob == "" {
		slog.Error("❌ SAMCO_USER_ID / SAMCO_PASSWORD / SAMCO_YOB must be set")
		os.Exit(1)
	}

	cfg := &infra.Config{}
	cfg.API.Samco.RestURL = "https://api.stocknote.com"
	cfg.API.Samco.StreamURL = "wss://stream.stocknote.com"
	cfg.API.Samco.UserID = userID
	cfg.API.Samco.Password = password
	cfg.API.Samco.YOB = yob

	client := samco.NewClient(cfg)
	ctx := context.Background()

	slog.Info("STEP 1: Login...")
	if err := client.Login(ctx); err != nil {
		slog.Error("❌ Login failed", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Session established")

	// Far below market so nothing actually fills.
	req := samco.OrderRequest{
		SymbolName:      "SBIN",
		Exchange:        "NSE",
		TransactionType: "BUY",
		OrderType:       "L",
		ProductType:     "MIS",
		OrderValidity:   "DAY",
		Quantity:        "1",
		Price:           "100.00",
	}

	slog.Info("STEP 2: Placing Order...", "symbol", req.SymbolName, "price", req.Price)
	placed, err := client.PlaceOrder(ctx, req)
	if err != nil {
		slog.Error("❌ PlaceOrder failed", "error", err)
		os.Exit(1)
	}
	if placed.Rejected() {
		slog.Error("❌ Order rejected", "message", placed.StatusMessage, "validation", fmt.Sprintf("%v", placed.ValidationErrors))
		os.Exit(1)
	}
	slog.Info("✅ Order placed", "orderNumber", placed.OrderNumber)

	time.Sleep(2 * time.Second)

	slog.Info("STEP 3: Polling Order Detail...")
	detail, err := client.OrderDetail(ctx, placed.OrderNumber)
	if err != nil {
		slog.Error("❌ OrderDetail failed", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Detail", "status", detail.OrderStatus, "filled", detail.FilledQuantity, "pending", detail.PendingQuantity)

	slog.Info("STEP 4: Canceling Order...", "orderNumber", placed.OrderNumber)
	canceled, err := client.CancelOrder(ctx, placed.OrderNumber)
	if err != nil {
		slog.Error("❌ CancelOrder failed", "error", err)
		os.Exit(1)
	}
	if canceled.Status != samco.StatusSuccess {
		slog.Error("❌ Cancel rejected", "message", canceled.StatusMessage)
		os.Exit(1)
	}
	slog.Info("✅ Order canceled")

	slog.Info("STEP 5: Account surface (read-only)...")
	if book, err := client.OrderBook(ctx); err != nil {
		slog.Warn("OrderBook failed", "error", err)
	} else {
		slog.Info("✅ OrderBook", "orders", len(book))
	}
	if positions, err := client.Positions(ctx); err != nil {
		slog.Warn("Positions failed", "error", err)
	} else {
		slog.Info("✅ Positions", "rows", len(positions))
	}
	if holdings, err := client.Holdings(ctx); err != nil {
		slog.Warn("Holdings failed", "error", err)
	} else {
		slog.Info("✅ Holdings", "rows", len(holdings))
	}
	if limits, err := client.AccountLimits(ctx); err != nil {
		slog.Warn("AccountLimits failed", "error", err)
	} else {
		slog.Info("✅ Limits", "netAvailable", limits.NetAvailable)
	}
	if quote, err := client.Quote(ctx, "SBIN", "NSE"); err != nil {
		slog.Warn("Quote failed", "error", err)
	} else {
		slog.Info("✅ Quote", "ltp", quote.LastTradedPrice)
	}

	to := time.Now()
	from := to.Add(-2 * time.Hour)
	if candles, err := client.IntradayCandles(ctx, "SBIN", "NSE", from, to, 5); err != nil {
		slog.Warn("IntradayCandles failed", "error", err)
	} else {
		slog.Info("✅ Candles", "bars", len(candles))
	}

	slog.Info("🎉 Integration Test Passed!")
}
