package samco

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"samco_go/internal/infra"

	"github.com/google/uuid"
)

// ErrCircuitOpen is returned when the REST circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("samco: circuit breaker open")

// ErrNotAuthenticated is returned when a call requires a session token and
// Login has not succeeded yet.
var ErrNotAuthenticated = errors.New("samco: not authenticated")

const (
	headerSessionToken = "x-session-token"
	headerRequestID    = "x-request-id"

	maxAttempts = 3
)

// Client handles Samco REST API communication: session auth, order
// management and account/market snapshots.
type Client struct {
	baseURL  string
	userID   string
	password string
	yob      string

	httpClient *http.Client

	tokenMu sync.RWMutex
	token   string

	orderLimiter  *infra.RateLimiter
	marketLimiter *infra.RateLimiter
	breaker       *infra.CircuitBreaker

	// retryDelay maps a retry count to a wait; tests shrink it.
	retryDelay func(int) time.Duration
}

// NewClient creates a Samco REST client from config.
func NewClient(cfg *infra.Config) *Client {
	return &Client{
		baseURL:  cfg.API.Samco.RestURL,
		userID:   cfg.API.Samco.UserID,
		password: cfg.API.Samco.Password,
		yob:      cfg.API.Samco.YOB,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		orderLimiter:  infra.GetSamcoOrderLimiter(),
		marketLimiter: infra.GetSamcoMarketLimiter(),
		breaker:       infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("samco-rest")),
		retryDelay:    infra.CalculateBackoff,
	}
}

// Login exchanges credentials for a session token. The token is attached to
// every subsequent REST call and to the stream handshake.
func (c *Client) Login(ctx context.Context) error {
	var resp loginResponse
	err := c.doJSON(ctx, http.MethodPost, "/login", c.orderLimiter,
		loginRequest{UserID: c.userID, Password: c.password, YOB: c.yob}, &resp)
	if err != nil {
		return fmt.Errorf("samco login: %w", err)
	}
	if resp.Status != StatusSuccess || resp.SessionToken == "" {
		return fmt.Errorf("samco login rejected: %s", resp.StatusMessage)
	}

	c.tokenMu.Lock()
	c.token = resp.SessionToken
	c.tokenMu.Unlock()

	slog.Info("Samco session established", "user", c.userID)
	return nil
}

// SessionToken returns the current session token, empty before Login.
func (c *Client) SessionToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// StreamHeader builds the handshake header for the streaming socket.
func (c *Client) StreamHeader() http.Header {
	h := make(http.Header)
	h.Set(headerSessionToken, c.SessionToken())
	return h
}

// PlaceOrder submits a new order.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	var resp OrderResponse
	if err := c.doJSON(ctx, http.MethodPost, "/order/new", c.orderLimiter, req, &resp); err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	return &resp, nil
}

// ModifyOrder modifies an open order identified by its broker order number.
func (c *Client) ModifyOrder(ctx context.Context, orderNumber string, req OrderRequest) (*OrderResponse, error) {
	var resp OrderResponse
	path := "/order/modify/" + url.PathEscape(orderNumber)
	if err := c.doJSON(ctx, http.MethodPut, path, c.orderLimiter, req, &resp); err != nil {
		return nil, fmt.Errorf("modify order %s: %w", orderNumber, err)
	}
	return &resp, nil
}

// CancelOrder requests cancellation of an open order.
func (c *Client) CancelOrder(ctx context.Context, orderNumber string) (*CancelResponse, error) {
	var resp CancelResponse
	path := "/order/cancel?orderNumber=" + url.QueryEscape(orderNumber)
	if err := c.doJSON(ctx, http.MethodDelete, path, c.orderLimiter, nil, &resp); err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", orderNumber, err)
	}
	return &resp, nil
}

// OrderDetail fetches the current broker-side state of one order.
func (c *Client) OrderDetail(ctx context.Context, orderNumber string) (*OrderDetail, error) {
	var resp OrderDetail
	path := "/order/details?orderNumber=" + url.QueryEscape(orderNumber)
	if err := c.doJSON(ctx, http.MethodGet, path, c.orderLimiter, nil, &resp); err != nil {
		return nil, fmt.Errorf("order detail %s: %w", orderNumber, err)
	}
	return &resp, nil
}

// OrderBook fetches all of today's orders.
func (c *Client) OrderBook(ctx context.Context) ([]OrderDetail, error) {
	var resp orderBookResponse
	if err := c.doJSON(ctx, http.MethodGet, "/order/orderBook", c.orderLimiter, nil, &resp); err != nil {
		return nil, fmt.Errorf("order book: %w", err)
	}
	if resp.Status == StatusFailure {
		// An empty book comes back as Failure with a descriptive message.
		return nil, nil
	}
	return resp.OrderBookDetails, nil
}

// Positions fetches net intraday/derivative positions.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var resp positionsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/position/netPositions", c.orderLimiter, nil, &resp); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	if resp.Status == StatusFailure {
		return nil, nil
	}
	return resp.PositionDetails, nil
}

// Holdings fetches demat holdings.
func (c *Client) Holdings(ctx context.Context) ([]Holding, error) {
	var resp holdingsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/holding/getHoldings", c.orderLimiter, nil, &resp); err != nil {
		return nil, fmt.Errorf("holdings: %w", err)
	}
	if resp.Status == StatusFailure {
		return nil, nil
	}
	return resp.HoldingDetails, nil
}

// AccountLimits fetches the margin snapshot.
func (c *Client) AccountLimits(ctx context.Context) (*Limits, error) {
	var resp Limits
	if err := c.doJSON(ctx, http.MethodGet, "/limit/getLimits", c.orderLimiter, nil, &resp); err != nil {
		return nil, fmt.Errorf("limits: %w", err)
	}
	return &resp, nil
}

// Quote fetches a REST quote snapshot for one instrument.
func (c *Client) Quote(ctx context.Context, symbol, exchange string) (*Quote, error) {
	var resp Quote
	path := fmt.Sprintf("/quote/getQuote?symbolName=%s&exchange=%s",
		url.QueryEscape(symbol), url.QueryEscape(exchange))
	if err := c.doJSON(ctx, http.MethodGet, path, c.marketLimiter, nil, &resp); err != nil {
		return nil, fmt.Errorf("quote %s: %w", symbol, err)
	}
	return &resp, nil
}

// IntradayCandles fetches minute bars for a symbol between from and to.
// Only request validation is done here; backfill policy is the caller's.
func (c *Client) IntradayCandles(ctx context.Context, symbol, exchange string, from, to time.Time, intervalMin int) ([]Candle, error) {
	if symbol == "" {
		return nil, fmt.Errorf("candles: symbol is required")
	}
	if intervalMin < 1 {
		return nil, fmt.Errorf("candles: interval must be at least one minute, got %d", intervalMin)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("candles: from %s must be before to %s", from, to)
	}

	const layout = "2006-01-02 15:04:05"
	path := fmt.Sprintf("/intraday/candleData?symbolName=%s&exchange=%s&fromDate=%s&toDate=%s&interval=%d",
		url.QueryEscape(symbol), url.QueryEscape(exchange),
		url.QueryEscape(from.Format(layout)), url.QueryEscape(to.Format(layout)), intervalMin)

	var resp candleResponse
	if err := c.doJSON(ctx, http.MethodGet, path, c.marketLimiter, nil, &resp); err != nil {
		return nil, fmt.Errorf("candles %s: %w", symbol, err)
	}
	if resp.Status == StatusFailure {
		return nil, fmt.Errorf("candles %s: %s", symbol, resp.StatusMessage)
	}
	return resp.Candles, nil
}

// doJSON runs one rate-limited, breaker-guarded request with transient-error
// retries, decoding the JSON reply into out.
func (c *Client) doJSON(ctx context.Context, method, path string, limiter *infra.RateLimiter, body, out any) error {
	if path != "/login" && c.SessionToken() == "" {
		return ErrNotAuthenticated
	}

	limiter.Wait()

	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	requestID := uuid.NewString()
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay(attempt - 1)):
			}
		}

		data, status, err := c.doOnce(ctx, method, path, requestID, payload)
		if err != nil {
			lastErr = err
			slog.Warn("Samco request failed", "path", path, "attempt", attempt, "request_id", requestID, "err", err)
			continue
		}
		if status >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("server error: HTTP %d", status)
			slog.Warn("Samco server error", "path", path, "attempt", attempt, "request_id", requestID, "status", status)
			continue
		}

		c.breaker.RecordSuccess()
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	c.breaker.RecordFailure()
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path, requestID string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.SessionToken(); token != "" {
		req.Header.Set(headerSessionToken, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}
