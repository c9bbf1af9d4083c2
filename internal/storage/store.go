// Package storage persists the emitted order event journal in SQLite. The
// journal doubles as the order history consulted when adopting broker
// orders left over from a previous process lifetime.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"samco_go/internal/domain"
	"samco_go/internal/event"

	_ "github.com/glebarez/go-sqlite"
)

// Journal handles persistent storage of order events in SQLite.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) the journal with WAL mode enabled.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata table: %w", err)
	}

	// broker_id and order_id are denormalized out of the payload so the
	// history lookup does not have to scan JSON.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS order_events (
			id INTEGER PRIMARY KEY,
			ts INTEGER NOT NULL,
			order_id TEXT NOT NULL,
			broker_id TEXT NOT NULL,
			status TEXT NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create order_events table: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_order_events_broker ON order_events(broker_id, id);`)
	if err != nil {
		return nil, fmt.Errorf("failed to create broker index: %w", err)
	}

	return &Journal{db: db}, nil
}

// SaveOrderEvent appends one order event to the journal.
func (j *Journal) SaveOrderEvent(ctx context.Context, ev event.OrderEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		"INSERT INTO order_events (id, ts, order_id, broker_id, status, payload) VALUES (?, ?, ?, ?, ?, ?)",
		ev.GetSeq(), ev.GetTs(), ev.OrderID, ev.BrokerID, string(ev.Status), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (j *Journal) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table.
func (j *Journal) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := j.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// LastSeq returns the highest event sequence number journaled, 0 if none.
// The emitter resumes numbering above it across restarts.
func (j *Journal) LastSeq(ctx context.Context) (uint64, error) {
	var lastSeq sql.NullInt64
	err := j.db.QueryRowContext(ctx, "SELECT MAX(id) FROM order_events").Scan(&lastSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to get last seq: %w", err)
	}
	if !lastSeq.Valid {
		return 0, nil
	}
	return uint64(lastSeq.Int64), nil
}

// LoadOrderEvents loads order events starting from fromSeq (inclusive).
func (j *Journal) LoadOrderEvents(ctx context.Context, fromSeq uint64) ([]event.OrderEvent, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, payload FROM order_events WHERE id >= ? ORDER BY id ASC",
		fromSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []event.OrderEvent
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var ev event.OrderEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %d: %w", id, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}

// OrderByBrokerID reconstructs an engine order from the most recent
// journaled event carrying the given broker id. Used to adopt orders
// placed by an earlier process lifetime.
func (j *Journal) OrderByBrokerID(ctx context.Context, brokerID string) (*domain.Order, bool, error) {
	var payload []byte
	err := j.db.QueryRowContext(ctx,
		"SELECT payload FROM order_events WHERE broker_id = ? ORDER BY id DESC LIMIT 1",
		brokerID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var ev event.OrderEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal event for %s: %w", brokerID, err)
	}
	if ev.Status.Terminal() {
		return nil, false, nil
	}

	return &domain.Order{
		ID:       ev.OrderID,
		Symbol:   ev.Symbol,
		Exchange: ev.Exchange,
		BrokerID: ev.BrokerID,
		Status:   ev.Status,
	}, true, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}
