// Package ledger keeps an append-only history of emitted actions, nutrient doses and
// premium batches. Completed batches double as the idempotency record.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/action"
	"github.com/dokzlo13/tentd/internal/eventbus"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventActionEmitted  EventType = "action_emitted"
	EventDose           EventType = "dose"
	EventBatchCompleted EventType = "batch_completed"
	EventBatchFailed    EventType = "batch_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID             int64
	EventType      EventType
	Timestamp      time.Time
	Room           string
	Payload        map[string]any
	Source         string
	IdempotencyKey string
}

// Ledger provides append-only event logging with deduplication
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// SetNow overrides the clock used for timestamps and retention.
func (l *Ledger) SetNow(now func() time.Time) {
	l.now = now
}

// Append adds a new event to the ledger. batch_completed entries use INSERT OR IGNORE so
// the first completion of an idempotency key wins.
func (l *Ledger) Append(ctx context.Context, e Entry) error {
	var payloadJSON []byte
	var err error

	if e.Payload != nil {
		payloadJSON, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}

	insertSQL := `INSERT INTO event_ledger (event_type, timestamp, room, payload, source, idempotency_key) VALUES (?, ?, ?, ?, ?, ?)`
	if e.EventType == EventBatchCompleted && e.IdempotencyKey != "" {
		insertSQL = `INSERT OR IGNORE INTO event_ledger (event_type, timestamp, room, payload, source, idempotency_key) VALUES (?, ?, ?, ?, ?, ?)`
	}

	_, err = l.db.ExecContext(ctx, insertSQL, string(e.EventType), ts.UTC().Unix(), e.Room, string(payloadJSON), e.Source, e.IdempotencyKey)
	return err
}

// HasCompleted checks if a batch with the given idempotency key has completed
func (l *Ledger) HasCompleted(ctx context.Context, idempotencyKey string) bool {
	if idempotencyKey == "" {
		return false
	}

	var exists int
	err := l.db.QueryRowContext(ctx, `
		SELECT 1 FROM event_ledger
		WHERE idempotency_key = ? AND event_type = ?
		LIMIT 1
	`, idempotencyKey, string(EventBatchCompleted)).Scan(&exists)

	return err == nil && exists == 1
}

// GetByType returns a room's entries of one type, newest first
func (l *Ledger) GetByType(ctx context.Context, room string, eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, timestamp, room, payload, source, idempotency_key
		FROM event_ledger
		WHERE room = ? AND event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, room, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByTimeRange returns entries within a time range
func (l *Ledger) GetByTimeRange(ctx context.Context, start, end time.Time, limit int) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, timestamp, room, payload, source, idempotency_key
		FROM event_ledger
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, start.Unix(), end.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy).
// Completed batches are kept so replays stay idempotent.
func (l *Ledger) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.ExecContext(ctx, `
		DELETE FROM event_ledger WHERE timestamp < ? AND event_type != ?
	`, cutoff, string(EventBatchCompleted))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Watch records every action plan the room emits. It returns the unsubscribe func.
func (l *Ledger) Watch(room string, bus *eventbus.Bus) func() {
	return bus.Subscribe(action.TopicPlanEmitted, func(ev eventbus.Event) {
		plan, ok := ev.Payload.(action.Plan)
		if !ok || len(plan.Actions) == 0 {
			return
		}
		for _, a := range plan.Actions {
			err := l.Append(context.Background(), Entry{
				EventType: EventActionEmitted,
				Room:      room,
				Source:    plan.Direction,
				Payload: map[string]any{
					"capability": a.Capability,
					"action":     a.Action,
					"priority":   a.Priority.String(),
					"message":    a.Message,
					"status":     string(plan.Status),
				},
			})
			if err != nil {
				log.Error().Err(err).Str("room", room).Str("capability", a.Capability).Msg("Failed to record action")
			}
		}
	})
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr sql.NullString
		var source, idempotencyKey sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &entry.Room, &payloadStr, &source, &idempotencyKey,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if source.Valid {
			entry.Source = source.String
		}
		if idempotencyKey.Valid {
			entry.IdempotencyKey = idempotencyKey.String
		}

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
