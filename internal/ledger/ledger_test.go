package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/tentd/internal/action"
	"github.com/dokzlo13/tentd/internal/db"
	"github.com/dokzlo13/tentd/internal/device"
	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/store"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "tentd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return New(conn.DB)
}

func TestAppendAndGetByType(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, Entry{EventType: EventDose, Room: "tent", Source: "feed", Payload: map[string]any{"ml": 5.0}}))
	require.NoError(t, l.Append(ctx, Entry{EventType: EventDose, Room: "other"}))
	require.NoError(t, l.Append(ctx, Entry{EventType: EventActionEmitted, Room: "tent"}))

	entries, err := l.GetByType(ctx, "tent", EventDose, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "feed", entries[0].Source)
	assert.Equal(t, 5.0, entries[0].Payload["ml"])
}

func TestBatchCompleted_FirstWriterWins(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	assert.False(t, l.HasCompleted(ctx, "batch-1"))
	assert.False(t, l.HasCompleted(ctx, ""))

	require.NoError(t, l.Append(ctx, Entry{EventType: EventBatchCompleted, Room: "tent", IdempotencyKey: "batch-1", Source: "PID"}))
	require.NoError(t, l.Append(ctx, Entry{EventType: EventBatchCompleted, Room: "tent", IdempotencyKey: "batch-1", Source: "AI"}))
	assert.True(t, l.HasCompleted(ctx, "batch-1"))

	entries, err := l.GetByType(ctx, "tent", EventBatchCompleted, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "PID", entries[0].Source)
}

func TestDeleteOlderThan_KeepsCompletedBatches(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	l.SetNow(func() time.Time { return now })

	old := now.Add(-10 * 24 * time.Hour)
	require.NoError(t, l.Append(ctx, Entry{EventType: EventDose, Room: "tent", Timestamp: old}))
	require.NoError(t, l.Append(ctx, Entry{EventType: EventBatchCompleted, Room: "tent", Timestamp: old, IdempotencyKey: "b"}))
	require.NoError(t, l.Append(ctx, Entry{EventType: EventDose, Room: "tent"}))

	n, err := l.DeleteOlderThan(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, l.HasCompleted(ctx, "b"))

	entries, err := l.GetByTimeRange(ctx, now.Add(-time.Hour), now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWatch_RecordsEmittedPlans(t *testing.T) {
	l := openLedger(t)
	bus := eventbus.New("tent")
	unsub := l.Watch("tent", bus)
	defer unsub()

	bus.Publish(action.TopicPlanEmitted, action.Plan{
		Room:      "tent",
		Direction: action.IncreaseVPD,
		Status:    action.TooHumid,
		Actions: []action.Action{
			{Capability: store.CapExhaust, Action: device.Increase, Priority: action.High},
			{Capability: store.CapHumidify, Action: device.Reduce, Priority: action.Medium},
		},
	})
	bus.Close(context.Background())

	entries, err := l.GetByType(context.Background(), "tent", EventActionEmitted, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, action.IncreaseVPD, e.Source)
		assert.Equal(t, string(action.TooHumid), e.Payload["status"])
	}
}
