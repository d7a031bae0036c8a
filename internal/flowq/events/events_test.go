package events

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehsaniara/flowq/internal/flowq/pubsub"
)

func next(t *testing.T, ch <-chan pubsub.Message[Event]) Event {
	t.Helper()
	select {
	case msg := <-ch:
		return msg.Payload
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return Event{}
}

func TestBus_TypedAndWildcardDelivery(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()
	ctx := context.Background()

	added, unsubAdded, err := bus.Subscribe(ctx, ItemAdded)
	require.NoError(t, err)
	defer unsubAdded()
	all, unsubAll, err := bus.SubscribeAll(ctx)
	require.NoError(t, err)
	defer unsubAll()

	require.NoError(t, bus.Publish(ctx, Event{Type: ItemAdded, ProjectID: "p-1", ItemID: "i-1"}))
	require.NoError(t, bus.Publish(ctx, Event{Type: Alert}))

	got := next(t, added)
	assert.Equal(t, "i-1", got.ItemID)
	assert.False(t, got.Timestamp.IsZero(), "timestamp is filled in")

	assert.Equal(t, ItemAdded, next(t, all).Type)
	assert.Equal(t, Alert, next(t, all).Type)

	select {
	case msg := <-added:
		t.Fatalf("unexpected event on typed topic: %v", msg.Payload.Type)
	default:
	}

	assert.Equal(t, int64(1), bus.Stats(ItemAdded).Published)
	assert.Equal(t, int64(2), bus.Stats(Type(AllTopic)).Published)
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus(4)
	require.NoError(t, bus.Close())

	assert.Error(t, bus.Publish(context.Background(), Event{Type: Alert}))
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: Alert}))
}

type alertPayload struct {
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

func TestJournal_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	j, err := OpenJournal(path)
	require.NoError(t, err)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Write(Event{Type: ItemAdded, ProjectID: "p-1", ItemID: "i-1", Timestamp: ts,
		Payload: map[string]any{"position": 0, "priority": "high"}}))
	require.NoError(t, j.Write(Event{Type: Alert, Timestamp: ts,
		Payload: alertPayload{Type: "memory_high", Value: 85.5, Threshold: 80}}))
	require.NoError(t, j.Close())

	entries, err := ReadJournal(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, ItemAdded, entries[0].Type)
	assert.Equal(t, "p-1", entries[0].ProjectID)
	assert.Equal(t, ts, entries[0].Timestamp)
	assert.Equal(t, "high", entries[0].Payload["priority"])
	assert.Equal(t, 0.0, entries[0].Payload["position"])

	assert.Equal(t, Alert, entries[1].Type)
	assert.Equal(t, "memory_high", entries[1].Payload["type"])
	assert.Equal(t, 85.5, entries[1].Payload["value"])
}

func TestJournal_AttachToBus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	j, err := OpenJournal(path)
	require.NoError(t, err)

	bus := NewBus(16)
	defer bus.Close()
	require.NoError(t, j.Attach(bus))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Event{Type: ItemCancelled, ProjectID: "p-1", ItemID: "i-9"}))
	require.NoError(t, bus.Publish(ctx, Event{Type: CPUCritical, Payload: map[string]any{"value": 97.0}}))

	require.Eventually(t, func() bool {
		entries, err := ReadJournal(path)
		return err == nil && len(entries) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, j.Close())

	entries, err := ReadJournal(path)
	require.NoError(t, err)
	assert.Equal(t, ItemCancelled, entries[0].Type)
	assert.Equal(t, "i-9", entries[0].ItemID)
	assert.Equal(t, CPUCritical, entries[1].Type)
}

func TestReadJournal_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n"), 0644))

	_, err := ReadJournal(path)
	assert.Error(t, err)
}

func TestOpenJournal_BadPath(t *testing.T) {
	_, err := OpenJournal(filepath.Join(t.TempDir(), "missing", "dir", "events.jsonl"))
	assert.Error(t, err)
}
