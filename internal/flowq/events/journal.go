package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ehsaniara/flowq/pkg/logger"
)

// Journal appends every event it sees to a file, one protojson-encoded
// google.protobuf.Struct per line.
type Journal struct {
	path   string
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	logger *logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// JournalEntry is one decoded journal line
type JournalEntry struct {
	Type      Type
	ProjectID string
	ItemID    string
	Timestamp time.Time
	Payload   map[string]any
}

func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event journal %s: %w", path, err)
	}
	return &Journal{
		path:   path,
		file:   f,
		writer: bufio.NewWriter(f),
		logger: logger.WithFields("component", "event-journal", "path", path),
	}, nil
}

// Attach subscribes the journal to every event on bus until Close.
func (j *Journal) Attach(bus *Bus) error {
	ctx, cancel := context.WithCancel(context.Background())
	ch, unsubscribe, err := bus.SubscribeAll(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe journal: %w", err)
	}

	j.cancel = cancel
	j.done = make(chan struct{})
	go func() {
		defer close(j.done)
		defer unsubscribe()
		for msg := range ch {
			if err := j.Write(msg.Payload); err != nil {
				j.logger.Warn("failed to journal event", "type", msg.Payload.Type, "error", err)
			}
		}
	}()
	return nil
}

// Write encodes and appends one event
func (j *Journal) Write(event Event) error {
	record, err := encodeEvent(event)
	if err != nil {
		return err
	}
	line, err := protojson.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.writer.Write(line); err != nil {
		return err
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return err
	}
	return j.writer.Flush()
}

// Close stops the subscription and closes the file
func (j *Journal) Close() error {
	if j.cancel != nil {
		j.cancel()
		<-j.done
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.writer.Flush(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

func encodeEvent(event Event) (*structpb.Struct, error) {
	fields := map[string]any{
		"type":      string(event.Type),
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if event.ProjectID != "" {
		fields["projectId"] = event.ProjectID
	}
	if event.ItemID != "" {
		fields["itemId"] = event.ItemID
	}
	if event.Payload != nil {
		payload, err := toGeneric(event.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event.Type, err)
		}
		fields["payload"] = payload
	}

	record, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build journal record: %w", err)
	}
	return record, nil
}

// toGeneric round-trips v through JSON so structpb only sees maps,
// slices, strings, float64 and bools.
func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadJournal decodes every line of a journal file
func ReadJournal(path string) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		record := &structpb.Struct{}
		if err := protojson.Unmarshal(scanner.Bytes(), record); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		entries = append(entries, decodeRecord(record))
	}
	return entries, scanner.Err()
}

func decodeRecord(record *structpb.Struct) JournalEntry {
	m := record.AsMap()
	entry := JournalEntry{}
	if v, ok := m["type"].(string); ok {
		entry.Type = Type(v)
	}
	if v, ok := m["projectId"].(string); ok {
		entry.ProjectID = v
	}
	if v, ok := m["itemId"].(string); ok {
		entry.ItemID = v
	}
	if v, ok := m["timestamp"].(string); ok {
		entry.Timestamp, _ = time.Parse(time.RFC3339Nano, v)
	}
	switch p := m["payload"].(type) {
	case map[string]any:
		entry.Payload = p
	case nil:
	default:
		entry.Payload = map[string]any{"value": p}
	}
	return entry
}
