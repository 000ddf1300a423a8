package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	memclock "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/memory/clock"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/domain"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/events"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPublisher_RecordCreated_WritesKeyedEvent(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	now := time.Unix(1_700_000_000, 0).UTC()
	p := newPublisher(w, "records", memclock.NewManualClock(now), quietLogger())

	brand := "Acme"
	rec := domain.Record{ID: 42, SKU: "SKU-42", Title: "Widget", Status: domain.RecordStatusActive, Brand: &brand, CreatedAt: now.Add(-time.Second)}
	if err := p.RecordCreated(context.Background(), rec); err != nil {
		t.Fatalf("RecordCreated() err=%v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("messages=%d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "SKU-42" {
		t.Fatalf("key=%q, want SKU-42", msg.Key)
	}
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.ID == "" || ev.Type != events.TypeRecordCreated || ev.Source != source {
		t.Fatalf("unexpected envelope: %+v", ev)
	}
	if !ev.Timestamp.Equal(now) {
		t.Fatalf("timestamp=%v, want %v", ev.Timestamp, now)
	}
	if ev.Data.ID != 42 || ev.Data.SKU != "SKU-42" || ev.Data.Brand == nil || *ev.Data.Brand != "Acme" || ev.Data.Category != nil {
		t.Fatalf("unexpected data: %+v", ev.Data)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event-type"] != events.TypeRecordCreated || headers["event-id"] != ev.ID || headers["record-id"] != "42" {
		t.Fatalf("unexpected headers: %v", headers)
	}
}

func TestPublisher_RecordCreated_ReturnsWriterError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	w := &fakeWriter{err: boom}
	p := newPublisher(w, "records", memclock.NewManualClock(time.Unix(0, 0)), quietLogger())

	if err := p.RecordCreated(context.Background(), domain.Record{ID: 1, SKU: "A"}); !errors.Is(err, boom) {
		t.Fatalf("RecordCreated() err=%v, want %v", err, boom)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("Close() err=%v closed=%v", err, w.closed)
	}
}
