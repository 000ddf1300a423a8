package events

import (
	"context"
	"sync"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/domain"
)

// Recorder is an in-memory events.Publisher that keeps every published record.
// It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	created []domain.Record
	err     error
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) RecordCreated(ctx context.Context, rec domain.Record) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.created = append(r.created, rec)
	return nil
}

// FailWith makes subsequent publishes return err; nil restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Created returns a snapshot of the published records in publish order.
func (r *Recorder) Created() []domain.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Record(nil), r.created...)
}
