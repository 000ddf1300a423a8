package events

import (
	"context"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/domain"
)

const TypeRecordCreated = "record.created"

// Publisher announces committed record changes to downstream consumers.
//
// Publishing is best-effort: callers log failures and never roll back the write.
type Publisher interface {
	RecordCreated(ctx context.Context, r domain.Record) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) RecordCreated(context.Context, domain.Record) error { return nil }
