package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/domain"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/platform/cursor"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/events"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/recordrepo"
)

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

type Service struct {
	repo      recordrepo.Repository
	publisher events.Publisher
	log       logrus.FieldLogger
	validator *Validator
}

func NewService(repo recordrepo.Repository, publisher events.Publisher, log logrus.FieldLogger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		log:       log,
		validator: NewValidator(),
	}
}

func (s *Service) Validator() *Validator { return s.validator }

// Create stores a validated input without re-validating it. Both the single and
// bulk write paths go through here.
func (s *Service) Create(ctx context.Context, in Input) (domain.Record, error) {
	rec, err := s.repo.Create(ctx, recordrepo.NewRecord{
		SKU:      in.SKU,
		Title:    in.Title,
		Status:   in.status(),
		Brand:    in.Brand,
		Category: in.Category,
	})
	if err != nil {
		return domain.Record{}, err
	}
	s.announce(ctx, rec)
	return rec, nil
}

// ExistsBySKU reports whether a record already holds sku.
func (s *Service) ExistsBySKU(ctx context.Context, sku string) (bool, error) {
	return s.repo.ExistsBySKU(ctx, sku)
}

func (s *Service) CreateRecord(ctx context.Context, in Input) (domain.Record, error) {
	if vs := s.validator.Validate(in); len(vs) > 0 {
		return domain.Record{}, violationsError(vs)
	}
	rec, err := s.Create(ctx, in)
	if err != nil {
		if errors.Is(err, recordrepo.ErrDuplicateSKU) {
			return domain.Record{}, duplicateSKUError(in.SKU)
		}
		return domain.Record{}, err
	}
	s.log.WithFields(logrus.Fields{
		"record_id": int64(rec.ID),
		"sku":       rec.SKU,
	}).Info("record created")
	return rec, nil
}

func (s *Service) GetRecord(ctx context.Context, id domain.RecordID) (domain.Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, recordrepo.ErrNotFound) {
			return domain.Record{}, &Error{
				Status:  404,
				Code:    CodeNotFound,
				Message: fmt.Sprintf("Item %d not found", int64(id)),
			}
		}
		return domain.Record{}, err
	}
	return rec, nil
}

type ListInput struct {
	Limit    *int
	Cursor   *string
	Status   *string
	Brand    *string
	Category *string
}

type Page struct {
	Items      []domain.Record
	NextCursor *string
	HasMore    bool
}

// ListRecords returns one page in (created_at DESC, id DESC) order. It fetches
// limit+1 rows so HasMore needs no count query.
func (s *Service) ListRecords(ctx context.Context, in ListInput) (Page, error) {
	limit := DefaultPageLimit
	if in.Limit != nil {
		limit = *in.Limit
	}
	if limit < 1 || limit > MaxPageLimit {
		return Page{}, &Error{
			Status:  422,
			Code:    CodeValidation,
			Message: "invalid limit",
			Details: map[string]any{"limit": fmt.Sprintf("must be between 1 and %d", MaxPageLimit)},
		}
	}

	var filter recordrepo.Filter
	if in.Status != nil {
		st := domain.RecordStatus(*in.Status)
		if !st.Valid() {
			return Page{}, &Error{
				Status:  422,
				Code:    CodeValidation,
				Message: "invalid status",
				Details: map[string]any{"status": "must be one of " + statusList()},
			}
		}
		filter.Status = &st
	}
	filter.Brand = in.Brand
	filter.Category = in.Category

	pos, err := cursor.Validate(in.Cursor)
	if err != nil {
		return Page{}, &Error{
			Status:  400,
			Code:    CodeInvalidCursor,
			Message: err.Error(),
		}
	}
	q := recordrepo.ListQuery{Filter: filter, Limit: limit + 1}
	if pos != nil {
		q.After = &recordrepo.Position{CreatedAt: pos.CreatedAt, ID: domain.RecordID(pos.ID)}
	}

	rows, err := s.repo.List(ctx, q)
	if err != nil {
		return Page{}, err
	}

	page := Page{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		page.HasMore = true
		last := page.Items[limit-1]
		next := cursor.Encode(last.CreatedAt, int64(last.ID))
		page.NextCursor = &next
	}
	return page, nil
}

func (s *Service) announce(ctx context.Context, rec domain.Record) {
	if err := s.publisher.RecordCreated(ctx, rec); err != nil {
		s.log.WithError(err).WithField("record_id", int64(rec.ID)).Warn("failed to publish record.created")
	}
}

func duplicateSKUError(sku string) *Error {
	return &Error{
		Status:  409,
		Code:    CodeDuplicateSKU,
		Message: fmt.Sprintf("Item with SKU '%s' already exists", sku),
		Details: map[string]any{"sku": sku},
	}
}
