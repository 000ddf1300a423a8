package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/app/records"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/domain"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/recordrepo"
)

const CodeInternal = "INTERNAL_ERROR"

type ItemStatus string

const (
	ItemSuccess ItemStatus = "success"
	ItemError   ItemStatus = "error"
)

// ItemResult is the outcome for the item at Index in the submitted array.
type ItemResult struct {
	Index      int
	Status     ItemStatus
	StatusCode int

	Record *domain.Record

	ErrorCode    string
	ErrorMessage string
	Hint         string
}

type Result struct {
	Total      int
	Successful int
	Failed     int
	Results    []ItemResult
}

// StatusCode is 200 when every item succeeded and 207 otherwise.
func (r Result) StatusCode() int {
	if r.Failed == 0 {
		return 200
	}
	return 207
}

// Metrics receives one observation per processed batch.
type Metrics interface {
	ObserveBulk(res Result)
}

type nopMetrics struct{}

func (nopMetrics) ObserveBulk(Result) {}

// Creator is the record write path used per item.
type Creator interface {
	ExistsBySKU(ctx context.Context, sku string) (bool, error)
	Create(ctx context.Context, in records.Input) (domain.Record, error)
}

type Processor struct {
	creator   Creator
	validator *records.Validator
	limits    Limits
	log       logrus.FieldLogger
	metrics   Metrics
}

type Options struct {
	Limits  Limits
	Metrics Metrics
}

func NewProcessor(creator Creator, validator *records.Validator, log logrus.FieldLogger, opts Options) *Processor {
	limits := opts.Limits
	if limits.MaxItems <= 0 {
		limits.MaxItems = DefaultMaxItems
	}
	if limits.MaxSizeMB <= 0 {
		limits.MaxSizeMB = DefaultMaxSizeMB
	}
	m := opts.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	if validator == nil {
		validator = records.NewValidator()
	}
	return &Processor{
		creator:   creator,
		validator: validator,
		limits:    limits,
		log:       log,
		metrics:   m,
	}
}

func (p *Processor) Limits() Limits { return p.limits }

// Import processes items in order, each as its own unit of work. It assumes the
// anchor checks already passed; a failing item never stops the batch.
func (p *Processor) Import(ctx context.Context, items []records.Input) Result {
	start := time.Now()
	p.log.WithField("total_items", len(items)).Info("starting bulk import")

	res := Result{Total: len(items), Results: make([]ItemResult, 0, len(items))}
	for i, in := range items {
		r := p.processItem(ctx, i, in)
		if r.Status == ItemSuccess {
			res.Successful++
		} else {
			res.Failed++
		}
		res.Results = append(res.Results, r)
	}

	p.log.WithFields(logrus.Fields{
		"total_items":        res.Total,
		"successful":         res.Successful,
		"failed":             res.Failed,
		"processing_time_ms": time.Since(start).Milliseconds(),
	}).Info("bulk import completed")
	p.metrics.ObserveBulk(res)
	return res
}

func (p *Processor) processItem(ctx context.Context, index int, in records.Input) (out ItemResult) {
	log := p.log.WithFields(logrus.Fields{"index": index, "sku": in.SKU})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("unexpected error processing item")
			out = errorResult(index, 500, CodeInternal, "Internal server error", "Please try again or contact support")
		}
	}()

	if vs := p.validator.Validate(in); len(vs) > 0 {
		log.WithField("violation", vs[0].Message).Debug("item failed validation")
		return errorResult(index, 422, vs[0].Code, vs[0].Message, "Fix the item fields and resubmit")
	}

	exists, err := p.creator.ExistsBySKU(ctx, in.SKU)
	if err != nil {
		log.WithError(err).Error("error checking sku")
		return internalError(index)
	}
	if exists {
		return duplicateResult(index, in.SKU)
	}

	rec, err := p.creator.Create(ctx, in)
	if err != nil {
		if errors.Is(err, recordrepo.ErrDuplicateSKU) {
			log.Warn("sku taken concurrently")
			return duplicateResult(index, in.SKU)
		}
		log.WithError(err).Error("error creating item")
		return internalError(index)
	}
	log.WithField("record_id", int64(rec.ID)).Debug("item created")
	return ItemResult{Index: index, Status: ItemSuccess, StatusCode: 201, Record: &rec}
}

func duplicateResult(index int, sku string) ItemResult {
	return errorResult(index, 409, records.CodeDuplicateSKU,
		fmt.Sprintf("Item with SKU '%s' already exists", sku),
		"Use different SKU or update existing item")
}

// internalError reports a store failure without its cause; the cause is logged.
func internalError(index int) ItemResult {
	return errorResult(index, 500, CodeInternal,
		"Failed to create item",
		"Please check your data and try again")
}

func errorResult(index, status int, code, msg, hint string) ItemResult {
	return ItemResult{
		Index:        index,
		Status:       ItemError,
		StatusCode:   status,
		ErrorCode:    code,
		ErrorMessage: msg,
		Hint:         hint,
	}
}
