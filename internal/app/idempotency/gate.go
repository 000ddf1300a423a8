package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	clockport "github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/clock"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/idempotency"
)

const (
	DefaultTTL = time.Hour

	MaxTokenLength = 255

	// maxAdmitAttempts bounds the lookup/insert/reclaim loop when entries for one
	// token keep appearing and disappearing underneath us.
	maxAdmitAttempts = 3
)

var (
	ErrInvalidToken = errors.New("invalid idempotency key")

	// ErrUnavailable is returned by Admit when the store fails and the gate is
	// configured to fail closed.
	ErrUnavailable = errors.New("idempotency store unavailable")
)

type Outcome string

const (
	// OutcomeExecuted: fresh token, handler ran and its response was stored.
	OutcomeExecuted Outcome = "executed"
	// OutcomeReplayed: completed entry with a matching fingerprint; handler not run.
	OutcomeReplayed Outcome = "replayed"
	// OutcomeConflict: completed entry with a different fingerprint; handler not run.
	OutcomeConflict Outcome = "conflict"
	// OutcomeProcessing: another request holds the token; handler not run.
	OutcomeProcessing Outcome = "processing"
	// OutcomeUncached: handler ran but its response could not be captured, so the
	// entry was rolled back.
	OutcomeUncached Outcome = "uncached"
	// OutcomeBypassed: store failed during admission and the handler ran without
	// protection.
	OutcomeBypassed Outcome = "bypassed"
	// OutcomeUnavailable: store failed during admission and the request was
	// rejected with ErrUnavailable.
	OutcomeUnavailable Outcome = "unavailable"
)

// Handler runs the protected operation. It returns the response it produced and
// whether that response was captured in full.
type Handler func(ctx context.Context) (resp idempotency.Response, captured bool)

type Result struct {
	Outcome Outcome
	// Response is the cached response for OutcomeReplayed and the live handler
	// response for the outcomes that ran the handler. It is empty otherwise.
	Response idempotency.Response
}

// Ran reports whether the handler executed for this result.
func (r Result) Ran() bool {
	switch r.Outcome {
	case OutcomeExecuted, OutcomeUncached, OutcomeBypassed:
		return true
	default:
		return false
	}
}

// Metrics receives one observation per admission.
type Metrics interface {
	ObserveAdmission(outcome Outcome)
}

type nopMetrics struct{}

func (nopMetrics) ObserveAdmission(Outcome) {}

type Options struct {
	TTL time.Duration
	// FailOpen runs the handler unprotected when the store errors during
	// admission. When false, Admit returns ErrUnavailable instead.
	FailOpen bool
	Metrics  Metrics
}

// Gate enforces at-most-once execution per idempotency token.
type Gate struct {
	store idempotency.Store
	clk   clockport.Clock
	log   logrus.FieldLogger

	ttl      time.Duration
	failOpen bool
	metrics  Metrics
}

func NewGate(store idempotency.Store, clk clockport.Clock, log logrus.FieldLogger, opts Options) *Gate {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := opts.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	return &Gate{
		store:    store,
		clk:      clk,
		log:      log,
		ttl:      ttl,
		failOpen: opts.FailOpen,
		metrics:  m,
	}
}

func (g *Gate) TTL() time.Duration { return g.ttl }

// ValidateToken checks the token is 1-255 characters of [A-Za-z0-9_-].
func ValidateToken(token string) error {
	if len(token) == 0 || len(token) > MaxTokenLength {
		return ErrInvalidToken
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return ErrInvalidToken
		}
	}
	return nil
}

// Admit runs h at most once for token. Repeats with the same fingerprint replay
// the stored response; a different fingerprint is a conflict.
//
// The only errors returned are ErrInvalidToken (before any store access) and
// ErrUnavailable (store failure with fail-open disabled).
func (g *Gate) Admit(ctx context.Context, token idempotency.Token, fp idempotency.Fingerprint, h Handler) (Result, error) {
	if err := ValidateToken(string(token)); err != nil {
		return Result{}, err
	}
	log := g.log.WithField("idempotency_key", string(token))

	for attempt := 0; attempt < maxAdmitAttempts; attempt++ {
		now := g.clk.Now()

		existing, ok, err := g.store.Get(ctx, token)
		if err != nil {
			return g.degrade(ctx, log, "lookup", err, h)
		}

		if !ok {
			fresh := idempotency.NewEntry(token, fp, now, g.ttl)
			err := g.store.Insert(ctx, fresh)
			if errors.Is(err, idempotency.ErrAlreadyExists) {
				log.Debug("concurrent admission won the insert; re-reading entry")
				continue
			}
			if err != nil {
				return g.degrade(ctx, log, "insert", err, h)
			}
			log.WithField("expires_at", fresh.ExpiresAt).Debug("created idempotency entry")
			return g.observe(g.execute(ctx, log, fresh, h)), nil
		}

		if existing.IsExpired(now) {
			log.WithField("expired_at", existing.ExpiresAt).Info("idempotency key expired; reclaiming")
			if err := g.store.DeleteIfExpired(ctx, token, now); err != nil {
				return g.degrade(ctx, log, "reclaim", err, h)
			}
			continue
		}

		return g.observe(g.judge(log, existing, fp)), nil
	}

	log.Warn("idempotency entry kept changing during admission; reporting in-flight")
	return g.observe(Result{Outcome: OutcomeProcessing}), nil
}

func (g *Gate) judge(log logrus.FieldLogger, e idempotency.Entry, fp idempotency.Fingerprint) Result {
	switch e.Status {
	case idempotency.StatusCompleted:
		if e.Fingerprint != fp {
			log.WithFields(logrus.Fields{
				"existing_hash": string(e.Fingerprint),
				"new_hash":      string(fp),
			}).Warn("idempotency key conflict: different request body")
			return Result{Outcome: OutcomeConflict}
		}
		log.WithField("status_code", e.Response.StatusCode).Info("idempotency hit; replaying stored response")
		return Result{Outcome: OutcomeReplayed, Response: e.Response}
	default:
		log.WithField("created_at", e.CreatedAt).Warn("idempotency key already processing")
		return Result{Outcome: OutcomeProcessing}
	}
}

func (g *Gate) execute(ctx context.Context, log logrus.FieldLogger, fresh idempotency.Entry, h Handler) Result {
	// A panicking handler must not leave the token stuck in processing until TTL.
	defer func() {
		if r := recover(); r != nil {
			g.rollback(context.WithoutCancel(ctx), log, fresh.Token)
			panic(r)
		}
	}()

	resp, captured := h(ctx)
	if !captured {
		log.WithField("status_code", resp.StatusCode).Error("failed to capture response body; rolling back idempotency entry")
		g.rollback(context.WithoutCancel(ctx), log, fresh.Token)
		return Result{Outcome: OutcomeUncached, Response: resp}
	}

	done := fresh.Complete(resp, g.clk.Now())
	if err := g.store.Complete(context.WithoutCancel(ctx), done); err != nil {
		log.WithError(err).Error("failed to store idempotency response; rolling back entry")
		g.rollback(context.WithoutCancel(ctx), log, fresh.Token)
		return Result{Outcome: OutcomeUncached, Response: resp}
	}
	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"body_length": len(resp.Body),
	}).Info("saved idempotency response")
	return Result{Outcome: OutcomeExecuted, Response: resp}
}

func (g *Gate) rollback(ctx context.Context, log logrus.FieldLogger, token idempotency.Token) {
	if err := g.store.Delete(ctx, token); err != nil {
		log.WithError(err).Error("failed to delete idempotency entry")
	}
}

func (g *Gate) degrade(ctx context.Context, log logrus.FieldLogger, stage string, err error, h Handler) (Result, error) {
	log = log.WithError(err).WithField("stage", stage)
	if !g.failOpen {
		log.Error("idempotency store error; rejecting request")
		g.metrics.ObserveAdmission(OutcomeUnavailable)
		return Result{}, ErrUnavailable
	}
	log.Error("idempotency store error; executing without idempotency")
	resp, _ := h(ctx)
	return g.observe(Result{Outcome: OutcomeBypassed, Response: resp}), nil
}

func (g *Gate) observe(r Result) Result {
	g.metrics.ObserveAdmission(r.Outcome)
	return r
}

// Stats reports entry counts at the current clock time.
func (g *Gate) Stats(ctx context.Context) (idempotency.Stats, error) {
	return g.store.Stats(ctx, g.clk.Now())
}
