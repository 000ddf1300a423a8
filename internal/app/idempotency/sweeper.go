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
	DefaultSweepInterval = 10 * time.Minute
	DefaultSweepBackoff  = time.Minute
)

type SweepMetrics interface {
	ObserveSweep(deleted int, err error)
}

type nopSweepMetrics struct{}

func (nopSweepMetrics) ObserveSweep(int, error) {}

type SweeperOptions struct {
	Interval time.Duration
	// Backoff is the wait after a failed sweep before the next regular interval starts.
	Backoff time.Duration
	Metrics SweepMetrics
}

// Sweeper periodically deletes expired idempotency entries. Admission reclaims
// expired tokens inline, so correctness never depends on sweep timing.
type Sweeper struct {
	store idempotency.Store
	clk   clockport.Clock
	log   logrus.FieldLogger

	interval time.Duration
	backoff  time.Duration
	metrics  SweepMetrics
}

func NewSweeper(store idempotency.Store, clk clockport.Clock, log logrus.FieldLogger, opts SweeperOptions) *Sweeper {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = DefaultSweepBackoff
	}
	m := opts.Metrics
	if m == nil {
		m = nopSweepMetrics{}
	}
	return &Sweeper{
		store:    store,
		clk:      clk,
		log:      log.WithField("component", "idempotency_sweeper"),
		interval: interval,
		backoff:  backoff,
		metrics:  m,
	}
}

// SweepOnce deletes every entry expired at the current clock time.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpired(ctx, s.clk.Now())
	s.metrics.ObserveSweep(n, err)
	return n, err
}

// Run sweeps every interval until ctx is done. A failed sweep is logged and
// followed by the backoff wait; Run never returns early on store errors.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.WithFields(logrus.Fields{
		"interval": s.interval.String(),
		"backoff":  s.backoff.String(),
	}).Info("idempotency sweeper started")
	defer s.log.Info("idempotency sweeper stopped")

	for {
		if !sleep(ctx, s.interval) {
			return
		}
		n, err := s.sweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).Error("idempotency sweep failed")
			if !sleep(ctx, s.backoff) {
				return
			}
			continue
		}
		if n > 0 {
			s.log.WithField("deleted", n).Info("cleaned up expired idempotency keys")
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("idempotency sweep panicked")
			err = errSweepPanic
		}
	}()
	return s.SweepOnce(ctx)
}

var errSweepPanic = errors.New("idempotency sweep panicked")

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
