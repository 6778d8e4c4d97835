package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/enrollment"
	"github.com/trezcool/lms/core/purchase"
)

const defaultStaleAfter = 10 * time.Minute

// SweepReport sums up one sweep pass.
type SweepReport struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`   // parked failed during this pass (dangling reference, or retries exhausted)
	Retrying  int `json:"retrying"` // left pending for the next pass
	Skipped   int `json:"skipped"`  // resolved by someone else meanwhile
}

// Sweeper retries purchases stuck pending for longer than StaleAfter.
// A purchase whose enrollment keeps failing on I/O errors is parked failed after MaxAttempts passes
// (0 retries forever).
type Sweeper struct {
	ledger  *purchase.Ledger
	applier *enrollment.Applier
	logger  core.Logger

	StaleAfter  time.Duration
	MaxAttempts int

	mu sync.Mutex // one pass at a time
}

func NewSweeper(ledger *purchase.Ledger, applier *enrollment.Applier, logger core.Logger, conf core.SweepConfig) *Sweeper {
	staleAfter := conf.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Sweeper{
		ledger:      ledger,
		applier:     applier,
		logger:      logger,
		StaleAfter:  staleAfter,
		MaxAttempts: conf.MaxAttempts,
	}
}

// Run makes one pass over the stale pending purchases.
// Per-purchase failures are counted in the report; only a failing listing, or ctx, aborts the pass.
func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report SweepReport
	cur := s.ledger.FindStalePending(s.StaleAfter)
	for cur.Next(ctx) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		p := cur.Purchase()
		report.Scanned++

		res, err := s.applier.Apply(ctx, p.ID)
		switch {
		case err == nil && res.AlreadyCompleted:
			report.Skipped++
		case err == nil:
			report.Completed++
		case errors.Is(err, enrollment.ErrReferenceMissing):
			report.Failed++
		case errors.Is(err, enrollment.ErrAlreadyFailed), errors.Is(err, purchase.ErrNotFound):
			report.Skipped++
		default:
			if s.retryOrGiveUp(ctx, p, err) {
				report.Failed++
			} else {
				report.Retrying++
			}
		}
	}
	if err := cur.Err(); err != nil {
		s.logger.Error("sweep: listing stale purchases", err)
		return report, err
	}

	s.logger.Info("sweep done", map[string]interface{}{
		"cutoff":    cur.Cutoff(),
		"scanned":   report.Scanned,
		"completed": report.Completed,
		"failed":    report.Failed,
		"retrying":  report.Retrying,
		"skipped":   report.Skipped,
	})
	return report, nil
}

// retryOrGiveUp records a transient failure and parks the purchase once MaxAttempts is reached.
// It returns true when the purchase was parked.
func (s *Sweeper) retryOrGiveUp(ctx context.Context, p purchase.Purchase, cause error) bool {
	data := map[string]interface{}{"purchase_id": p.ID}
	s.logger.Warn("sweep: enrollment still failing", cause, data)

	p, err := s.ledger.RecordSweepAttempt(ctx, p.ID, cause)
	if err != nil {
		s.logger.Error("sweep: recording attempt", err, data)
		return false
	}
	if s.MaxAttempts <= 0 || p.SweepAttempts < s.MaxAttempts || !p.IsPending() {
		return false
	}

	reason := fmt.Sprintf("sweep gave up after %d attempts: %s", p.SweepAttempts, p.LastError)
	if _, err = s.ledger.MarkFailed(ctx, p.ID, reason); err != nil {
		if errors.Is(err, purchase.ErrInvalidState) {
			return false // completed meanwhile
		}
		s.logger.Error("sweep: parking purchase", err, data)
		return false
	}
	s.logger.Error("sweep: gave up on purchase", errors.New(reason), data)
	return true
}

// Start runs a pass every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info(fmt.Sprintf("sweeper started: every %s, stale after %s", interval, s.StaleAfter))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("sweep failed", err)
			}
		}
	}
}
