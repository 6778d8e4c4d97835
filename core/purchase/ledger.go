package purchase

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/lms/core"
)

const defaultPageSize = 100

// Ledger owns the lifecycle of Purchase records.
// It holds no record between calls: every read & write goes through the Repository.
type Ledger struct {
	repo     Repository
	validate *validator.Validate
	logger   core.Logger
	now      func() time.Time
	pageSize int
}

func NewLedger(repo Repository, validate *validator.Validate, logger core.Logger) *Ledger {
	return &Ledger{
		repo:     repo,
		validate: validate,
		logger:   logger,
		now:      time.Now,
		pageSize: defaultPageSize,
	}
}

// WithClock replaces the ledger's time source (tests, replays).
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// WithPageSize sets how many stale purchases FindStalePending fetches per round trip.
func (l *Ledger) WithPageSize(n int) *Ledger {
	if n > 0 {
		l.pageSize = n
	}
	return l
}

func (l *Ledger) Now() time.Time { return l.now().UTC() }

// CreatePending opens a new pending Purchase.
// It fails with ErrConflict when the user already has a pending purchase for the course.
func (l *Ledger) CreatePending(ctx context.Context, np NewPurchase) (Purchase, error) {
	if err := np.Validate(l.validate); err != nil {
		return Purchase{}, err
	}

	now := l.Now()
	p, err := l.repo.CreatePurchase(ctx, Purchase{
		ID:        uuid.New().String(),
		UserID:    np.UserID,
		CourseID:  np.CourseID,
		Amount:    np.Amount,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return Purchase{}, err
		}
		return Purchase{}, errors.Wrap(err, "creating purchase")
	}
	l.logger.Info("purchase opened", map[string]interface{}{"purchase_id": p.ID, "user_id": p.UserID, "course_id": p.CourseID})
	return p, nil
}

// ResumeOrCreatePending treats an existing pending purchase as a resume instead of a new attempt.
// resumed is true when the returned purchase already existed.
func (l *Ledger) ResumeOrCreatePending(ctx context.Context, np NewPurchase) (p Purchase, resumed bool, err error) {
	// the pending purchase may resolve between our insert & lookup: retry once.
	for attempt := 0; attempt < 2; attempt++ {
		p, err = l.CreatePending(ctx, np)
		if err == nil {
			return p, false, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Purchase{}, false, err
		}

		p, err = l.repo.GetPendingPurchase(ctx, np.UserID, np.CourseID)
		if err == nil {
			return p, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Purchase{}, false, errors.Wrap(err, "getting pending purchase")
		}
	}
	return Purchase{}, false, ErrConflict
}

// MarkCompleted moves a pending purchase to completed.
// It is a no-op on a completed purchase and fails with an InvalidStateError on a failed one.
func (l *Ledger) MarkCompleted(ctx context.Context, id string) (Purchase, error) {
	return l.transition(ctx, id, StatusCompleted, "")
}

// MarkFailed moves a pending purchase to failed.
// It is a no-op on a failed purchase and fails with an InvalidStateError on a completed one.
func (l *Ledger) MarkFailed(ctx context.Context, id, reason string) (Purchase, error) {
	return l.transition(ctx, id, StatusFailed, reason)
}

func (l *Ledger) transition(ctx context.Context, id string, to Status, reason string) (Purchase, error) {
	p, changed, err := l.repo.TransitionPurchase(ctx, id, StatusPending, to, reason, l.Now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Purchase{}, err
		}
		return Purchase{}, errors.Wrapf(err, "marking purchase %s", to)
	}

	switch {
	case changed:
		l.logger.Info("purchase "+string(to), map[string]interface{}{"purchase_id": p.ID, "reason": reason})
		return p, nil
	case p.Status == to:
		return p, nil // already there
	case p.Status.IsTerminal():
		err = &InvalidStateError{ID: p.ID, From: p.Status, To: to}
		l.logger.Warn(err.Error())
		return p, err
	default:
		return p, errors.Errorf("purchase %s: transition to %s did not apply", id, to)
	}
}

func (l *Ledger) FindByID(ctx context.Context, id string) (Purchase, error) {
	p, err := l.repo.GetPurchase(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Purchase{}, errors.Wrap(err, "getting purchase")
	}
	return p, err
}

// FindStalePending lazily lists the purchases still pending olderThan after their creation.
func (l *Ledger) FindStalePending(olderThan time.Duration) *StaleCursor {
	return &StaleCursor{
		repo:     l.repo,
		cutoff:   l.Now().Add(-olderThan),
		pageSize: l.pageSize,
	}
}

// RecordSweepAttempt notes a failed sweep attempt on a pending purchase.
func (l *Ledger) RecordSweepAttempt(ctx context.Context, id string, cause error) (Purchase, error) {
	var msg string
	if cause != nil {
		msg = cause.Error()
	}
	p, err := l.repo.RecordSweepAttempt(ctx, id, msg, l.Now())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Purchase{}, errors.Wrap(err, "recording sweep attempt")
	}
	return p, err
}

// StaleCursor pages through stale pending purchases, one Repository round trip per page.
//
//	cur := ledger.FindStalePending(10 * time.Minute)
//	for cur.Next(ctx) {
//		p := cur.Purchase()
//	}
//	if err := cur.Err(); err != nil { ... }
type StaleCursor struct {
	repo     Repository
	cutoff   time.Time
	pageSize int

	after Cursor
	page  []Purchase
	pos   int
	curr  Purchase
	done  bool
	err   error
}

func (c *StaleCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if c.pos >= len(c.page) {
		if c.done {
			return false
		}
		page, err := c.repo.QueryPendingBefore(ctx, c.cutoff, c.after, c.pageSize)
		if err != nil {
			c.err = errors.Wrap(err, "querying stale pending purchases")
			return false
		}
		c.page, c.pos = page, 0
		c.done = len(page) < c.pageSize
		if len(page) == 0 {
			return false
		}
	}

	c.curr = c.page[c.pos]
	c.pos++
	c.after = Cursor{CreatedAt: c.curr.CreatedAt, ID: c.curr.ID}
	return true
}

func (c *StaleCursor) Purchase() Purchase { return c.curr }

func (c *StaleCursor) Cutoff() time.Time { return c.cutoff }

func (c *StaleCursor) Err() error { return c.err }
