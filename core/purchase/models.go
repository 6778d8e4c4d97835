package purchase

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/lms/core"
)

// Status is the lifecycle state of a Purchase.
// pending is the only non-terminal state: pending -> completed | failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	// errors
	ErrNotFound     = errors.New("purchase not found")
	ErrConflict     = errors.New("a pending purchase already exists for this user and course")
	ErrInvalidState = errors.New("invalid purchase state transition")
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether s -> to is a legal lifecycle move.
func (s Status) CanTransitionTo(to Status) bool {
	return s == StatusPending && to.IsTerminal()
}

// InvalidStateError is returned when a terminal Purchase is asked to move to another state.
type InvalidStateError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("purchase %s: cannot transition from %s to %s", e.ID, e.From, e.To)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// Purchase is one attempt by a user to acquire access to a course.
type Purchase struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	CourseID      string          `json:"course_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	SweepAttempts int             `json:"sweep_attempts"`
	LastError     string          `json:"-"`
	CreatedAt     time.Time       `json:"created_at"` // UTC
	UpdatedAt     time.Time       `json:"updated_at"` // UTC
}

func (p Purchase) IsPending() bool { return p.Status == StatusPending }

// NewPurchase contains information needed to open a pending Purchase.
type NewPurchase struct {
	UserID   string          `json:"user_id" validate:"required,entityid"`
	CourseID string          `json:"course_id" validate:"required,entityid"`
	Amount   decimal.Decimal `json:"amount"`
}

func (np *NewPurchase) Validate(validate *validator.Validate) error {
	np.UserID = core.CleanString(np.UserID)
	np.CourseID = core.CleanString(np.CourseID)
	if err := validate.Struct(np); err != nil {
		return err
	}
	if np.Amount.IsNegative() {
		return core.NewValidationError(nil, core.FieldError{Field: "amount", Error: "amount cannot be negative"})
	}
	return nil
}

// Cursor is a keyset position in the (created_at, id) ordering of purchases.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func (c Cursor) IsZero() bool { return c.CreatedAt.IsZero() && c.ID == "" }

// After reports whether p sorts strictly after the cursor.
func (c Cursor) After(p Purchase) bool {
	if c.IsZero() {
		return true
	}
	if p.CreatedAt.Equal(c.CreatedAt) {
		return p.ID > c.ID
	}
	return p.CreatedAt.After(c.CreatedAt)
}

type Repository interface {
	// CreatePurchase returns ErrConflict when a pending purchase already exists for (UserID, CourseID).
	CreatePurchase(ctx context.Context, p Purchase) (Purchase, error)
	GetPurchase(ctx context.Context, id string) (Purchase, error)
	GetPendingPurchase(ctx context.Context, userID, courseID string) (Purchase, error)
	// TransitionPurchase atomically moves the purchase from `from` to `to`.
	// When the stored status is not `from` nothing is written, and the current record is returned with changed = false.
	TransitionPurchase(ctx context.Context, id string, from, to Status, reason string, at time.Time) (p Purchase, changed bool, err error)
	// RecordSweepAttempt bumps SweepAttempts & LastError of a pending purchase.
	RecordSweepAttempt(ctx context.Context, id, errMsg string, at time.Time) (Purchase, error)
	// QueryPendingBefore returns up to limit pending purchases created before cutoff,
	// ordered by (created_at, id) and strictly after the given cursor.
	QueryPendingBefore(ctx context.Context, cutoff time.Time, after Cursor, limit int) ([]Purchase, error)
}
