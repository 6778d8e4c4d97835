// Package enrollment grants course access for honored purchases.
//
// Apply is safe to call any number of times, concurrently, for the same purchase:
// a completed purchase short-circuits, and both membership writes are set additions,
// so a retry after a partial failure only finishes the missing steps.
// There is no transaction across the User, Course & Purchase writes; consistency is
// eventual, through idempotent retries (webhook redelivery, user completion, sweep).
package enrollment

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/course"
	"github.com/trezcool/lms/core/purchase"
	"github.com/trezcool/lms/core/user"
)

var (
	// errors
	ErrAlreadyFailed    = errors.New("purchase already failed")
	ErrReferenceMissing = errors.New("purchase references a missing user or course")
)

const (
	RefKindUser   = "user"
	RefKindCourse = "course"

	reasonMissingUser   = "referenced user no longer exists"
	reasonMissingCourse = "referenced course no longer exists"
)

// ReferenceMissingError is returned when a purchase's user or course cannot be resolved.
// The purchase has been parked as failed: it cannot self-heal.
type ReferenceMissingError struct {
	PurchaseID string
	Kind       string // "user" | "course"
	ID         string
}

func (e *ReferenceMissingError) Error() string {
	return fmt.Sprintf("purchase %s: %s %s not found", e.PurchaseID, e.Kind, e.ID)
}

func (e *ReferenceMissingError) Is(target error) bool { return target == ErrReferenceMissing }

type Result struct {
	Purchase purchase.Purchase
	// Course is nil when the purchase was already completed and the course could not be loaded.
	Course *course.Course
	// AlreadyCompleted is true when Apply short-circuited on a completed purchase.
	AlreadyCompleted bool
}

type Applier struct {
	ledger  *purchase.Ledger
	users   user.Repository
	courses course.Repository
	logger  core.Logger
}

func NewApplier(ledger *purchase.Ledger, users user.Repository, courses course.Repository, logger core.Logger) *Applier {
	return &Applier{
		ledger:  ledger,
		users:   users,
		courses: courses,
		logger:  logger,
	}
}

// Apply links the purchase's user & course and marks the purchase completed, exactly once in effect.
//
// Errors:
//   - purchase.ErrNotFound: unknown purchase.
//   - ErrAlreadyFailed: the purchase is failed; it is never resurrected. When it turned failed while
//     being applied, the membership entries this call added are removed again.
//   - *ReferenceMissingError: user or course is gone; the purchase is now failed and nothing was linked.
//   - anything else is an I/O error: the purchase stays pending and Apply can be retried.
func (a *Applier) Apply(ctx context.Context, purchaseID string) (Result, error) {
	p, err := a.ledger.FindByID(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, purchase.ErrNotFound) {
			a.logger.Error("applying enrollment: unknown purchase", err, map[string]interface{}{"purchase_id": purchaseID})
		}
		return Result{}, err
	}

	switch p.Status {
	case purchase.StatusCompleted:
		res := Result{Purchase: p, AlreadyCompleted: true}
		if c, err := a.courses.GetCourse(ctx, p.CourseID); err == nil {
			res.Course = &c
		}
		return res, nil
	case purchase.StatusFailed:
		return Result{Purchase: p}, errors.Wrapf(ErrAlreadyFailed, "purchase %s (%s)", p.ID, p.FailureReason)
	}

	// resolve both sides before touching either: a dangling reference must not leave a partial edge.
	usr, err := a.users.GetUser(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return a.park(ctx, p, RefKindUser, p.UserID, reasonMissingUser)
		}
		return Result{Purchase: p}, errors.Wrap(err, "getting user")
	}
	crs, err := a.courses.GetCourse(ctx, p.CourseID)
	if err != nil {
		if errors.Is(err, course.ErrNotFound) {
			return a.park(ctx, p, RefKindCourse, p.CourseID, reasonMissingCourse)
		}
		return Result{Purchase: p}, errors.Wrap(err, "getting course")
	}

	userLinked := usr.AddEnrolledCourse(crs.ID)
	if userLinked {
		usr.UpdatedAt = a.ledger.Now()
		if err = a.users.SaveUser(ctx, usr); err != nil {
			return Result{Purchase: p}, errors.Wrap(err, "saving user enrollment")
		}
	}
	courseLinked := crs.AddEnrolledStudent(usr.ID)
	if courseLinked {
		crs.UpdatedAt = a.ledger.Now()
		if err = a.courses.SaveCourse(ctx, crs); err != nil {
			return Result{Purchase: p}, errors.Wrap(err, "saving course enrollment")
		}
	}

	// only now: a crash before this line leaves the purchase pending, and a retry redoes no-op set additions.
	completed, err := a.ledger.MarkCompleted(ctx, p.ID)
	if err != nil {
		if errors.Is(err, purchase.ErrInvalidState) {
			// failed meanwhile (payment-failed event): take back what this call granted
			a.unlink(ctx, completed, userLinked, courseLinked)
			return Result{Purchase: completed, Course: &crs},
				errors.Wrapf(ErrAlreadyFailed, "purchase %s failed during enrollment (%s)", p.ID, completed.FailureReason)
		}
		return Result{Purchase: p, Course: &crs}, err
	}
	p = completed

	a.logger.Info("enrollment applied", map[string]interface{}{"purchase_id": p.ID, "user_id": usr.ID, "course_id": crs.ID})
	return Result{Purchase: p, Course: &crs}, nil
}

// unlink removes the membership entries a losing Apply added. Entries that were already
// there belong to another completed purchase of the same pair and are left alone.
func (a *Applier) unlink(ctx context.Context, p purchase.Purchase, userLinked, courseLinked bool) {
	fields := map[string]interface{}{"purchase_id": p.ID, "user_id": p.UserID, "course_id": p.CourseID}
	if userLinked {
		if err := a.users.UnenrollCourse(ctx, p.UserID, p.CourseID); err != nil {
			a.logger.Error("unlinking failed purchase: user keeps course", err, fields)
		}
	}
	if courseLinked {
		if err := a.courses.UnenrollStudent(ctx, p.CourseID, p.UserID); err != nil {
			a.logger.Error("unlinking failed purchase: course keeps student", err, fields)
		}
	}
	a.logger.Warn("purchase failed while being applied, enrollment taken back", fields)
}

func (a *Applier) park(ctx context.Context, p purchase.Purchase, kind, id, reason string) (Result, error) {
	refErr := &ReferenceMissingError{PurchaseID: p.ID, Kind: kind, ID: id}
	a.logger.Warn("applying enrollment: "+refErr.Error(), refErr)

	failed, err := a.ledger.MarkFailed(ctx, p.ID, reason)
	if err != nil {
		if errors.Is(err, purchase.ErrInvalidState) {
			// a concurrent caller completed it meanwhile
			return Result{Purchase: failed, AlreadyCompleted: failed.Status == purchase.StatusCompleted}, nil
		}
		return Result{Purchase: p}, errors.Wrap(err, "parking purchase as failed")
	}
	return Result{Purchase: failed}, refErr
}
