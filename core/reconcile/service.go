// Package reconcile routes every way a purchase can be honored through the enrollment applier:
// payment webhooks, user-triggered completion & the staleness sweep.
package reconcile

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/enrollment"
	"github.com/trezcool/lms/core/payment"
	"github.com/trezcool/lms/core/purchase"
)

const reasonPaymentFailed = "payment failed or checkout expired"

// ErrNotOwner is returned when a user asks to complete someone else's purchase.
var ErrNotOwner = errors.New("purchase does not belong to this user")

type Service struct {
	ledger  *purchase.Ledger
	applier *enrollment.Applier
	logger  core.Logger
}

func NewService(ledger *purchase.Ledger, applier *enrollment.Applier, logger core.Logger) *Service {
	return &Service{
		ledger:  ledger,
		applier: applier,
		logger:  logger,
	}
}

// HandlePaymentEvent acts on a verified payment event. Redelivered events are harmless.
// The returned error is the applier's; callers facing the provider should still acknowledge the event.
func (svc *Service) HandlePaymentEvent(ctx context.Context, evt payment.Event) error {
	data := map[string]interface{}{"event_id": evt.ID, "event_type": evt.Type, "purchase_id": evt.PurchaseID}

	switch evt.Kind {
	case payment.EventCheckoutCompleted:
		res, err := svc.applier.Apply(ctx, evt.PurchaseID)
		if err != nil {
			svc.logger.Error("payment event: applying enrollment", err, data)
			return err
		}
		if res.AlreadyCompleted {
			svc.logger.Info("payment event: purchase already completed", data)
		}
		return nil

	case payment.EventPaymentFailed:
		_, err := svc.ledger.MarkFailed(ctx, evt.PurchaseID, reasonPaymentFailed)
		if err != nil {
			if errors.Is(err, purchase.ErrInvalidState) {
				// the money arrived through another path first
				svc.logger.Warn("payment event: failure for a completed purchase", data)
				return nil
			}
			svc.logger.Error("payment event: marking purchase failed", err, data)
			return err
		}
		return nil

	default:
		svc.logger.Debug("payment event ignored", data)
		return nil
	}
}

// CompletionKind tells the user what became of their completion request.
type CompletionKind string

const (
	CompletionEnrolled        CompletionKind = "enrolled"
	CompletionAlreadyEnrolled CompletionKind = "already_enrolled"
	CompletionFailed          CompletionKind = "failed"  // terminal: contact support
	CompletionPending         CompletionKind = "pending" // transient: try again shortly
)

type Completion struct {
	Kind        CompletionKind
	Message     string
	CourseTitle string
	Purchase    purchase.Purchase
}

func (c Completion) Success() bool {
	return c.Kind == CompletionEnrolled || c.Kind == CompletionAlreadyEnrolled
}

// CompleteForUser lets a user reconcile one of their own purchases, e.g. when the webhook is late.
//
// Errors: purchase.ErrNotFound & ErrNotOwner. Every other outcome is described by the Completion,
// whose underlying error (if any) is returned as well for logging.
func (svc *Service) CompleteForUser(ctx context.Context, userID, purchaseID string) (Completion, error) {
	p, err := svc.ledger.FindByID(ctx, purchaseID)
	if err != nil {
		return Completion{}, err
	}
	if p.UserID != userID {
		svc.logger.Warn("completing purchase: not owner", map[string]interface{}{"purchase_id": p.ID, "user_id": userID})
		return Completion{}, ErrNotOwner
	}

	res, err := svc.applier.Apply(ctx, p.ID)
	comp := Completion{Purchase: res.Purchase}
	if res.Course != nil {
		comp.CourseTitle = res.Course.Title
	}

	switch {
	case err == nil && res.AlreadyCompleted:
		comp.Kind = CompletionAlreadyEnrolled
		comp.Message = "You are already enrolled in this course."
	case err == nil:
		comp.Kind = CompletionEnrolled
		comp.Message = "Enrollment successful."
	case errors.Is(err, purchase.ErrNotFound):
		return Completion{}, err
	case errors.Is(err, enrollment.ErrReferenceMissing), errors.Is(err, enrollment.ErrAlreadyFailed):
		comp.Kind = CompletionFailed
		comp.Message = "Enrollment failed, please contact support."
		if comp.Purchase.ID == "" {
			comp.Purchase = p
		}
	default:
		comp.Kind = CompletionPending
		comp.Message = "Your purchase is still pending, please try again shortly."
		comp.Purchase = p
		svc.logger.Error("completing purchase", err, map[string]interface{}{"purchase_id": p.ID, "user_id": userID})
	}
	return comp, err
}
