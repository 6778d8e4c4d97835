// Package payment describes what the reconciliation layer needs from a payment provider.
package payment

import "github.com/pkg/errors"

// EventKind is the provider-agnostic meaning of a payment notification.
type EventKind string

const (
	EventCheckoutCompleted EventKind = "checkout_completed"
	EventPaymentFailed     EventKind = "payment_failed"
	EventIgnored           EventKind = "ignored"
)

// PurchaseIDKey is the metadata key under which checkout sessions carry our purchase id.
const PurchaseIDKey = "purchaseId"

var (
	// errors
	ErrInvalidSignature  = errors.New("invalid payment event signature")
	ErrMissingPurchaseID = errors.New("payment event carries no purchase id")
)

// Event is a verified payment notification.
type Event struct {
	ID          string // provider event id
	Type        string // provider event type, e.g. "checkout.session.completed"
	Kind        EventKind
	PurchaseID  string
	ProviderRef string // e.g. the checkout session id
}

// Provider verifies & decodes provider notifications.
type Provider interface {
	// VerifyAndParseEvent returns ErrInvalidSignature when payload & signature do not match,
	// and ErrMissingPurchaseID when an actionable event has no purchase id; the returned Event still
	// carries the Kind then.
	VerifyAndParseEvent(payload []byte, signature string) (Event, error)
}
