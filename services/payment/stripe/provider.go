package stripesvc

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/trezcool/lms/core/payment"
)

// checkout session event types we act on
const (
	sessionCompleted             = "checkout.session.completed"
	sessionAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	sessionAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	sessionExpired               = "checkout.session.expired"
)

type Provider struct {
	secret    string
	tolerance time.Duration
}

var _ payment.Provider = (*Provider)(nil)

// NewProvider binds the endpoint's signing secret (`whsec_...`).
func NewProvider(webhookSecret string) *Provider {
	return &Provider{secret: webhookSecret, tolerance: webhook.DefaultTolerance}
}

func (prov *Provider) VerifyAndParseEvent(payload []byte, signature string) (payment.Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, prov.secret, webhook.ConstructEventOptions{
		Tolerance:                prov.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return payment.Event{}, errors.Wrap(payment.ErrInvalidSignature, err.Error())
	}

	out := payment.Event{ID: evt.ID, Type: string(evt.Type), Kind: payment.EventIgnored}
	switch string(evt.Type) {
	case sessionCompleted, sessionAsyncPaymentSucceeded:
		out.Kind = payment.EventCheckoutCompleted
	case sessionAsyncPaymentFailed, sessionExpired:
		out.Kind = payment.EventPaymentFailed
	default:
		return out, nil
	}

	var session stripe.CheckoutSession
	if evt.Data == nil {
		return out, errors.Wrap(payment.ErrMissingPurchaseID, "event has no data")
	}
	if err = json.Unmarshal(evt.Data.Raw, &session); err != nil {
		return payment.Event{}, errors.Wrap(err, "decoding checkout session")
	}

	// async payment methods complete the session before the money arrives
	if string(evt.Type) == sessionCompleted && session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		out.Kind = payment.EventIgnored
		return out, nil
	}

	out.ProviderRef = session.ID
	out.PurchaseID = session.Metadata[payment.PurchaseIDKey]
	if out.PurchaseID == "" {
		out.PurchaseID = session.ClientReferenceID
	}
	if out.PurchaseID == "" {
		return out, errors.Wrapf(payment.ErrMissingPurchaseID, "session %s", session.ID)
	}
	return out, nil
}
