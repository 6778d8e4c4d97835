package stripesvc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
)

// CheckoutEventPayload builds an event body as Stripe sends it, wrapping a checkout session.
func CheckoutEventPayload(eventType, objectID string, metadata map[string]string, paymentStatus string) []byte {
	data, _ := json.Marshal(map[string]interface{}{
		"id":          "evt_" + objectID,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":             objectID,
				"object":         "checkout.session",
				"metadata":       metadata,
				"payment_status": paymentStatus,
			},
		},
	})
	return data
}

// SignPayload computes the `Stripe-Signature` header Stripe would send for payload.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
