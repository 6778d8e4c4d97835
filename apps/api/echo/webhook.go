package echoapi

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/payment"
	"github.com/trezcool/lms/core/reconcile"
)

const (
	stripeSignatureHeader  = "Stripe-Signature"
	defaultMaxWebhookBytes = int64(1 << 20)
)

type webhookApi struct {
	payments     payment.Provider
	reconciler   *reconcile.Service
	logger       core.Logger
	maxBodyBytes int64
}

func registerWebhookAPI(g *echo.Group, payments payment.Provider, reconciler *reconcile.Service, logger core.Logger, maxBodyBytes int64) {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxWebhookBytes
	}
	api := webhookApi{
		payments:     payments,
		reconciler:   reconciler,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}

	wg := g.Group("/webhooks")
	wg.POST("/stripe", api.stripe)
}

// Handlers

// stripe acknowledges every verified event with a 200: the provider retries on anything else,
// and a failed enrollment is converged by the sweep or the user.
// Only a completed event without a purchase id is refused.
func (api *webhookApi) stripe(ctx echo.Context) error {
	req := ctx.Request()
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.Response(), req.Body, api.maxBodyBytes))
	if err != nil {
		api.logger.Error("stripe webhook: could not read body", err, map[string]interface{}{
			"content_length": req.ContentLength,
			"max_bytes":      api.maxBodyBytes,
		})
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "could not read body", Internal: err}
	}

	evt, err := api.payments.VerifyAndParseEvent(payload, req.Header.Get(stripeSignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrMissingPurchaseID) && evt.Kind == payment.EventPaymentFailed:
			// nothing to fail on our side
			api.logger.Warn("stripe webhook: payment-failed event without purchase id", err.Error(), map[string]interface{}{"event_id": evt.ID})
			return ctx.JSON(http.StatusOK, WebhookResponse{Received: true})
		case errors.Is(err, payment.ErrInvalidSignature):
			api.logger.Warn("stripe webhook: rejected event", err.Error())
			return echo.NewHTTPError(http.StatusBadRequest, "invalid signature")
		case errors.Is(err, payment.ErrMissingPurchaseID):
			api.logger.Warn("stripe webhook: rejected event", err.Error())
			return echo.NewHTTPError(http.StatusBadRequest, "missing purchase id")
		default:
			api.logger.Warn("stripe webhook: rejected event", err.Error())
			return echo.NewHTTPError(http.StatusBadRequest, "malformed event")
		}
	}

	// errors are logged by the reconciler
	_ = api.reconciler.HandlePaymentEvent(req.Context(), evt)

	return ctx.JSON(http.StatusOK, WebhookResponse{Received: true})
}
