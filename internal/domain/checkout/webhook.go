package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xenking/agrimarket/internal/domain/apperr"
	"github.com/xenking/agrimarket/internal/domain/auth"
	"github.com/xenking/agrimarket/internal/domain/order"
	"github.com/xenking/agrimarket/internal/domain/payment"
	"github.com/xenking/agrimarket/internal/domain/pricing"
	"github.com/xenking/agrimarket/internal/gateway/razorpay"
)

// WebhookDelivery is one gateway webhook request.
type WebhookDelivery struct {
	// EventID is the gateway's delivery id; redeliveries reuse it.
	EventID   string
	Signature string
	Body      []byte
}

// HandleWebhook verifies and applies a gateway event. A signature or parse
// failure returns a BadRequest error and applies nothing, so the gateway
// retries. Events that do not change anything (unknown payments, repeated
// deliveries, transitions already applied by the client path) return nil.
func (s *Service) HandleWebhook(ctx context.Context, d WebhookDelivery) error {
	ctx, span := s.tracer.Start(ctx, "checkout.HandleWebhook")
	defer span.End()

	if !s.verifier.VerifyWebhook(d.Body, d.Signature) {
		return ErrInvalidWebhookSignature
	}
	ev, err := razorpay.ParseEvent(d.Body)
	if err != nil {
		return apperr.Wrap(apperr.BadRequest, err, "malformed webhook payload")
	}
	span.SetAttributes(attribute.String("webhook.event", ev.Type))

	lg := zctx.From(ctx).With(
		zap.String("event", ev.Type),
		zap.String("event_id", d.EventID),
	)
	ctx = zctx.Base(ctx, lg)

	var clearedFor string
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		clearedFor = ""
		if d.EventID != "" {
			fresh, err := s.events.MarkProcessed(ctx, d.EventID, ev.Type)
			if err != nil {
				return errors.Wrap(err, "record event")
			}
			if !fresh {
				lg.Info("Duplicate webhook delivery ignored")
				return nil
			}
		}

		switch ev.Type {
		case razorpay.EventPaymentAuthorized:
			return s.onAuthorized(ctx, ev.Payment)
		case razorpay.EventPaymentCaptured:
			var err error
			clearedFor, err = s.onCaptured(ctx, ev.Payment)
			return err
		case razorpay.EventPaymentFailed:
			return s.onFailed(ctx, ev.Payment)
		case razorpay.EventRefundCreated, razorpay.EventRefundProcessed:
			return s.onRefunded(ctx, ev.Refund)
		default:
			lg.Debug("Webhook event ignored")
			return nil
		}
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if clearedFor != "" {
		s.invalidateCount(ctx, clearedFor)
	}
	return nil
}

// lockPayment finds the payment an event refers to, preferring the gateway
// order id and falling back to the gateway payment id. It returns nil when
// the payment is not ours.
func (s *Service) lockPayment(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*payment.Payment, error) {
	if gatewayOrderID != "" {
		p, err := s.payments.GetByGatewayOrderIDForUpdate(ctx, gatewayOrderID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, payment.ErrNotFound) {
			return nil, errors.Wrap(err, "load payment by gateway order")
		}
	}
	if gatewayPaymentID != "" {
		p, err := s.payments.GetByGatewayPaymentIDForUpdate(ctx, gatewayPaymentID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, payment.ErrNotFound) {
			return nil, errors.Wrap(err, "load payment by gateway payment")
		}
	}
	zctx.From(ctx).Warn("Webhook for unknown payment",
		zap.String("gateway_order_id", gatewayOrderID),
		zap.String("gateway_payment_id", gatewayPaymentID),
	)
	return nil, nil
}

func (s *Service) onAuthorized(ctx context.Context, e *razorpay.PaymentEntity) error {
	p, err := s.lockPayment(ctx, e.OrderID, e.ID)
	if err != nil || p == nil {
		return err
	}
	if err := p.Advance(payment.StatusAuthorized, s.now()); err != nil {
		zctx.From(ctx).Debug("Authorization not applied", zap.Error(err))
		return nil
	}
	p.GatewayPaymentID = e.ID
	s.record(ctx, payment.StatusAuthorized, "webhook")
	return s.payments.Update(ctx, p)
}

// onCaptured completes the payment and confirms the order. It returns the
// buyer id when the buyer's cart was cleared.
func (s *Service) onCaptured(ctx context.Context, e *razorpay.PaymentEntity) (string, error) {
	p, err := s.lockPayment(ctx, e.OrderID, e.ID)
	if err != nil || p == nil {
		return "", err
	}
	if p.Status.Paid() {
		return "", nil
	}
	if err := p.Complete(e.ID, "", s.now()); err != nil {
		zctx.From(ctx).Warn("Capture not applied", zap.Error(err), zap.String("payment_id", p.ID))
		return "", nil
	}
	if err := s.payments.Update(ctx, p); err != nil {
		return "", errors.Wrap(err, "update payment")
	}
	s.record(ctx, payment.StatusCompleted, "webhook")

	o, err := s.orders.GetForUpdate(ctx, p.OrderID)
	if err != nil {
		return "", errors.Wrap(err, "load order")
	}
	st, err := s.settle(ctx, o, p, auth.SystemActor, "Payment captured. Transaction ID: "+p.TransactionID, "webhook")
	if err != nil || !st.cleared {
		return "", err
	}
	return o.BuyerID, nil
}

func (s *Service) onFailed(ctx context.Context, e *razorpay.PaymentEntity) error {
	p, err := s.lockPayment(ctx, e.OrderID, e.ID)
	if err != nil || p == nil {
		return err
	}
	reason := e.ErrorDescription
	if reason == "" {
		reason = "payment failed"
	}
	if err := p.Fail(reason, s.now()); err != nil {
		zctx.From(ctx).Debug("Failure not applied", zap.Error(err))
		return nil
	}
	if p.GatewayPaymentID == "" {
		p.GatewayPaymentID = e.ID
	}
	s.record(ctx, payment.StatusFailed, "webhook")
	return s.payments.Update(ctx, p)
}

func (s *Service) onRefunded(ctx context.Context, r *razorpay.Refund) error {
	p, err := s.lockPayment(ctx, "", r.PaymentID)
	if err != nil || p == nil {
		return err
	}
	now := s.now()
	if err := p.Advance(payment.StatusRefunded, now); err != nil {
		zctx.From(ctx).Debug("Refund not applied", zap.Error(err))
		return nil
	}
	p.RefundID = r.ID
	p.RefundAmount = pricing.FromMinorUnits(r.Amount)
	refundedAt := now
	if !r.CreatedAt.IsZero() {
		refundedAt = r.CreatedAt
	}
	p.RefundedAt = &refundedAt
	if err := s.payments.Update(ctx, p); err != nil {
		return errors.Wrap(err, "update payment")
	}
	s.record(ctx, payment.StatusRefunded, "webhook")

	o, err := s.orders.GetForUpdate(ctx, p.OrderID)
	if err != nil {
		return errors.Wrap(err, "load order")
	}
	if err := o.Transition(order.StatusRefunded, auth.SystemActor, "Refund processed. Refund ID: "+r.ID, now); err != nil {
		zctx.From(ctx).Warn("Order not moved to refunded", zap.Error(err), zap.String("order_id", o.ID))
		return nil
	}
	return s.orders.Save(ctx, o)
}
