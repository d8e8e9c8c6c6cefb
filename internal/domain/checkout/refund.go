package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/agrimarket/internal/domain/apperr"
	"github.com/xenking/agrimarket/internal/domain/order"
	"github.com/xenking/agrimarket/internal/domain/payment"
	"github.com/xenking/agrimarket/internal/domain/pricing"
)

// InitiateRefund asks the gateway to refund a completed payment. A nil
// amount refunds in full. The payment moves to REFUND_PENDING; the
// refund.created webhook finalizes it. Only the seller may refund.
func (s *Service) InitiateRefund(ctx context.Context, actor, paymentID string, amount *decimal.Decimal) (*payment.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.InitiateRefund")
	defer span.End()

	var p *payment.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.payments.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		o, err := s.orders.Get(ctx, p.OrderID)
		if err != nil {
			return errors.Wrap(err, "load order")
		}
		if err := order.Authorize(order.ActionRefund, actor, o); err != nil {
			return err
		}
		if p.Status != payment.StatusCompleted {
			return refundNotAllowed(p.Status)
		}

		refundAmount := p.Amount
		if amount != nil {
			if !amount.IsPositive() || amount.GreaterThan(p.Amount) {
				return payment.ErrRefundAmount
			}
			refundAmount = *amount
		}

		// The row lock is held across the gateway call so two refunds of the
		// same payment cannot both reach the gateway.
		gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()
		refund, err := s.gateway.Refund(gctx, p.GatewayPaymentID, pricing.MinorUnits(refundAmount))
		if err != nil {
			return apperr.Wrap(apperr.BadRequest, err, "payment gateway rejected the refund")
		}

		if err := p.Advance(payment.StatusRefundPending, s.now()); err != nil {
			return err
		}
		p.RefundID = refund.ID
		p.RefundAmount = refundAmount
		s.record(ctx, payment.StatusRefundPending, "seller")
		return s.payments.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Refund initiated",
		zap.String("payment_id", p.ID),
		zap.String("refund_id", p.RefundID),
		zap.String("amount", p.RefundAmount.String()),
	)
	return p, nil
}

// refundNotAllowed wraps payment.ErrRefundNotAllowed with the current status.
func refundNotAllowed(status payment.Status) error {
	return errors.Wrapf(payment.ErrRefundNotAllowed, "payment is %s", status)
}
