package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/agrimarket/internal/domain/apperr"
	"github.com/xenking/agrimarket/internal/domain/cart"
	"github.com/xenking/agrimarket/internal/domain/order"
	"github.com/xenking/agrimarket/internal/domain/payment"
	"github.com/xenking/agrimarket/internal/domain/pricing"
	"github.com/xenking/agrimarket/internal/gateway/razorpay"
)

const instrumentationName = "github.com/xenking/agrimarket/internal/domain/checkout"

// Deps are the collaborators of the checkout Service.
type Deps struct {
	Tx       Transactor
	Carts    cart.Repository
	Counter  cart.Counter
	Orders   order.Repository
	Payments payment.Repository
	Events   payment.EventLog
	Gateway  Gateway
	Verifier Verifier
	Pricing  pricing.Config

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Service is the checkout orchestrator.
type Service struct {
	tx       Transactor
	carts    cart.Repository
	counter  cart.Counter
	orders   order.Repository
	payments payment.Repository
	events   payment.EventLog
	gateway  Gateway
	verifier Verifier
	pricing  pricing.Config
	cfg      Config

	tracer      trace.Tracer
	transitions metric.Int64Counter
	now         func() time.Time
}

// NewService creates a checkout Service.
func NewService(deps Deps, cfg Config) (*Service, error) {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "/orders/%s"
	}
	if deps.Counter == nil {
		deps.Counter = cart.NopCounter{}
	}
	if deps.TracerProvider == nil {
		deps.TracerProvider = otel.GetTracerProvider()
	}
	if deps.MeterProvider == nil {
		deps.MeterProvider = otel.GetMeterProvider()
	}

	transitions, err := deps.MeterProvider.Meter(instrumentationName).Int64Counter(
		"checkout.payment.transitions",
		metric.WithDescription("Payment status transitions by source"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create transitions counter")
	}

	return &Service{
		tx:          deps.Tx,
		carts:       deps.Carts,
		counter:     deps.Counter,
		orders:      deps.Orders,
		payments:    deps.Payments,
		events:      deps.Events,
		gateway:     deps.Gateway,
		verifier:    deps.Verifier,
		pricing:     deps.Pricing,
		cfg:         cfg,
		tracer:      deps.TracerProvider.Tracer(instrumentationName),
		transitions: transitions,
		now:         time.Now,
	}, nil
}

// Config returns the public gateway settings. It contains no secrets.
func (s *Service) Config() PublicConfig {
	return PublicConfig{
		KeyID:       s.gateway.KeyID(),
		Currency:    s.cfg.Currency,
		DisplayName: s.cfg.DisplayName,
	}
}

// Initialize is checkout phase one: it turns the buyer's cart into a PENDING
// order and opens a gateway order intent for its total. The cart is kept
// until payment is confirmed. A gateway failure leaves the order PENDING and
// the call can be retried.
func (s *Service) Initialize(ctx context.Context, buyerID string, req InitializeRequest) (*InitializeResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Initialize")
	defer span.End()

	if err := validateInitialize(req); err != nil {
		return nil, err
	}

	var o *order.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.carts.GetOrCreate(ctx, buyerID)
		if err != nil {
			return errors.Wrap(err, "load cart")
		}
		if c.IsEmpty() {
			return ErrEmptyCart
		}
		sellerID, err := singleSeller(c)
		if err != nil {
			return err
		}

		items := make([]order.Item, len(c.Items))
		for i, it := range c.Items {
			items[i] = order.NewItem(it.ListingID, it.Title, it.ImageURL, it.Unit, it.Quantity, it.UnitPrice)
		}
		totals := s.pricing.Calculate(c.Lines())

		o = order.New("", buyerID, sellerID, s.cfg.Currency, items, totals, "Order placed, awaiting payment", s.now())
		o.ShippingDetails = req.Shipping
		o.Contact = req.Contact
		o.Notes = req.Notes
		return order.CreateWithNumber(ctx, s.orders, o)
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.String("order.number", o.Number))

	lg := zctx.From(ctx).With(
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
	)

	amount := pricing.MinorUnits(o.Total)
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	intent, err := s.gateway.CreateOrder(gctx, razorpay.CreateOrderRequest{
		Amount:   amount,
		Currency: o.Currency,
		Receipt:  o.Number,
		Notes: map[string]string{
			"order_id":     o.ID,
			"order_number": o.Number,
		},
	})
	if err != nil {
		lg.Error("Payment intent creation failed", zap.Error(err))
		span.RecordError(err)
		return nil, apperr.Wrap(apperr.BadRequest, err, "could not start payment, please retry checkout")
	}

	now := s.now()
	p := &payment.Payment{
		OrderID:        o.ID,
		GatewayOrderID: intent.ID,
		Amount:         o.Total,
		Currency:       o.Currency,
		Status:         payment.StatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create payment")
	}
	s.record(ctx, payment.StatusCreated, "checkout")

	lg.Info("Checkout initialized",
		zap.String("gateway_order_id", intent.ID),
		zap.String("total", o.Total.String()),
	)
	return &InitializeResult{
		Order:       o,
		Payment:     p,
		KeyID:       s.gateway.KeyID(),
		AmountMinor: amount,
		DisplayName: s.cfg.DisplayName,
	}, nil
}

// Complete is checkout phase two: it verifies the signature the checkout
// widget returned and, when valid, completes the payment, confirms the order
// and clears the cart. Replaying a verified payload is a no-op that reports
// success again.
func (s *Service) Complete(ctx context.Context, buyerID string, req VerifyRequest) (*VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Complete")
	defer span.End()

	if req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.Signature == "" {
		return nil, ErrMalformedVerification
	}

	var (
		res     VerifyResult
		cleared bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		res, cleared = VerifyResult{}, false

		p, err := s.payments.GetByGatewayOrderIDForUpdate(ctx, req.GatewayOrderID)
		if err != nil {
			if errors.Is(err, payment.ErrNotFound) {
				return ErrUnknownPayment
			}
			return errors.Wrap(err, "load payment")
		}
		o, err := s.orders.GetForUpdate(ctx, p.OrderID)
		if err != nil {
			return errors.Wrap(err, "load order")
		}
		if o.BuyerID != buyerID {
			return ErrNotBuyer
		}
		if req.OrderID != "" && req.OrderID != o.ID {
			return ErrOrderMismatch
		}
		res.Order, res.Payment = o, p

		now := s.now()
		if !s.verifier.VerifyPayment(p.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
			res.Message = "Payment verification failed"
			if p.Status.Paid() {
				// A forged replay leaves a paid attempt untouched.
				return nil
			}
			if err := p.Fail(reasonInvalidSignature, now); err != nil {
				return nil
			}
			s.record(ctx, payment.StatusFailed, "client")
			return s.payments.Update(ctx, p)
		}

		if p.Status.Paid() {
			if o.Status == order.StatusCancelled {
				res.Message = msgOrderClosed
				return nil
			}
			res.Success = true
			res.Message = "Payment already verified"
			return nil
		}

		if err := p.Complete(req.GatewayPaymentID, req.Signature, now); err != nil {
			res.Message = fmt.Sprintf("Payment attempt is %s; start checkout again", strings.ToLower(p.Status.String()))
			return nil
		}
		if err := s.payments.Update(ctx, p); err != nil {
			return errors.Wrap(err, "update payment")
		}
		s.record(ctx, payment.StatusCompleted, "client")

		st, err := s.settle(ctx, o, p, buyerID, "Payment verified. Transaction ID: "+p.TransactionID, "client")
		if err != nil {
			return err
		}
		if !st.payable {
			res.Message = msgOrderClosed
			return nil
		}
		cleared = st.cleared
		res.Success = true
		res.Message = "Payment successful"
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cleared {
		s.invalidateCount(ctx, buyerID)
	}
	if res.Success {
		res.RedirectURL = fmt.Sprintf(s.cfg.RedirectURL, res.Order.ID)
	}
	zctx.From(ctx).Info("Payment verification",
		zap.String("order_id", res.Order.ID),
		zap.String("gateway_order_id", req.GatewayOrderID),
		zap.Bool("success", res.Success),
		zap.String("payment_status", res.Payment.Status.String()),
	)
	return &res, nil
}

// settlement is the outcome of applying a completed payment to its order.
type settlement struct {
	// payable is false when the order was closed before the money arrived.
	payable bool
	// cleared reports whether the buyer's cart was emptied.
	cleared bool
}

// settle applies a payment that just completed: a PENDING order is
// confirmed and the buyer's cart is cleared. An order already past PENDING
// keeps its status but the cart is still cleared. A cancelled or refunded
// order cannot take the money, so the payment is refunded instead.
func (s *Service) settle(ctx context.Context, o *order.Order, p *payment.Payment, actor, note, source string) (settlement, error) {
	switch {
	case o.ConfirmPayment(actor, note, s.now()):
		if err := s.orders.Save(ctx, o); err != nil {
			return settlement{}, errors.Wrap(err, "save order")
		}
	case o.Status.IsTerminal():
		return settlement{}, s.refundClosed(ctx, o, p, source)
	default:
		zctx.From(ctx).Warn("Payment completed for order not awaiting payment",
			zap.String("order_id", o.ID),
			zap.String("status", o.Status.String()),
		)
	}

	c, err := s.carts.GetOrCreate(ctx, o.BuyerID)
	if err != nil {
		return settlement{}, errors.Wrap(err, "load cart")
	}
	if c.IsEmpty() {
		return settlement{payable: true}, nil
	}
	c.Clear()
	c.UpdatedAt = s.now()
	if err := s.carts.Save(ctx, c); err != nil {
		return settlement{}, errors.Wrap(err, "clear cart")
	}
	return settlement{payable: true, cleared: true}, nil
}

// refundClosed returns money captured for an order that was closed before
// the payment completed. A gateway failure leaves the payment COMPLETED and
// is logged for a manual refund.
func (s *Service) refundClosed(ctx context.Context, o *order.Order, p *payment.Payment, source string) error {
	lg := zctx.From(ctx).With(
		zap.String("order_id", o.ID),
		zap.String("order_status", o.Status.String()),
		zap.String("payment_id", p.ID),
	)
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	refund, err := s.gateway.Refund(gctx, p.GatewayPaymentID, pricing.MinorUnits(p.Amount))
	if err != nil {
		lg.Error("Refund for closed order failed, refund manually", zap.Error(err))
		return nil
	}

	if err := p.Advance(payment.StatusRefundPending, s.now()); err != nil {
		return err
	}
	p.RefundID = refund.ID
	p.RefundAmount = p.Amount
	if err := s.payments.Update(ctx, p); err != nil {
		return errors.Wrap(err, "update payment")
	}
	s.record(ctx, payment.StatusRefundPending, source)
	lg.Warn("Payment received for closed order, refund started", zap.String("refund_id", refund.ID))
	return nil
}

func (s *Service) invalidateCount(ctx context.Context, userID string) {
	if err := s.counter.Invalidate(ctx, userID); err != nil {
		zctx.From(ctx).Warn("Cart count cache invalidate failed", zap.Error(err))
	}
}

func (s *Service) record(ctx context.Context, status payment.Status, source string) {
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status.String()),
		attribute.String("source", source),
	))
}

func singleSeller(c *cart.Cart) (string, error) {
	seller := c.Items[0].SellerID
	for _, it := range c.Items[1:] {
		if it.SellerID != seller {
			return "", ErrMultipleSellers
		}
	}
	return seller, nil
}

func validateInitialize(req InitializeRequest) error {
	sh := req.Shipping
	if strings.TrimSpace(sh.Name) == "" || strings.TrimSpace(sh.AddressLine1) == "" ||
		strings.TrimSpace(sh.City) == "" || strings.TrimSpace(sh.PostalCode) == "" {
		return ErrShippingRequired
	}
	if strings.TrimSpace(req.Contact.Email) == "" && strings.TrimSpace(req.Contact.Phone) == "" {
		return ErrContactRequired
	}
	return nil
}
