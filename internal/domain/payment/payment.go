// Package payment models gateway payment attempts and their forward-only
// state machine.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/agrimarket/internal/domain/apperr"
)

// Status is the payment attempt state.
type Status string

const (
	StatusCreated       Status = "CREATED"
	StatusAuthorized    Status = "AUTHORIZED"
	StatusCompleted     Status = "COMPLETED"
	StatusFailed        Status = "FAILED"
	StatusRefundPending Status = "REFUND_PENDING"
	StatusRefunded      Status = "REFUNDED"
)

var transitions = map[Status][]Status{
	StatusCreated:       {StatusAuthorized, StatusCompleted, StatusFailed},
	StatusAuthorized:    {StatusCompleted, StatusFailed},
	StatusCompleted:     {StatusRefundPending, StatusRefunded},
	StatusRefundPending: {StatusRefunded},
}

// CanTransition reports whether a payment may advance from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Settled reports whether money has been received or is being held for
// the payment, including refunded states.
func (s Status) Settled() bool {
	switch s {
	case StatusAuthorized, StatusCompleted, StatusRefundPending, StatusRefunded:
		return true
	}
	return false
}

// Paid reports whether the payment reached COMPLETED at some point.
func (s Status) Paid() bool {
	switch s {
	case StatusCompleted, StatusRefundPending, StatusRefunded:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

var (
	// ErrNotFound is returned when no payment matches the lookup.
	ErrNotFound = apperr.New(apperr.NotFound, "payment not found")
	// ErrRefundNotAllowed is returned when refunding a payment that is not completed.
	ErrRefundNotAllowed = apperr.New(apperr.BadRequest, "payment is not in a refundable state")
	// ErrRefundAmount is returned for non-positive refunds or refunds above the paid amount.
	ErrRefundAmount = apperr.New(apperr.BadRequest, "refund amount must be positive and not exceed the paid amount")
)

// IllegalTransitionError indicates a backward or terminal-state move.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("payment cannot move from %s to %s", e.From, e.To)
}

// Payment is one attempt to pay for an order. It references the order by
// id only.
type Payment struct {
	ID               string
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	TransactionID    string
	Amount           decimal.Decimal
	Currency         string
	Status           Status
	FailureReason    string
	RefundID         string
	RefundAmount     decimal.Decimal
	RefundedAt       *time.Time
	PaidAt           *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Advance moves the payment to status to if the state machine allows it.
func (p *Payment) Advance(to Status, now time.Time) error {
	if !CanTransition(p.Status, to) {
		return &IllegalTransitionError{From: p.Status, To: to}
	}
	p.Status = to
	p.UpdatedAt = now
	return nil
}

// Complete records a successful capture.
func (p *Payment) Complete(gatewayPaymentID, signature string, now time.Time) error {
	if err := p.Advance(StatusCompleted, now); err != nil {
		return err
	}
	p.GatewayPaymentID = gatewayPaymentID
	if signature != "" {
		p.Signature = signature
	}
	p.TransactionID = gatewayPaymentID
	p.FailureReason = ""
	p.PaidAt = &now
	return nil
}

// Fail records a failed attempt with reason.
func (p *Payment) Fail(reason string, now time.Time) error {
	if err := p.Advance(StatusFailed, now); err != nil {
		return err
	}
	p.FailureReason = reason
	return nil
}

// Repository defines persistence operations for payments. The ForUpdate
// lookups lock the row and must run inside a caller-owned transaction.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	GetForUpdate(ctx context.Context, id string) (*Payment, error)
	GetByGatewayOrderIDForUpdate(ctx context.Context, gatewayOrderID string) (*Payment, error)
	GetByGatewayPaymentIDForUpdate(ctx context.Context, gatewayPaymentID string) (*Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	Update(ctx context.Context, p *Payment) error
}

// EventLog records processed gateway webhook events.
type EventLog interface {
	// MarkProcessed records eventID and reports false when it was already recorded.
	MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}
