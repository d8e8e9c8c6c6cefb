package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/agrimarket/internal/domain/payment"
)

const (
	paymentColumns = `id, order_id, gateway_order_id, gateway_payment_id, signature, transaction_id,
		amount, currency, status, failure_reason, refund_id, refund_amount, refunded_at, paid_at,
		created_at, updated_at`

	insertPaymentSQL = `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	getPaymentSQL          = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	getPaymentForUpdateSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`

	getPaymentByGatewayOrderSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE gateway_order_id = $1 FOR UPDATE`

	getPaymentByGatewayPaymentSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE gateway_payment_id = $1 AND gateway_payment_id <> ''
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`

	listPaymentsByOrderSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE order_id = $1 ORDER BY created_at`

	updatePaymentSQL = `UPDATE payments SET
		gateway_payment_id = $2, signature = $3, transaction_id = $4, status = $5,
		failure_reason = $6, refund_id = $7, refund_amount = $8, refunded_at = $9,
		paid_at = $10, updated_at = $11
		WHERE id = $1`

	markEventSQL = `INSERT INTO webhook_events (event_id, event_type) VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	db *DB
}

// NewPaymentRepository returns a PaymentRepository.
func NewPaymentRepository(db *DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create persists a new payment attempt.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := r.db.q(ctx).Exec(ctx, insertPaymentSQL,
		id, p.OrderID, p.GatewayOrderID, p.GatewayPaymentID, p.Signature, p.TransactionID,
		p.Amount, p.Currency, p.Status, p.FailureReason, p.RefundID, p.RefundAmount,
		p.RefundedAt, p.PaidAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating payment for order %q: %w", p.OrderID, err)
	}
	p.ID = id
	return nil
}

// Get returns a payment by id.
func (r *PaymentRepository) Get(ctx context.Context, id string) (*payment.Payment, error) {
	return r.getOne(ctx, getPaymentSQL, id)
}

// GetForUpdate returns a payment by id and locks its row.
func (r *PaymentRepository) GetForUpdate(ctx context.Context, id string) (*payment.Payment, error) {
	return r.getOne(ctx, getPaymentForUpdateSQL, id)
}

// GetByGatewayOrderIDForUpdate returns and locks the payment opened for a
// gateway order.
func (r *PaymentRepository) GetByGatewayOrderIDForUpdate(ctx context.Context, gatewayOrderID string) (*payment.Payment, error) {
	return r.getOne(ctx, getPaymentByGatewayOrderSQL, gatewayOrderID)
}

// GetByGatewayPaymentIDForUpdate returns and locks the payment captured
// under a gateway payment id.
func (r *PaymentRepository) GetByGatewayPaymentIDForUpdate(ctx context.Context, gatewayPaymentID string) (*payment.Payment, error) {
	return r.getOne(ctx, getPaymentByGatewayPaymentSQL, gatewayPaymentID)
}

// ListByOrder returns every attempt for an order, oldest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]payment.Payment, error) {
	rows, err := r.db.q(ctx).Query(ctx, listPaymentsByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing payments for order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanPayment)
}

// Update writes the mutable payment fields.
func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	tag, err := r.db.q(ctx).Exec(ctx, updatePaymentSQL,
		p.ID, p.GatewayPaymentID, p.Signature, p.TransactionID, p.Status,
		p.FailureReason, p.RefundID, p.RefundAmount, p.RefundedAt,
		p.PaidAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating payment %q: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) getOne(ctx context.Context, sql, arg string) (*payment.Payment, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting payment %q: %w", arg, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment %q: %w", arg, err)
	}
	return &p, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.GatewayOrderID, &p.GatewayPaymentID, &p.Signature, &p.TransactionID,
		&p.Amount, &p.Currency, &p.Status, &p.FailureReason, &p.RefundID, &p.RefundAmount,
		&p.RefundedAt, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

var _ payment.EventLog = (*EventLog)(nil)

// EventLog records processed webhook event ids in webhook_events.
type EventLog struct {
	db *DB
}

// NewEventLog returns an EventLog.
func NewEventLog(db *DB) *EventLog {
	return &EventLog{db: db}
}

// MarkProcessed inserts the event id and reports whether it was new. Inside
// a transaction the row stays invisible to concurrent deliveries until the
// transaction commits; a concurrent insert of the same id blocks and then
// reports false.
func (l *EventLog) MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := l.db.q(ctx).Exec(ctx, markEventSQL, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("recording webhook event %q: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}
