package razorpay

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Webhook event types handled by the checkout core.
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventRefundCreated     = "refund.created"
	EventRefundProcessed   = "refund.processed"
)

// Event is a decoded webhook delivery.
type Event struct {
	Type      string
	AccountID string
	CreatedAt time.Time
	Payment   *PaymentEntity
	Refund    *Refund
}

// PaymentEntity is the payment object embedded in payment.* and refund.* events.
type PaymentEntity struct {
	ID               string
	OrderID          string
	Amount           int64
	Currency         string
	Status           string
	Method           string
	ErrorCode        string
	ErrorDescription string
}

// ParseEvent decodes a webhook body. It fails when the envelope has no
// event type or when a payment/refund event lacks its entity.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	d := jx.DecodeBytes(body)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "event":
			ev.Type, err = d.Str()
		case "account_id":
			ev.AccountID, err = optStr(d)
		case "created_at":
			ev.CreatedAt, err = unixTime(d)
		case "payload":
			err = decodePayload(d, &ev)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode event")
	}
	if ev.Type == "" {
		return nil, errors.New("event type is missing")
	}

	switch ev.Type {
	case EventPaymentAuthorized, EventPaymentCaptured, EventPaymentFailed:
		if ev.Payment == nil || ev.Payment.ID == "" {
			return nil, errors.Errorf("%s event without payment entity", ev.Type)
		}
	case EventRefundCreated, EventRefundProcessed:
		if ev.Refund == nil || ev.Refund.PaymentID == "" {
			return nil, errors.Errorf("%s event without refund entity", ev.Type)
		}
	}
	return &ev, nil
}

func decodePayload(d *jx.Decoder, ev *Event) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "payment":
			return entity(d, func(d *jx.Decoder) error {
				p, err := decodePaymentEntity(d)
				ev.Payment = p
				return err
			})
		case "refund":
			return entity(d, func(d *jx.Decoder) error {
				r, err := decodeRefund(d)
				ev.Refund = r
				return err
			})
		default:
			return d.Skip()
		}
	})
}

// entity unwraps the {"entity": {...}} wrapper the gateway puts around
// every payload object.
func entity(d *jx.Decoder, fn func(d *jx.Decoder) error) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "entity" {
			return d.Skip()
		}
		return fn(d)
	})
}

func decodePaymentEntity(d *jx.Decoder) (*PaymentEntity, error) {
	var p PaymentEntity
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "order_id":
			p.OrderID, err = optStr(d)
		case "amount":
			p.Amount, err = d.Int64()
		case "currency":
			p.Currency, err = d.Str()
		case "status":
			p.Status, err = d.Str()
		case "method":
			p.Method, err = optStr(d)
		case "error_code":
			p.ErrorCode, err = optStr(d)
		case "error_description":
			p.ErrorDescription, err = optStr(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}
