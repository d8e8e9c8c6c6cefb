package razorpay

import (
	"crypto/rand"
	"crypto/subtle"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

// Sandbox is an in-memory stand-in for the orders and refunds API, used by
// local environments and the compose test suite. It checks basic auth and
// keeps every order it creates.
type Sandbox struct {
	keyID     string
	keySecret string

	mu      sync.Mutex
	orders  map[string]Order
	refunds map[string]int64 // payment id -> refunded minor units
	now     func() time.Time
}

// NewSandbox returns a Sandbox accepting the given credentials.
func NewSandbox(keyID, keySecret string) *Sandbox {
	return &Sandbox{
		keyID:     keyID,
		keySecret: keySecret,
		orders:    make(map[string]Order),
		refunds:   make(map[string]int64),
		now:       time.Now,
	}
}

// Handler serves the sandbox API.
func (s *Sandbox) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.authorize)
	r.Post("/v1/orders", s.createOrder)
	r.Get("/v1/orders/{id}", s.getOrder)
	r.Post("/v1/payments/{id}/refund", s.refund)
	return r
}

// Order returns a created order by id.
func (s *Sandbox) Order(id string) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

func (s *Sandbox) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(id), []byte(s.keyID)) != 1 ||
			subtle.ConstantTimeCompare([]byte(secret), []byte(s.keySecret)) != 1 {
			writeSandboxError(w, http.StatusUnauthorized, "BAD_REQUEST_ERROR", "Authentication failed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Sandbox) createOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseSize))
	if err != nil {
		writeSandboxError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", "unreadable body")
		return
	}
	var o Order
	err = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "amount":
			o.Amount, err = d.Int64()
		case "currency":
			o.Currency, err = d.Str()
		case "receipt":
			o.Receipt, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	switch {
	case err != nil:
		writeSandboxError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", err.Error())
		return
	case o.Amount < 100:
		writeSandboxError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", "Order amount less than minimum amount allowed")
		return
	case o.Currency == "":
		writeSandboxError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", "The currency field is required.")
		return
	}
	o.ID = "order_" + sandboxID()
	o.Status = "created"
	o.CreatedAt = s.now().UTC().Truncate(time.Second)

	s.mu.Lock()
	s.orders[o.ID] = o
	s.mu.Unlock()

	writeSandboxJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (s *Sandbox) getOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := s.Order(chi.URLParam(r, "id"))
	if !ok {
		writeSandboxError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", "The id provided does not exist")
		return
	}
	writeSandboxJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (s *Sandbox) refund(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseSize))
	if err != nil {
		writeSandboxError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", "unreadable body")
		return
	}
	var amount int64
	if len(body) > 0 {
		err = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != "amount" {
				return d.Skip()
			}
			var err error
			amount, err = d.Int64()
			return err
		})
		if err != nil {
			writeSandboxError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", err.Error())
			return
		}
	}

	s.mu.Lock()
	if _, done := s.refunds[paymentID]; done {
		s.mu.Unlock()
		writeSandboxError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", "The payment has been fully refunded already")
		return
	}
	s.refunds[paymentID] = amount
	s.mu.Unlock()

	ref := Refund{
		ID:        "rfnd_" + sandboxID(),
		PaymentID: paymentID,
		Amount:    amount,
		Currency:  "INR",
		Status:    "processed",
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	writeSandboxJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(ref.ID) })
			e.Field("entity", func(e *jx.Encoder) { e.Str("refund") })
			e.Field("payment_id", func(e *jx.Encoder) { e.Str(ref.PaymentID) })
			e.Field("amount", func(e *jx.Encoder) { e.Int64(ref.Amount) })
			e.Field("currency", func(e *jx.Encoder) { e.Str(ref.Currency) })
			e.Field("status", func(e *jx.Encoder) { e.Str(ref.Status) })
			e.Field("created_at", func(e *jx.Encoder) { e.Int64(ref.CreatedAt.Unix()) })
		})
	})
}

func encodeOrder(e *jx.Encoder, o Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("entity", func(e *jx.Encoder) { e.Str("order") })
		e.Field("amount", func(e *jx.Encoder) { e.Int64(o.Amount) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(o.Currency) })
		e.Field("receipt", func(e *jx.Encoder) { e.Str(o.Receipt) })
		e.Field("status", func(e *jx.Encoder) { e.Str(o.Status) })
		e.Field("created_at", func(e *jx.Encoder) { e.Int64(o.CreatedAt.Unix()) })
	})
}

func writeSandboxJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeSandboxError(w http.ResponseWriter, status int, code, description string) {
	writeSandboxJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("error", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("code", func(e *jx.Encoder) { e.Str(code) })
					e.Field("description", func(e *jx.Encoder) { e.Str(description) })
				})
			})
		})
	})
}

const sandboxAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func sandboxID() string {
	b := make([]byte, 14)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = sandboxAlphabet[int(b[i])%len(sandboxAlphabet)]
	}
	return string(b)
}
