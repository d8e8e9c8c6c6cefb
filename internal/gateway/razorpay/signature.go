package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer verifies client payment confirmations and webhook deliveries. The
// two use different secrets: the API key secret for payments and the
// dashboard-configured webhook secret for webhooks.
type Signer struct {
	keySecret     []byte
	webhookSecret []byte
}

// NewSigner returns a Signer for the given secrets.
func NewSigner(keySecret, webhookSecret string) *Signer {
	return &Signer{
		keySecret:     []byte(keySecret),
		webhookSecret: []byte(webhookSecret),
	}
}

// Sign returns the lowercase hex HMAC-SHA256 of message under secret.
func Sign(message, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// PaymentSignature returns the signature the checkout widget produces for
// a successful payment: HMAC over "orderID|paymentID".
func (s *Signer) PaymentSignature(orderID, paymentID string) string {
	return Sign([]byte(orderID+"|"+paymentID), s.keySecret)
}

// VerifyPayment reports whether signature matches orderID and paymentID.
func (s *Signer) VerifyPayment(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" {
		return false
	}
	return equal(s.PaymentSignature(orderID, paymentID), signature)
}

// VerifyWebhook reports whether signature matches the raw webhook body.
func (s *Signer) VerifyWebhook(body []byte, signature string) bool {
	if len(s.webhookSecret) == 0 {
		return false
	}
	return equal(Sign(body, s.webhookSecret), signature)
}

// equal compares the hex signatures byte for byte in constant time. The
// gateway emits lowercase hex, so a case change is a different signature.
func equal(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}
