package razorpay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func flipBit(s string, i int) string {
	return flip(s, i, 1)
}

func flip(s string, i int, mask byte) string {
	b := []byte(s)
	b[i%len(b)] ^= mask
	return string(b)
}

func TestVerifyPayment(t *testing.T) {
	s := NewSigner("key_secret", "webhook_secret")
	orderID, paymentID := "order_9A33XWu170gUtm", "pay_29QQoUBi66xm2f"
	sig := Sign([]byte(orderID+"|"+paymentID), []byte("key_secret"))

	assert.Equal(t, sig, s.PaymentSignature(orderID, paymentID))
	assert.True(t, s.VerifyPayment(orderID, paymentID, sig))

	for i := 0; i < len(sig); i++ {
		for bit := 0; bit < 8; bit++ {
			assert.False(t, s.VerifyPayment(orderID, paymentID, flip(sig, i, 1<<bit)), "signature byte %d bit %d", i, bit)
		}
	}
	assert.False(t, s.VerifyPayment(orderID, paymentID, strings.ToUpper(sig)))
	for i := 0; i < len(orderID); i++ {
		assert.False(t, s.VerifyPayment(flipBit(orderID, i), paymentID, sig), "order id bit %d", i)
	}
	for i := 0; i < len(paymentID); i++ {
		assert.False(t, s.VerifyPayment(orderID, flipBit(paymentID, i), sig), "payment id bit %d", i)
	}
}

func TestVerifyPayment_Rejects(t *testing.T) {
	s := NewSigner("key_secret", "webhook_secret")
	sig := s.PaymentSignature("order_1", "pay_1")

	assert.False(t, s.VerifyPayment("order_1", "pay_1", ""))
	assert.False(t, s.VerifyPayment("order_1", "pay_1", "not-hex"))
	assert.False(t, s.VerifyPayment("", "pay_1", sig))
	assert.False(t, s.VerifyPayment("order_1", "", sig))
	// Signed with the webhook secret instead of the key secret.
	assert.False(t, s.VerifyPayment("order_1", "pay_1", Sign([]byte("order_1|pay_1"), []byte("webhook_secret"))))
}

func TestVerifyWebhook(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	s := NewSigner("key_secret", "webhook_secret")

	assert.True(t, s.VerifyWebhook(body, Sign(body, []byte("webhook_secret"))))
	assert.False(t, s.VerifyWebhook(body, Sign(body, []byte("key_secret"))))
	assert.False(t, s.VerifyWebhook(append(body, ' '), Sign(body, []byte("webhook_secret"))))

	unset := NewSigner("key_secret", "")
	assert.False(t, unset.VerifyWebhook(body, Sign(body, nil)))

	sig := Sign(body, []byte("webhook_secret"))
	assert.False(t, s.VerifyWebhook(body, strings.ToUpper(sig)))
}
