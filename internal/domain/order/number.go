package order

import (
	"crypto/rand"
	"math/big"
	"time"
)

const numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewNumber returns a human-readable order number: ORD, the UTC timestamp to
// the second and a 6 character random suffix.
func NewNumber(now time.Time) string {
	buf := make([]byte, 6)
	max := big.NewInt(int64(len(numberAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		buf[i] = numberAlphabet[n.Int64()]
	}
	return "ORD" + now.UTC().Format("20060102150405") + string(buf)
}
