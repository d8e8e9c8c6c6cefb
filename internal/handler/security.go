package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/agrimarket/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-API-Key"

// Authenticator resolves X-API-Key to an auth.Principal.
type Authenticator struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewAuthenticator returns an Authenticator that hashes keys with
// HMAC-SHA256 under pepper before lookup.
func NewAuthenticator(apikeys auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{apikeys: apikeys, pepper: pepper}
}

// HashKey returns the hex HMAC-SHA256 of key, as stored in api_keys.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Authenticator) authenticate(r *http.Request) (auth.Principal, bool) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return auth.Principal{}, false
	}
	hash := HashKey(a.pepper, key)
	info, err := a.apikeys.FindByHash(r.Context(), hash)
	if err != nil {
		zctx.From(r.Context()).Debug("API key lookup failed", zap.Error(err))
		return auth.Principal{}, false
	}
	// The row is matched by hash; compare again in constant time in case the
	// repository matched loosely.
	want, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return auth.Principal{}, false
	}
	got, _ := hex.DecodeString(hash)
	if subtle.ConstantTimeCompare(got, want) != 1 || info.UserID == "" {
		return auth.Principal{}, false
	}
	return auth.Principal{UserID: info.UserID, KeyID: info.ID}, true
}

// Middleware rejects requests without a valid API key with 401 and stores
// the principal in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.authenticate(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{
				Code:    http.StatusUnauthorized,
				Message: "missing or invalid API key",
			})
			return
		}
		ctx := auth.WithPrincipal(r.Context(), p)
		ctx = zctx.Base(ctx, zctx.From(ctx).With(zap.String("user_id", p.UserID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principal returns the authenticated user id. Routes using it are mounted
// behind Authenticator.Middleware.
func principal(r *http.Request) string {
	p, _ := auth.FromContext(r.Context())
	return p.UserID
}
