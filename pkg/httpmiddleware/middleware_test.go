package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrap_Order(t *testing.T) {
	var trace []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				trace = append(trace, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Wrap(okHandler(), mark("a"), mark("b"), mark("c"))
	hit(h, http.MethodGet, "/", nil)
	assert.Equal(t, []string{"a", "b", "c"}, trace)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	w := hit(h, http.MethodGet, "/", nil)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))

	w = hit(h, http.MethodGet, "/", func(r *http.Request) { r.Header.Set("X-Request-ID", "req-42") })
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

	w = hit(h, http.MethodGet, "/", func(r *http.Request) { r.Header.Set("X-Request-ID", strings.Repeat("x", 200)) })
	assert.NotEqual(t, strings.Repeat("x", 200), seen)
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestLogRequests(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := chi.NewRouter()
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("Handling")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	})
	h := Wrap(r, RequestID(), InjectLogger(zap.New(core)), LogRequests())

	hit(h, http.MethodGet, "/orders/o-1", func(r *http.Request) { r.Header.Set("X-Request-ID", "req-1") })

	entries := logs.FilterMessage("Request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/orders/{id}", fields["route"])
	assert.Equal(t, "/orders/o-1", fields["path"])
	assert.EqualValues(t, http.StatusCreated, fields["status"])
	assert.EqualValues(t, 2, fields["bytes"])
	assert.Equal(t, "req-1", fields["request_id"])

	handled := logs.FilterMessage("Handling").All()
	require.Len(t, handled, 1)
	assert.Equal(t, "req-1", handled[0].ContextMap()["request_id"])
}

func TestLogRequests_ProbesAtDebug(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := Wrap(okHandler(), InjectLogger(zap.New(core)), LogRequests())

	hit(h, http.MethodGet, "/readyz", nil)
	entries := logs.FilterMessage("Request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), InjectLogger(zap.New(core)), Recovery())

	w := hit(h, http.MethodPost, "/api/orders", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "close", w.Header().Get("Connection"))

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, http.StatusInternalServerError, body.Code)
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
}

func TestCORS(t *testing.T) {
	h := CORS(CORSConfig{AllowOrigins: []string{"https://Shop.example"}, MaxAge: 600})(okHandler())

	t.Run("Preflight", func(t *testing.T) {
		w := hit(h, http.MethodOptions, "/api/cart", func(r *http.Request) {
			r.Header.Set("Origin", "https://shop.example")
			r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		})
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://Shop.example", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
		assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
	})
	t.Run("Disallowed", func(t *testing.T) {
		w := hit(h, http.MethodGet, "/api/cart", func(r *http.Request) {
			r.Header.Set("Origin", "https://evil.example")
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", w.Header().Get("Vary"))
	})
	t.Run("Wildcard", func(t *testing.T) {
		h := CORS(CORSConfig{})(okHandler())
		w := hit(h, http.MethodGet, "/api/cart", func(r *http.Request) {
			r.Header.Set("Origin", "https://any.example")
		})
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Request-ID")
	})
	t.Run("Subdomain", func(t *testing.T) {
		h := CORS(CORSConfig{
			AllowOrigins:     []string{"https://*.market.example"},
			AllowCredentials: true,
		})(okHandler())
		for origin, want := range map[string]string{
			"https://farm-7.market.example": "https://farm-7.market.example",
			"https://market.example":        "",
			"http://farm-7.market.example":  "",
		} {
			w := hit(h, http.MethodGet, "/api/cart", func(r *http.Request) {
				r.Header.Set("Origin", origin)
			})
			assert.Equal(t, want, w.Header().Get("Access-Control-Allow-Origin"), origin)
		}
	})
}
