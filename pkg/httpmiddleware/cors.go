package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware behaviour.
type CORSConfig struct {
	// AllowOrigins empty or containing "*" allows any origin. An entry like
	// "https://*.example.com" allows every subdomain of example.com.
	AllowOrigins []string
	// AllowMethods defaults to the methods the marketplace API serves.
	AllowMethods []string
	// AllowHeaders defaults to the API key, content type and request id
	// headers.
	AllowHeaders []string
	// ExposeHeaders defaults to the request id and rate limit headers.
	ExposeHeaders []string
	// AllowCredentials disables the "*" origin; the request origin is echoed
	// instead.
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// header, negative sends "0".
	MaxAge int
}

type corsPolicy struct {
	allowAll    bool
	exact       map[string]string // lowercase -> configured spelling
	suffixes    []wildcardOrigin
	credentials bool

	methods string
	headers string
	expose  string
	maxAge  string
}

type wildcardOrigin struct {
	scheme string // "https://"
	suffix string // ".example.com"
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		allowAll:    len(cfg.AllowOrigins) == 0,
		exact:       make(map[string]string, len(cfg.AllowOrigins)),
		credentials: cfg.AllowCredentials,
		methods: joinOr(cfg.AllowMethods,
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions),
		headers: joinOr(cfg.AllowHeaders, "Content-Type", "X-API-Key", requestIDHeader),
		expose:  joinOr(cfg.ExposeHeaders, requestIDHeader, "X-RateLimit-Remaining", "Retry-After"),
	}
	for _, o := range cfg.AllowOrigins {
		lower := strings.ToLower(o)
		switch {
		case o == "*":
			p.allowAll = true
		case strings.Contains(lower, "://*."):
			scheme, host, _ := strings.Cut(lower, "*")
			p.suffixes = append(p.suffixes, wildcardOrigin{scheme: scheme, suffix: host})
		default:
			p.exact[lower] = o
		}
	}
	// Browsers reject "*" together with credentials.
	if p.credentials {
		p.allowAll = false
	}
	switch {
	case cfg.MaxAge > 0:
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		p.maxAge = "0"
	}
	return p
}

func joinOr(values []string, defaults ...string) string {
	if len(values) == 0 {
		values = defaults
	}
	return strings.Join(values, ", ")
}

// allowOrigin returns the Access-Control-Allow-Origin value, or "" when the
// origin is not allowed.
func (p *corsPolicy) allowOrigin(origin string) string {
	if p.allowAll {
		return "*"
	}
	lower := strings.ToLower(origin)
	if o, ok := p.exact[lower]; ok {
		return o
	}
	for _, w := range p.suffixes {
		host, ok := strings.CutPrefix(lower, w.scheme)
		if ok && strings.HasSuffix(host, w.suffix) && len(host) > len(w.suffix) {
			return origin
		}
	}
	return ""
}

func (p *corsPolicy) preflight(w http.ResponseWriter, origin string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")

	if allow := p.allowOrigin(origin); allow != "" {
		h.Set("Access-Control-Allow-Origin", allow)
		h.Set("Access-Control-Allow-Methods", p.methods)
		h.Set("Access-Control-Allow-Headers", p.headers)
		if p.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if p.maxAge != "" {
			h.Set("Access-Control-Max-Age", p.maxAge)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *corsPolicy) actual(w http.ResponseWriter, origin string) {
	h := w.Header()
	if !p.allowAll {
		h.Add("Vary", "Origin")
	}
	if origin == "" {
		return
	}
	if allow := p.allowOrigin(origin); allow != "" {
		h.Set("Access-Control-Allow-Origin", allow)
		if p.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		h.Set("Access-Control-Expose-Headers", p.expose)
	}
}

// CORS answers preflight requests and sets the allow headers for browser
// clients of the storefront. Origins match case-insensitively.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				p.preflight(w, origin)
				return
			}
			p.actual(w, origin)
			next.ServeHTTP(w, r)
		})
	}
}
