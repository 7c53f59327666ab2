package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy describes which browser origins may call the API. An origin
// entry may be "*", an exact origin, or a subdomain pattern such as
// "https://*.barber.example".
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type compiledCORS struct {
	any       bool
	exact     map[string]struct{}
	suffixes  []originSuffix
	static    http.Header
	preflight http.Header
	creds     bool
}

type originSuffix struct {
	scheme string
	suffix string
}

// WithCORS lets browser dashboards on other origins call the API and open
// the queue stream. It is a no-op when AllowedOrigins is empty.
func WithCORS(p CORSPolicy) Middleware {
	c := compileCORS(p)
	if c == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Add("Vary", "Origin")
			if !c.allows(origin) {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if c.any && !c.creds {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			copyHeaders(h, c.static)
			if preflight {
				copyHeaders(h, c.preflight)
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func compileCORS(p CORSPolicy) *compiledCORS {
	origins := trimmed(p.AllowedOrigins)
	if len(origins) == 0 {
		return nil
	}
	c := &compiledCORS{
		exact:     make(map[string]struct{}),
		static:    http.Header{},
		preflight: http.Header{},
		creds:     p.AllowCredentials,
	}
	for _, o := range origins {
		switch scheme, rest, ok := strings.Cut(o, "://*."); {
		case o == "*":
			c.any = true
		case ok:
			c.suffixes = append(c.suffixes, originSuffix{scheme: strings.ToLower(scheme), suffix: "." + strings.ToLower(rest)})
		default:
			c.exact[strings.ToLower(o)] = struct{}{}
		}
	}

	if p.AllowCredentials {
		c.static.Set("Access-Control-Allow-Credentials", "true")
	}
	if v := strings.Join(trimmed(p.ExposedHeaders), ", "); v != "" {
		c.static.Set("Access-Control-Expose-Headers", v)
	}
	if v := strings.Join(trimmed(p.AllowedMethods), ", "); v != "" {
		c.preflight.Set("Access-Control-Allow-Methods", v)
	}
	if v := strings.Join(trimmed(p.AllowedHeaders), ", "); v != "" {
		c.preflight.Set("Access-Control-Allow-Headers", v)
	}
	if secs := int(p.MaxAge / time.Second); secs > 0 {
		c.preflight.Set("Access-Control-Max-Age", strconv.Itoa(secs))
	}
	return c
}

func (c *compiledCORS) allows(origin string) bool {
	if c.any {
		return true
	}
	o := strings.ToLower(origin)
	if _, ok := c.exact[o]; ok {
		return true
	}
	scheme, host, ok := strings.Cut(o, "://")
	if !ok {
		return false
	}
	for _, s := range c.suffixes {
		if s.scheme == scheme && strings.HasSuffix(host, s.suffix) {
			return true
		}
	}
	return false
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Set(k, v)
		}
	}
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
