package middleware

import (
	"net/http"
	"slices"
	"strings"
)

type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
}

var (
	defaultCORSMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	defaultCORSHeaders = []string{"Content-Type", "Authorization", "Idempotency-Key", "X-Request-ID"}
)

type corsPolicy struct {
	anyOrigin   bool
	origins     []string
	methods     string
	headers     string
	credentials bool
}

func normalizeOrigin(origin string) string {
	return strings.TrimRight(strings.TrimSpace(origin), "/")
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when the origin is not allowed.
func (p corsPolicy) allowOrigin(origin string) string {
	switch {
	case p.anyOrigin && !p.credentials:
		return "*"
	case p.anyOrigin, slices.Contains(p.origins, normalizeOrigin(origin)):
		return origin
	}
	return ""
}

// CORS answers preflight requests and echoes an allowed Origin. An empty
// origin list or "*" allows any origin.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := corsPolicy{
		anyOrigin:   len(cfg.AllowedOrigins) == 0,
		methods:     strings.Join(orDefault(cfg.AllowedMethods, defaultCORSMethods), ", "),
		headers:     strings.Join(orDefault(cfg.AllowedHeaders, defaultCORSHeaders), ", "),
		credentials: cfg.AllowCredentials,
	}
	for _, origin := range cfg.AllowedOrigins {
		switch origin = normalizeOrigin(origin); origin {
		case "":
		case "*":
			policy.anyOrigin = true
		default:
			policy.origins = append(policy.origins, origin)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" {
				h := w.Header()
				if allowed := policy.allowOrigin(origin); allowed != "" {
					h.Set("Access-Control-Allow-Origin", allowed)
					if allowed != "*" {
						h.Add("Vary", "Origin")
					}
				}
				h.Set("Access-Control-Allow-Methods", policy.methods)
				h.Set("Access-Control-Allow-Headers", policy.headers)
				if policy.credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func orDefault(values, fallback []string) []string {
	if len(values) == 0 {
		return fallback
	}
	return values
}
