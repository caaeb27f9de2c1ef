package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"dework/gateway/auth"
)

type principalKey struct{}

// Authenticator enforces bearer tokens on protected routes.
type Authenticator struct {
	verifier *auth.Verifier
	logger   *slog.Logger
}

func NewAuthenticator(verifier *auth.Verifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{verifier: verifier, logger: logger}
}

// Middleware rejects requests without a valid token or missing any of
// requiredScopes. The principal is attached to the request context.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			principal, err := a.verifier.Verify(raw)
			switch {
			case errors.Is(err, auth.ErrTokenRevoked):
				writeError(w, http.StatusUnauthorized, "token revoked")
				return
			case err != nil:
				a.logger.DebugContext(r.Context(), "token rejected", slog.Any("error", err))
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if missing := missingScope(principal, requiredScopes); missing != "" {
				writeError(w, http.StatusForbidden, "insufficient scope: "+missing)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
		})
	}
}

func missingScope(p auth.Principal, required []string) string {
	for _, scope := range required {
		if !p.HasScope(scope) {
			return scope
		}
	}
	return ""
}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(ctx context.Context) (auth.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(auth.Principal)
	return principal, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
