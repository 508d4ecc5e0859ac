package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/customsops/customs/internal/model"
	"github.com/customsops/customs/internal/principal"
	"github.com/customsops/customs/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Response messages. They never say which check failed.
const (
	msgAuthRequired       = "Authentication required"
	msgInvalidCredentials = "Invalid credentials"
	msgForbidden          = "Forbidden"
)

// Authenticator turns a bearer token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*principal.Principal, error)
}

// Authenticate returns an HTTP middleware that requires a valid
// "Authorization: Bearer <token>" header. On success the principal is
// attached to the request context. On failure the reason is logged and the
// client gets a generic 401.
func Authenticate(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, msgAuthRequired)
				return
			}

			p, err := authn.Authenticate(r.Context(), raw)
			if err != nil {
				logger.WarnContext(r.Context(), "authentication failed",
					"reason", service.FailureReason(err),
					"error", err,
					"request_id", GetRequestID(r.Context()),
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusUnauthorized, msgInvalidCredentials)
				return
			}

			if info := getRequestInfo(r.Context()); info != nil {
				info.subject = p.Subject
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAuthority returns an HTTP middleware that admits principals holding
// at least one of names. It must be used after Authenticate in the
// middleware chain.
func RequireAuthority(logger *slog.Logger, names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r.Context())
			if p == nil {
				writeAuthError(w, http.StatusUnauthorized, msgAuthRequired)
				return
			}
			if !p.HasAnyAuthority(names...) {
				logger.InfoContext(r.Context(), "access denied",
					"subject", p.Subject,
					"required", names,
					"path", r.URL.Path,
				)
				writeAuthError(w, http.StatusForbidden, msgForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from the Authorization header. The scheme
// is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, raw, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *principal.Principal) context.Context {
	return context.WithValue(ctx, AuthPrincipalKey, p)
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *principal.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*principal.Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="customs"`)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
