package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/infrastructure/auth"
	"github.com/iho/smmpanel/internal/infrastructure/metrics"
)

const (
	// AccountIDHeader carries the principal when authentication is disabled.
	AccountIDHeader = "X-Account-ID"
	// RoleHeader optionally carries the role when authentication is disabled.
	RoleHeader = "X-Role"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(tokenString string) (*auth.Claims, error)
}

// Authenticator resolves the principal of every request.
type Authenticator struct {
	verifier TokenVerifier
	enabled  bool
	metrics  *metrics.Metrics
}

// NewAuthenticator creates an Authenticator. With enabled=false the principal is
// read from the X-Account-ID and X-Role headers, which is only meant for
// development behind a trusted gateway.
func NewAuthenticator(verifier TokenVerifier, enabled bool, m *metrics.Metrics) *Authenticator {
	return &Authenticator{verifier: verifier, enabled: enabled, metrics: m}
}

// Wrap rejects requests without a principal and stores it in the request context.
func (a *Authenticator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, reason, err := a.resolve(r)
		if err != nil {
			if a.metrics != nil {
				a.metrics.AuthFailures.WithLabelValues(reason).Inc()
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		ctx := domain.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) resolve(r *http.Request) (domain.Principal, string, error) {
	if !a.enabled {
		accountID := strings.TrimSpace(r.Header.Get(AccountIDHeader))
		if accountID == "" {
			return domain.Principal{}, "missing_account", errors.New("missing " + AccountIDHeader + " header")
		}

		role := domain.Role(r.Header.Get(RoleHeader))
		if role == "" {
			role = domain.RoleCustomer
		}
		if !role.IsValid() {
			return domain.Principal{}, "invalid_role", errors.New("unknown role")
		}

		return domain.Principal{AccountID: accountID, Role: role}, "", nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return domain.Principal{}, "missing_token", errors.New("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return domain.Principal{}, "malformed_header", errors.New("invalid authorization header format")
	}

	claims, err := a.verifier.Verify(parts[1])
	if err != nil {
		if errors.Is(err, domain.ErrExpiredToken) {
			return domain.Principal{}, "expired_token", err
		}
		return domain.Principal{}, "invalid_token", domain.ErrInvalidToken
	}

	return claims.Principal(), "", nil
}

// RequireAdmin only lets principals with an operating role through.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := domain.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", domain.ErrUnauthorized.Error())
			return
		}

		if !principal.Role.CanOperate() {
			writeError(w, http.StatusForbidden, "forbidden", domain.ErrInsufficientRole.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   message,
		"message": details,
	})
}
