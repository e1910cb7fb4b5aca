package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/infrastructure/auth"
	"github.com/iho/smmpanel/internal/infrastructure/metrics"
)

func capturePrincipal(got *domain.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := domain.PrincipalFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		*got = p
	})
}

func TestAuthenticator_BearerToken(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Minute)
	token, err := jwtManager.Generate(domain.Principal{AccountID: "acc-1", Role: domain.RoleCustomer})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	var got domain.Principal
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	NewAuthenticator(jwtManager, true, nil).Wrap(capturePrincipal(&got)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.AccountID != "acc-1" || got.Role != domain.RoleCustomer {
		t.Fatalf("unexpected principal: %+v", got)
	}
}

func TestAuthenticator_RejectsBadCredentials(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Minute)
	foreign, _ := auth.NewJWTManager("other", time.Minute).Generate(domain.Principal{AccountID: "acc-1", Role: domain.RoleAdmin})

	tests := []struct {
		name   string
		header string
		reason string
	}{
		{"missing header", "", "missing_token"},
		{"wrong scheme", "Basic abc", "malformed_header"},
		{"foreign token", "Bearer " + foreign, "invalid_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New(prometheus.NewRegistry())
			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			var got domain.Principal
			NewAuthenticator(jwtManager, true, m).Wrap(capturePrincipal(&got)).ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if v := testutil.ToFloat64(m.AuthFailures.WithLabelValues(tt.reason)); v != 1 {
				t.Fatalf("expected auth failure %q to be counted, got %v", tt.reason, v)
			}
		})
	}
}

func TestAuthenticator_HeaderPrincipalWhenDisabled(t *testing.T) {
	var got domain.Principal
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set(AccountIDHeader, "acc-9")
	rr := httptest.NewRecorder()

	NewAuthenticator(nil, false, nil).Wrap(capturePrincipal(&got)).ServeHTTP(rr, req)

	if got.AccountID != "acc-9" || got.Role != domain.RoleCustomer {
		t.Fatalf("expected customer principal from header, got %+v", got)
	}

	missing := httptest.NewRecorder()
	NewAuthenticator(nil, false, nil).Wrap(capturePrincipal(&got)).
		ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	if missing.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without account header, got %d", missing.Code)
	}

	badRole := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	badRole.Header.Set(AccountIDHeader, "acc-9")
	badRole.Header.Set(RoleHeader, "root")
	rr = httptest.NewRecorder()
	NewAuthenticator(nil, false, nil).Wrap(capturePrincipal(&got)).ServeHTTP(rr, badRole)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown role, got %d", rr.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		name      string
		principal *domain.Principal
		want      int
	}{
		{"admin", &domain.Principal{AccountID: "a", Role: domain.RoleAdmin}, http.StatusOK},
		{"customer", &domain.Principal{AccountID: "c", Role: domain.RoleCustomer}, http.StatusForbidden},
		{"anonymous", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/reconcile", nil)
			if tt.principal != nil {
				req = req.WithContext(domain.ContextWithPrincipal(req.Context(), *tt.principal))
			}
			rr := httptest.NewRecorder()

			RequireAdmin(ok).ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}
