package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/infrastructure/metrics"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *domain.UpstreamProvider) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return srv, &domain.UpstreamProvider{
		ID:      "prov-1",
		Name:    "Upstream",
		BaseURL: srv.URL,
		APIKey:  "secret",
		Status:  domain.CatalogStatusActive,
	}
}

func newTestClient(m *metrics.Metrics) *Client {
	return NewClient(nil, Config{Timeout: time.Second, RatePerSecond: 1000, Burst: 100}, zerolog.Nop(), m)
}

func requireProviderError(t *testing.T, err error, category domain.ProviderErrorCategory) *domain.ProviderError {
	t.Helper()

	var perr *domain.ProviderError
	require.True(t, errors.As(err, &perr), "expected *domain.ProviderError, got %T: %v", err, err)
	assert.Equal(t, category, perr.Category)

	return perr
}

func TestSubmit_SendsFormAndReturnsOrderID(t *testing.T) {
	_, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "secret", r.PostForm.Get("key"))
		assert.Equal(t, "add", r.PostForm.Get("action"))
		assert.Equal(t, "svc-42", r.PostForm.Get("service"))
		assert.Equal(t, "https://instagram.com/p/abc", r.PostForm.Get("link"))
		assert.Equal(t, "100", r.PostForm.Get("quantity"))
		assert.Empty(t, r.PostForm.Get("runs"))

		_, _ = w.Write([]byte(`{"order": 23501}`))
	})

	id, err := newTestClient(nil).Submit(context.Background(), p, domain.SubmitRequest{
		ServiceID: "svc-42",
		Link:      "https://instagram.com/p/abc",
		Quantity:  100,
	})

	require.NoError(t, err)
	assert.Equal(t, "23501", id)
}

func TestSubmit_DripFeedParameters(t *testing.T) {
	_, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "20", r.PostForm.Get("quantity"))
		assert.Equal(t, "5", r.PostForm.Get("runs"))
		assert.Equal(t, "30", r.PostForm.Get("interval"))

		_, _ = w.Write([]byte(`{"order": "ab-1"}`))
	})

	id, err := newTestClient(nil).Submit(context.Background(), p, domain.SubmitRequest{
		ServiceID: "svc-42",
		Link:      "https://instagram.com/p/abc",
		Quantity:  20,
		DripFeed:  &domain.DripFeed{Runs: 5, Interval: 30},
	})

	require.NoError(t, err)
	assert.Equal(t, "ab-1", id)
}

func TestSubmit_ErrorPayloadIsRejected(t *testing.T) {
	_, p := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error": "Not enough funds on balance"}`))
	})

	_, err := newTestClient(nil).Submit(context.Background(), p, domain.SubmitRequest{ServiceID: "1", Link: "l", Quantity: 1})

	perr := requireProviderError(t, err, domain.ProviderRejected)
	assert.Equal(t, "Not enough funds on balance", perr.Message)
	assert.Equal(t, "prov-1", perr.ProviderID)
	assert.Equal(t, "add", perr.Action)
}

func TestCall_ErrorCategories(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		category domain.ProviderErrorCategory
	}{
		{"server error", http.StatusBadGateway, `oops`, domain.ProviderUnreachable},
		{"client error", http.StatusUnauthorized, `{"error": "Invalid API key"}`, domain.ProviderRejected},
		{"not json", http.StatusOK, `<html>maintenance</html>`, domain.ProviderMalformedResponse},
		{"missing order id", http.StatusOK, `{}`, domain.ProviderMalformedResponse},
		{"wrong type", http.StatusOK, `{"order": {"id": 1}}`, domain.ProviderMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, p := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := newTestClient(nil).Submit(context.Background(), p, domain.SubmitRequest{ServiceID: "1", Link: "l", Quantity: 1})

			perr := requireProviderError(t, err, tt.category)
			if tt.status != http.StatusOK {
				assert.Equal(t, tt.status, perr.StatusCode)
			}
		})
	}
}

func TestCall_UnreachableHost(t *testing.T) {
	srv, p := newTestServer(t, func(http.ResponseWriter, *http.Request) {})
	srv.Close()

	_, err := newTestClient(nil).QueryStatus(context.Background(), p, "1")

	requireProviderError(t, err, domain.ProviderUnreachable)
}

func TestCall_TimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	_, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	c := NewClient(nil, Config{Timeout: 50 * time.Millisecond}, zerolog.Nop(), nil)

	_, err := c.Submit(context.Background(), p, domain.SubmitRequest{ServiceID: "1", Link: "l", Quantity: 1})

	perr := requireProviderError(t, err, domain.ProviderUnreachable)
	assert.Equal(t, "timed out", perr.Message)
}

func TestQueryStatus_NormalizesMixedTypes(t *testing.T) {
	_, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "status", r.PostForm.Get("action"))
		assert.Equal(t, "9001", r.PostForm.Get("order"))

		_, _ = w.Write([]byte(`{"charge": "0.27819", "start_count": 3572, "status": " In progress ", "remains": "157", "currency": "USD"}`))
	})

	st, err := newTestClient(nil).QueryStatus(context.Background(), p, "9001")

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusInProgress, st.Status)
	assert.Equal(t, "In progress", st.RawStatus)
	assert.Equal(t, int64(3572), st.StartCount)
	assert.Equal(t, int64(157), st.Remains)
	assert.Equal(t, "0.27819", st.Charge.String())
	assert.Equal(t, "USD", st.Currency)
}

func TestQueryStatus_EmptyCounters(t *testing.T) {
	_, p := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"charge": "", "start_count": null, "status": "Pending", "remains": ""}`))
	})

	st, err := newTestClient(nil).QueryStatus(context.Background(), p, "9001")

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, st.Status)
	assert.Zero(t, st.StartCount)
	assert.True(t, st.Charge.IsZero())
}

func TestQueryStatus_MissingStatusIsMalformed(t *testing.T) {
	_, p := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"charge": "1.00"}`))
	})

	_, err := newTestClient(nil).QueryStatus(context.Background(), p, "9001")

	requireProviderError(t, err, domain.ProviderMalformedResponse)
}

func TestRefill(t *testing.T) {
	_, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.PostForm.Get("action") {
		case "refill":
			assert.Equal(t, "9001", r.PostForm.Get("order"))
			_, _ = w.Write([]byte(`{"refill": 77}`))
		case "refill_status":
			assert.Equal(t, "77", r.PostForm.Get("refill"))
			_, _ = w.Write([]byte(`{"status": "Completed"}`))
		default:
			t.Errorf("unexpected action %q", r.PostForm.Get("action"))
		}
	})

	c := newTestClient(nil)
	ctx := context.Background()

	refillID, err := c.RequestRefill(ctx, p, "9001")
	require.NoError(t, err)
	assert.Equal(t, "77", refillID)

	st, err := c.QueryRefillStatus(ctx, p, refillID)
	require.NoError(t, err)
	assert.Equal(t, domain.RefillStatusCompleted, st)
}

func TestRequestRefill_Rejected(t *testing.T) {
	_, p := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error": "Refill is disabled for this service"}`))
	})

	_, err := newTestClient(nil).RequestRefill(context.Background(), p, "9001")

	requireProviderError(t, err, domain.ProviderRejected)
}

func TestCall_RecordsMetrics(t *testing.T) {
	_, p := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"order": 1}`))
	})
	m := metrics.New(prometheus.NewRegistry())
	c := newTestClient(m)

	_, err := c.Submit(context.Background(), p, domain.SubmitRequest{ServiceID: "1", Link: "l", Quantity: 1})
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProviderRequests.WithLabelValues("add", "ok")))
}

func TestCall_RateLimitedPerProvider(t *testing.T) {
	var hits atomic.Int32
	_, p := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"order": 1}`))
	})

	// One token, refilled far slower than the timeout.
	c := NewClient(nil, Config{Timeout: 50 * time.Millisecond, RatePerSecond: 0.001, Burst: 1}, zerolog.Nop(), nil)
	req := domain.SubmitRequest{ServiceID: "1", Link: "l", Quantity: 1}

	_, err := c.Submit(context.Background(), p, req)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), p, req)
	requireProviderError(t, err, domain.ProviderUnreachable)
	assert.Equal(t, int32(1), hits.Load())

	other := *p
	other.ID = "prov-2"
	_, err = c.Submit(context.Background(), &other, req)
	require.NoError(t, err)
}
