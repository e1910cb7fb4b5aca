package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/infrastructure/metrics"
)

// API actions.
const (
	actionAdd          = "add"
	actionStatus       = "status"
	actionRefill       = "refill"
	actionRefillStatus = "refill_status"
)

const maxResponseBytes = 1 << 20

// Config holds provider client settings.
type Config struct {
	// Timeout bounds every call, including time spent waiting on the rate limiter.
	Timeout time.Duration
	// RatePerSecond and Burst size the token bucket kept for each provider.
	RatePerSecond float64
	Burst         int
}

// Client implements usecase.ProviderGateway against the SMM panel API v2:
// form-encoded POSTs to the provider's base URL answered with JSON.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a provider client. A nil httpClient uses a default one.
func NewClient(httpClient *http.Client, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger.With().Str("component", "provider_client").Logger(),
		metrics:    m,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Submit places an order upstream and returns the provider's order id.
func (c *Client) Submit(ctx context.Context, p *domain.UpstreamProvider, req domain.SubmitRequest) (string, error) {
	form := url.Values{}
	form.Set("service", req.ServiceID)
	form.Set("link", req.Link)
	form.Set("quantity", strconv.FormatInt(req.Quantity, 10))
	if req.DripFeed != nil {
		form.Set("runs", strconv.FormatInt(req.DripFeed.Runs, 10))
		form.Set("interval", strconv.FormatInt(req.DripFeed.Interval, 10))
	}

	var resp addResponse
	if err := c.call(ctx, p, actionAdd, form, &resp); err != nil {
		return "", err
	}

	if resp.Order == "" {
		return "", c.malformed(p, actionAdd, "response has no order id", nil)
	}

	return string(resp.Order), nil
}

// QueryStatus fetches the provider's view of an order.
func (c *Client) QueryStatus(ctx context.Context, p *domain.UpstreamProvider, upstreamOrderID string) (*domain.ProviderOrderStatus, error) {
	form := url.Values{}
	form.Set("order", upstreamOrderID)

	var resp statusResponse
	if err := c.call(ctx, p, actionStatus, form, &resp); err != nil {
		return nil, err
	}

	if resp.Status == "" {
		return nil, c.malformed(p, actionStatus, "response has no status", nil)
	}

	return &domain.ProviderOrderStatus{
		Status:     domain.ParseUpstreamOrderStatus(string(resp.Status)),
		RawStatus:  string(resp.Status),
		StartCount: int64(resp.StartCount),
		Remains:    int64(resp.Remains),
		Charge:     resp.Charge.Decimal,
		Currency:   string(resp.Currency),
	}, nil
}

// RequestRefill asks the provider to refill an order and returns the refill id.
func (c *Client) RequestRefill(ctx context.Context, p *domain.UpstreamProvider, upstreamOrderID string) (string, error) {
	form := url.Values{}
	form.Set("order", upstreamOrderID)

	var resp refillResponse
	if err := c.call(ctx, p, actionRefill, form, &resp); err != nil {
		return "", err
	}

	if resp.Refill == "" {
		return "", c.malformed(p, actionRefill, "response has no refill id", nil)
	}

	return string(resp.Refill), nil
}

// QueryRefillStatus fetches the state of a refill. Unknown upstream states map to "".
func (c *Client) QueryRefillStatus(ctx context.Context, p *domain.UpstreamProvider, refillID string) (domain.RefillStatus, error) {
	form := url.Values{}
	form.Set("refill", refillID)

	var resp refillStatusResponse
	if err := c.call(ctx, p, actionRefillStatus, form, &resp); err != nil {
		return "", err
	}

	if resp.Status == "" {
		return "", c.malformed(p, actionRefillStatus, "response has no status", nil)
	}

	return domain.ParseUpstreamRefillStatus(string(resp.Status)), nil
}

// call performs one API request and decodes a successful body into out.
// Every error it returns is a *domain.ProviderError.
func (c *Client) call(ctx context.Context, p *domain.UpstreamProvider, action string, form url.Values, out any) (err error) {
	start := time.Now()
	defer func() {
		c.observe(action, start, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter(p.ID).Wait(ctx); err != nil {
		return c.unreachable(p, action, 0, "rate limit wait: "+err.Error(), err)
	}

	form.Set("key", p.APIKey)
	form.Set("action", action)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return &domain.ProviderError{
			Category:   domain.ProviderRejected,
			ProviderID: p.ID,
			Action:     action,
			Message:    "invalid provider url",
			Err:        err,
		}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.unreachable(p, action, 0, transportMessage(err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.unreachable(p, action, resp.StatusCode, "read response body", err)
	}

	var rejection errorResponse
	_ = json.Unmarshal(body, &rejection)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return c.unreachable(p, action, resp.StatusCode, firstNonEmpty(string(rejection.Error), http.StatusText(resp.StatusCode)), nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return &domain.ProviderError{
			Category:   domain.ProviderRejected,
			ProviderID: p.ID,
			Action:     action,
			Message:    firstNonEmpty(string(rejection.Error), http.StatusText(resp.StatusCode)),
			StatusCode: resp.StatusCode,
		}
	case rejection.Error != "":
		return &domain.ProviderError{
			Category:   domain.ProviderRejected,
			ProviderID: p.ID,
			Action:     action,
			Message:    string(rejection.Error),
			StatusCode: resp.StatusCode,
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return c.malformed(p, action, "decode response: "+err.Error(), err)
	}

	return nil
}

func (c *Client) limiter(providerID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[providerID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.RatePerSecond), c.cfg.Burst)
		c.limiters[providerID] = l
	}

	return l
}

func (c *Client) observe(action string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		var perr *domain.ProviderError
		if errors.As(err, &perr) {
			outcome = perr.Category.String()
		}
		c.logger.Warn().Err(err).Str("action", action).Msg("provider call failed")
	}

	if c.metrics == nil {
		return
	}

	c.metrics.ProviderRequests.WithLabelValues(action, outcome).Inc()
	c.metrics.ProviderDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

func (c *Client) unreachable(p *domain.UpstreamProvider, action string, status int, msg string, err error) *domain.ProviderError {
	return &domain.ProviderError{
		Category:   domain.ProviderUnreachable,
		ProviderID: p.ID,
		Action:     action,
		Message:    msg,
		StatusCode: status,
		Err:        err,
	}
}

func (c *Client) malformed(p *domain.UpstreamProvider, action, msg string, err error) *domain.ProviderError {
	return &domain.ProviderError{
		Category:   domain.ProviderMalformedResponse,
		ProviderID: p.ID,
		Action:     action,
		Message:    msg,
		Err:        err,
	}
}

func transportMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "request cancelled"
	}

	return fmt.Sprintf("transport error: %v", err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
