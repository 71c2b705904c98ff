package userclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/storefront/pkg/auth"
	"github.com/example/storefront/pkg/metrics"
	"go.uber.org/zap"
)

var (
	// ErrAuthenticationFailed covers every way a verification can fail:
	// rejection, unreachable host, timeout or a malformed body.
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrCustomerUnavailable  = errors.New("customer info unavailable")
)

const maxBodyBytes = 1 << 20

type BaseURLResolver interface {
	BaseURL(ctx context.Context) string
}

// Client talks to the user service over HTTP. Calls are never retried and
// verification results are never cached.
type Client struct {
	resolver   BaseURLResolver
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// New builds a client whose calls give up after timeout. m may be nil.
func New(resolver BaseURLResolver, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Client {
	return &Client{
		resolver:   resolver,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		metrics:    m,
	}
}

// Verify forwards the Authorization header verbatim to the user service's
// verify endpoint and returns the identity it vouches for.
func (c *Client) Verify(ctx context.Context, authorization string) (*auth.Identity, error) {
	start := time.Now()
	id, outcome, err := c.verify(ctx, authorization)
	c.observe("verify", outcome, start)
	if err != nil {
		c.logger.Info("Token verification failed", zap.String("outcome", outcome), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return id, nil
}

func (c *Client) verify(ctx context.Context, authorization string) (*auth.Identity, string, error) {
	resp, err := c.get(ctx, "/auth/verify/", authorization)
	if err != nil {
		return nil, "error", err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, "rejected", fmt.Errorf("verify returned status %d", resp.StatusCode)
	}

	var id auth.Identity
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&id); err != nil {
		return nil, "malformed", fmt.Errorf("failed to decode verify response: %w", err)
	}
	if id.UserID == 0 || id.Username == "" {
		return nil, "malformed", errors.New("verify response is missing user_id or username")
	}
	return &id, "ok", nil
}

// Customer fetches the user profile for customerID. The caller's
// Authorization header, when present, is forwarded so the user service can
// decide whether the caller may see that profile.
func (c *Client) Customer(ctx context.Context, customerID uint, authorization string) (map[string]any, error) {
	start := time.Now()
	info, outcome, err := c.customer(ctx, customerID, authorization)
	c.observe("customer", outcome, start)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCustomerUnavailable, err)
	}
	return info, nil
}

func (c *Client) customer(ctx context.Context, customerID uint, authorization string) (map[string]any, string, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/users/%d/", customerID), authorization)
	if err != nil {
		return nil, "error", err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, "rejected", fmt.Errorf("user lookup returned status %d", resp.StatusCode)
	}

	var info map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&info); err != nil {
		return nil, "malformed", fmt.Errorf("failed to decode user response: %w", err)
	}
	return info, "ok", nil
}

func (c *Client) get(ctx context.Context, path, authorization string) (*http.Response, error) {
	url := strings.TrimRight(c.resolver.BaseURL(ctx), "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return c.httpClient.Do(req)
}

func (c *Client) observe(call, outcome string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamCalls.WithLabelValues(call, outcome).Inc()
	c.metrics.UpstreamLatency.WithLabelValues(call).Observe(time.Since(start).Seconds())
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
}
