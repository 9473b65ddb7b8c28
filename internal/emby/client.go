// Package emby is the client for the media server's ban-policy API, the
// external system of record for account standing.
package emby

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/embyguard/emby-guard/internal/metrics"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// PolicyClient mutates account policy on the media server.
type PolicyClient interface {
	// DisableUser disables the account, revoking all access server-side.
	DisableUser(ctx context.Context, embyID string) error
	// Ping checks reachability for readiness probes.
	Ping(ctx context.Context) error
}

// ClientConfig holds parameters for constructing the Emby HTTP client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type client struct {
	cfg  ClientConfig
	http *http.Client
	log  zerolog.Logger
}

// NewClient constructs a PolicyClient.
func NewClient(cfg ClientConfig, log zerolog.Logger) PolicyClient {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &client{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		log: log,
	}
}

func (c *client) DisableUser(ctx context.Context, embyID string) error {
	body, err := json.Marshal(map[string]any{"IsDisabled": true})
	if err != nil {
		return fmt.Errorf("marshal policy body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/Users/%s/Policy", c.cfg.BaseURL, url.PathEscape(embyID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build policy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Emby-Token", c.cfg.APIKey)

	resp, err := c.do(req, "user_policy")
	if err != nil {
		return fmt.Errorf("set user policy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("set user policy: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/System/Ping", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	req.Header.Set("X-Emby-Token", c.cfg.APIKey)

	resp, err := c.do(req, "ping")
	if err != nil {
		return fmt.Errorf("emby ping: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("emby ping: HTTP %d", resp.StatusCode)
	}
	return nil
}

// do executes a request with metrics instrumentation.
func (c *client) do(req *http.Request, endpoint string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		metrics.APICalls.WithLabelValues("emby", endpoint, "error").Inc()
		return nil, err
	}

	statusLabel := fmt.Sprintf("%dxx", resp.StatusCode/100)
	metrics.APICalls.WithLabelValues("emby", endpoint, statusLabel).Inc()
	metrics.APIDuration.WithLabelValues("emby", endpoint).Observe(elapsed.Seconds())

	c.log.Debug().Str("endpoint", endpoint).Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).Msg("emby api response")
	return resp, nil
}
