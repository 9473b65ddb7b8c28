package checkin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/embyguard/emby-guard/internal/metrics"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Verifier checks one CAPTCHA proof token against its provider.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

var (
	// ErrCaptchaFailed means the provider rejected the token (request-invalid).
	ErrCaptchaFailed = errors.New("captcha verification failed")
	// ErrCaptchaUnavailable means the provider could not be reached or
	// answered garbage (service-unavailable, a distinct failure class).
	ErrCaptchaUnavailable = errors.New("captcha service unavailable")
)

const (
	turnstileURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
	recaptchaURL = "https://www.google.com/recaptcha/api/siteverify"
)

// siteverifyResponse is the common shape of both providers' answers.
type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	ErrorCodes []string `json:"error-codes"`
}

type captchaClient struct {
	service  string
	endpoint string
	secret   string
	minScore float64
	http     *http.Client
	log      zerolog.Logger
}

// NewTurnstile constructs a Cloudflare Turnstile verifier.
func NewTurnstile(secret string, timeout time.Duration, log zerolog.Logger) Verifier {
	return &captchaClient{
		service:  "turnstile",
		endpoint: turnstileURL,
		secret:   secret,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

// NewRecaptcha constructs a reCAPTCHA v3 verifier; tokens scoring below
// minScore are rejected.
func NewRecaptcha(secret string, minScore float64, timeout time.Duration, log zerolog.Logger) Verifier {
	return &captchaClient{
		service:  "recaptcha",
		endpoint: recaptchaURL,
		secret:   secret,
		minScore: minScore,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

func (c *captchaClient) Verify(ctx context.Context, token, remoteIP string) error {
	form := url.Values{
		"secret":   {c.secret},
		"response": {token},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.APICalls.WithLabelValues(c.service, "siteverify", "error").Inc()
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	defer resp.Body.Close()
	metrics.APICalls.WithLabelValues(c.service, "siteverify", fmt.Sprintf("%dxx", resp.StatusCode/100)).Inc()
	metrics.APIDuration.WithLabelValues(c.service, "siteverify").Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrCaptchaUnavailable, err)
	}

	var result siteverifyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrCaptchaUnavailable, err)
	}

	if !result.Success {
		c.log.Debug().Str("service", c.service).Strs("codes", result.ErrorCodes).
			Msg("captcha token rejected")
		return ErrCaptchaFailed
	}
	if c.minScore > 0 && result.Score < c.minScore {
		c.log.Debug().Str("service", c.service).Float64("score", result.Score).
			Msg("risk score below threshold")
		return fmt.Errorf("%w: score %.2f below %.2f", ErrCaptchaFailed, result.Score, c.minScore)
	}
	return nil
}
