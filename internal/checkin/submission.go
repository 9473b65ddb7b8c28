// Package checkin implements the daily check-in fraud pipeline: a linear
// sequence of filters gating a one-per-day reward grant. Each stage rejects
// with a distinct HTTP status; the first failure short-circuits.
package checkin

import (
	"net/http"
	"time"
)

// Submission carries one check-in attempt: the JSON body fields plus the
// request metadata the heuristics inspect.
type Submission struct {
	UserID          int64  `json:"user_id"`
	ChatID          int64  `json:"chat_id,omitempty"`
	MessageID       int    `json:"message_id,omitempty"`
	Timestamp       int64  `json:"timestamp"` // client clock, unix milliseconds
	Nonce           string `json:"nonce"`
	TurnstileToken  string `json:"turnstile_token"`
	RecaptchaToken  string `json:"recaptcha_v3_token,omitempty"`
	WebAppData      string `json:"webapp_data,omitempty"`
	Interactions    int    `json:"interactions,omitempty"`
	SessionDuration int64  `json:"session_duration,omitempty"` // milliseconds
	PageLoadTime    int64  `json:"page_load_time,omitempty"`   // unix milliseconds

	// Filled from the request, not the JSON body.
	UserAgent string      `json:"-"`
	RemoteIP  string      `json:"-"`
	Headers   http.Header `json:"-"`
}

// Result is a successful grant.
type Result struct {
	Reward     int64
	NewBalance int64
}

// Rejection is a pipeline failure. Stage and Code are bounded label values
// for metrics; Reason is the free-form detail for the logs; Message and
// Status are what the client sees.
type Rejection struct {
	Status  int
	Stage   string
	Code    string
	Reason  string
	Message string
}

func (r *Rejection) Error() string { return r.Stage + ": " + r.Reason }

// Pipeline stage names, used as the metric stage label.
const (
	StageFeatureFlag = "feature_flag"
	StageRateLimit   = "rate_limit"
	StageHeuristics  = "heuristics"
	StageReplay      = "replay"
	StageIdentity    = "identity"
	StageCaptcha     = "captcha"
	StageRiskScore   = "risk_score"
	StageUserLookup  = "user_lookup"
	StageDuplicate   = "duplicate"
	StageGrant       = "grant"
)

// Client-facing messages stay generic so rejections leak nothing about which
// defense tripped. The specific reason goes to the logs only.
const (
	msgDisabled    = "Check-in is currently unavailable."
	msgRateLimited = "Too many attempts. Please try again later."
	msgSuspicious  = "Check-in request could not be verified."
	msgInvalid     = "Verification failed. Please reload the page and try again."
	msgMismatch    = "Identity verification failed."
	msgUnknownUser = "Account not found. Please register first."
	msgDuplicate   = "You have already checked in today."
	msgUnavailable = "Verification service is temporarily unavailable. Please try again later."
	msgInternal    = "Something went wrong. Please try again later."
)

func reject(status int, stage, code, reason, message string) *Rejection {
	return &Rejection{Status: status, Stage: stage, Code: code, Reason: reason, Message: message}
}

func clientTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
