package logger

import (
	"bytes"
	"io"
	"regexp"
)

// RedactWriter wraps an io.Writer and masks sensitive values before writing.
// It redacts the Telegram bot token, CAPTCHA secrets, the Emby API key, and
// the Redis password from log lines.
type RedactWriter struct {
	w          io.Writer
	patterns   []*regexp.Regexp
	redactWith string
}

var defaultPatterns = []*regexp.Regexp{
	// Bot token in key=value or "key":"value" form, and inside Bot API URLs
	regexp.MustCompile(`(?i)(bot_token["'\s:=]+)\S+`),
	regexp.MustCompile(`(api\.telegram\.org/bot)[0-9]+:[A-Za-z0-9\-_]+`),
	// CAPTCHA secrets
	regexp.MustCompile(`(?i)(turnstile_secret_key["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(recaptcha_secret_key["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(secret["'\s:=]+)[A-Za-z0-9\-_]{16,}`),
	// Emby API token in key=value form and in the auth header
	regexp.MustCompile(`(?i)(emby_api_key["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(X-Emby-Token["'\s:=]+)\S+`),
	// Redis credentials
	regexp.MustCompile(`(?i)(redis_password["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(password["'\s:=]+)\S+`),
}

// NewRedactWriter returns a RedactWriter that applies all default sensitive patterns.
func NewRedactWriter(w io.Writer) *RedactWriter {
	return &RedactWriter{
		w:          w,
		patterns:   defaultPatterns,
		redactWith: "[REDACTED]",
	}
}

// Write applies all redaction patterns before forwarding to the underlying writer.
func (r *RedactWriter) Write(p []byte) (int, error) {
	sanitized := p
	for _, re := range r.patterns {
		sanitized = re.ReplaceAll(sanitized, appendRedacted(re, r.redactWith))
	}
	n, err := r.w.Write(sanitized)
	// Return original length so callers don't get short-write errors
	// even if redaction changed the byte count.
	if n > len(sanitized) {
		n = len(sanitized)
	}
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// appendRedacted builds a replacement []byte that keeps capture group $1 + redactWith.
func appendRedacted(re *regexp.Regexp, redact string) []byte {
	// All our patterns have exactly one capture group for the key/prefix.
	var buf bytes.Buffer
	buf.WriteString("${1}")
	buf.WriteString(redact)
	return buf.Bytes()
}
