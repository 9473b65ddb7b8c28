package logger

import (
	"bytes"
	"strings"
	"testing"
)

func redact(input string) string {
	var buf bytes.Buffer
	w := NewRedactWriter(&buf)
	_, _ = w.Write([]byte(input))
	return buf.String()
}

func TestRedactBotToken(t *testing.T) {
	cases := []struct {
		input    string
		contains string
	}{
		{`BOT_TOKEN=12345:AAHsfkjhKJHkjhkJHKjhGkjh`, "BOT_TOKEN="},
		{`"bot_token":"12345:AAHsfkjhKJHkjhkJHKjhGkjh"`, `"bot_token":"`},
		{`POST https://api.telegram.org/bot12345:AAHsfkjh-KJH_kjh/sendMessage`, "api.telegram.org/bot"},
	}
	for _, c := range cases {
		got := redact(c.input)
		if !strings.Contains(got, c.contains) {
			t.Errorf("should contain %q, got: %q", c.contains, got)
		}
		if strings.Contains(got, "AAHsfkjh") {
			t.Errorf("token value should be redacted, got: %q", got)
		}
	}
}

func TestRedactCaptchaSecrets(t *testing.T) {
	for _, input := range []string{
		`TURNSTILE_SECRET_KEY=0x4AAAAAAAsecretsecret`,
		`recaptcha_secret_key="6LcSecretSecretSecret"`,
	} {
		got := redact(input)
		if strings.Contains(got, "ecretsecret") || strings.Contains(got, "SecretSecret") {
			t.Errorf("secret should be redacted, got: %q", got)
		}
	}
}

func TestRedactEmbyToken(t *testing.T) {
	input := `EMBY_API_KEY=abcdef1234567890XYZ X-Emby-Token: abcdef1234567890XYZ`
	got := redact(input)
	if strings.Contains(got, "abcdef1234567890XYZ") {
		t.Errorf("API key should be redacted, got: %q", got)
	}
	if !strings.Contains(got, "EMBY_API_KEY=") {
		t.Errorf("key name should be preserved, got: %q", got)
	}
}

func TestRedactPassword(t *testing.T) {
	got := redact(`REDIS_PASSWORD=hunter2`)
	if strings.Contains(got, "hunter2") {
		t.Errorf("password should be redacted, got: %q", got)
	}
}

func TestPassthroughCleanString(t *testing.T) {
	input := `{"level":"info","user":"alice","message":"check-in granted"}`
	got := redact(input)
	if got != input {
		t.Errorf("clean line should pass through unchanged, got: %q", got)
	}
}

func TestWriteReportsOriginalLength(t *testing.T) {
	var buf bytes.Buffer
	w := NewRedactWriter(&buf)
	input := []byte(`BOT_TOKEN=12345:AAHsfkjhKJHkjhkJHKjhGkjh` + "\n")
	n, err := w.Write(input)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(input) {
		t.Errorf("Write length: got %d, want %d", n, len(input))
	}
}
