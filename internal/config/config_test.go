package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setEnv(t *testing.T, key, val string) {
	t.Helper()
	t.Setenv(key, val)
}

func setRequired(t *testing.T) {
	t.Helper()
	setEnv(t, "EMBY_URL", "https://emby.example.com")
	setEnv(t, "EMBY_API_KEY", "my-api-key")
	setEnv(t, "TURNSTILE_SECRET_KEY", "ts-secret")
}

func TestLoadMissingRequired(t *testing.T) {
	// Clear any env vars that might be set
	os.Unsetenv("EMBY_URL")
	os.Unsetenv("EMBY_API_KEY")
	os.Unsetenv("TURNSTILE_SECRET_KEY")

	_, err := Load()
	if err == nil {
		t.Error("expected error when EMBY_URL missing")
	}
}

func TestLoadMinimalValid(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EmbyURL != "https://emby.example.com" {
		t.Errorf("EmbyURL: got %q", cfg.EmbyURL)
	}
	if cfg.EmbyAPIKey != "my-api-key" {
		t.Errorf("EmbyAPIKey: got %q", cfg.EmbyAPIKey)
	}
}

func TestDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuthCooldown != 300*time.Second {
		t.Errorf("AuthCooldown: got %s", cfg.AuthCooldown)
	}
	if cfg.RateLimitWindow != 900*time.Second || cfg.RateLimitMax != 3 {
		t.Errorf("rate limit defaults: %s / %d", cfg.RateLimitWindow, cfg.RateLimitMax)
	}
	if cfg.PlaySessionMaxSize != 500 {
		t.Errorf("PlaySessionMaxSize: got %d", cfg.PlaySessionMaxSize)
	}
	if cfg.RecaptchaMinScore != 0.3 {
		t.Errorf("RecaptchaMinScore: got %v", cfg.RecaptchaMinScore)
	}
}

func TestFileSecretInjection(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "bot_token.txt")
	if err := os.WriteFile(keyFile, []byte("  12345:secret-from-file  \n"), 0600); err != nil {
		t.Fatal(err)
	}

	setRequired(t)
	setEnv(t, "BOT_TOKEN_FILE", keyFile)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with file secret: %v", err)
	}
	if cfg.BotToken != "12345:secret-from-file" {
		t.Errorf("expected trimmed file secret, got %q", cfg.BotToken)
	}
}

func TestCSVListsSplit(t *testing.T) {
	setRequired(t)
	setEnv(t, "BANNED_HOSTS", "cheap.example.com, free.example.com ,")
	setEnv(t, "IGNORED_USERS", "admin,bot-account")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.BannedHosts) != 2 || cfg.BannedHosts[1] != "free.example.com" {
		t.Errorf("BannedHosts: %v", cfg.BannedHosts)
	}
	if len(cfg.IgnoredUsers) != 2 || cfg.IgnoredUsers[0] != "admin" {
		t.Errorf("IgnoredUsers: %v", cfg.IgnoredUsers)
	}
}

func TestQuoteStripping(t *testing.T) {
	setRequired(t)
	setEnv(t, "EMBY_API_KEY", `"quoted-key"`)
	setEnv(t, "DATA_DIR", `'/var/lib/guard'`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EmbyAPIKey != "quoted-key" {
		t.Errorf("EmbyAPIKey: got %q", cfg.EmbyAPIKey)
	}
	if cfg.DataDir != "/var/lib/guard" {
		t.Errorf("DataDir: got %q", cfg.DataDir)
	}
}

func TestInvalidEmbyURL(t *testing.T) {
	setRequired(t)
	setEnv(t, "EMBY_URL", "emby.example.com")

	if _, err := Load(); err == nil {
		t.Error("expected error for EMBY_URL without scheme")
	}
}

func TestTurnstileRequiredWhenCheckinEnabled(t *testing.T) {
	setRequired(t)
	setEnv(t, "TURNSTILE_SECRET_KEY", "")
	setEnv(t, "CHECKIN_ENABLED", "true")

	if _, err := Load(); err == nil {
		t.Error("expected error for enabled check-in without turnstile secret")
	}
}

func TestRecaptchaKeysMustBePaired(t *testing.T) {
	setRequired(t)
	setEnv(t, "RECAPTCHA_SITE_KEY", "site-only")

	if _, err := Load(); err == nil {
		t.Error("expected error for recaptcha site key without secret")
	}
}

func TestInvalidRewardRange(t *testing.T) {
	setRequired(t)
	setEnv(t, "CHECKIN_REWARD_MIN", "10")
	setEnv(t, "CHECKIN_REWARD_MAX", "1")

	if _, err := Load(); err == nil {
		t.Error("expected error for inverted reward range")
	}
}

func TestInvalidPageLoadWindow(t *testing.T) {
	setRequired(t)
	setEnv(t, "MIN_PAGE_LOAD_AGE", "30s")
	setEnv(t, "MAX_PAGE_LOAD_AGE", "25s")

	if _, err := Load(); err == nil {
		t.Error("expected error for inverted page-load window")
	}
}

func TestInvalidLogLevel(t *testing.T) {
	setRequired(t)
	setEnv(t, "LOG_LEVEL", "verbose")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid LOG_LEVEL")
	}
}
