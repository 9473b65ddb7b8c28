package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
type Config struct {
	// Emby server connection
	EmbyURL         string        `koanf:"emby_url"`
	EmbyAPIKey      string        `koanf:"emby_api_key"`
	EmbyHTTPTimeout time.Duration `koanf:"emby_http_timeout"`

	// Auth gateway
	BannedHosts  []string      `koanf:"banned_hosts"`
	AuthCooldown time.Duration `koanf:"auth_cooldown"`

	// Shared caches
	HostCacheTTL       time.Duration `koanf:"host_cache_ttl"`
	PlaySessionTTL     time.Duration `koanf:"play_session_ttl"`
	PlaySessionMaxSize int           `koanf:"play_session_max_size"`
	JanitorInterval    time.Duration `koanf:"janitor_interval"`

	// Check-in pipeline
	CheckinEnabled     bool          `koanf:"checkin_enabled"`
	CheckinRewardMin   int64         `koanf:"checkin_reward_min"`
	CheckinRewardMax   int64         `koanf:"checkin_reward_max"`
	RateLimitWindow    time.Duration `koanf:"ratelimit_window"`
	RateLimitMax       int           `koanf:"ratelimit_max"`
	NonceWindow        time.Duration `koanf:"nonce_window"`
	MinInteractions    int           `koanf:"min_interactions"`
	MinSessionDuration time.Duration `koanf:"min_session_duration"`
	MinPageLoadAge     time.Duration `koanf:"min_page_load_age"`
	MaxPageLoadAge     time.Duration `koanf:"max_page_load_age"`

	// CAPTCHA providers
	TurnstileSiteKey   string        `koanf:"turnstile_site_key"`
	TurnstileSecretKey string        `koanf:"turnstile_secret_key"`
	RecaptchaSiteKey   string        `koanf:"recaptcha_site_key"`
	RecaptchaSecretKey string        `koanf:"recaptcha_secret_key"`
	RecaptchaMinScore  float64       `koanf:"recaptcha_min_score"`
	VerifyTimeout      time.Duration `koanf:"verify_timeout"`

	// Telegram notifications
	BotToken         string        `koanf:"bot_token"`
	AuditChatID      int64         `koanf:"audit_chat_id"`
	LogChatID        int64         `koanf:"log_chat_id"`
	LoginThreadID    int           `koanf:"login_thread_id"`
	PlayThreadID     int           `koanf:"play_thread_id"`
	CheckinThreadID  int           `koanf:"checkin_thread_id"`
	IgnoredUsers     []string      `koanf:"ignored_users"`
	LoginNotifyDelay time.Duration `koanf:"login_notify_delay"`

	// Redis (optional shared backend for rate-limit/nonce stores)
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// Storage
	DataDir string `koanf:"data_dir"`

	// HTTP edge throttle (per-IP, in front of the pipeline's own limiter)
	ThrottleRequests int           `koanf:"throttle_requests"`
	ThrottleWindow   time.Duration `koanf:"throttle_window"`

	// Operational
	ListenAddr     string `koanf:"listen_addr"`
	MetricsEnabled bool   `koanf:"metrics_enabled"`
	MetricsAddr    string `koanf:"metrics_addr"`
	LogLevel       string `koanf:"log_level"`
	LogFormat      string `koanf:"log_format"`
}

// sanitise removes a single layer of matching surrounding quotes from all string
// fields and string slice elements. This normalises values from Docker --env-file
// which does not strip shell quoting.
func (c *Config) sanitise() {
	c.EmbyURL = stripEnvQuotes(c.EmbyURL)
	c.EmbyAPIKey = stripEnvQuotes(c.EmbyAPIKey)
	c.TurnstileSiteKey = stripEnvQuotes(c.TurnstileSiteKey)
	c.TurnstileSecretKey = stripEnvQuotes(c.TurnstileSecretKey)
	c.RecaptchaSiteKey = stripEnvQuotes(c.RecaptchaSiteKey)
	c.RecaptchaSecretKey = stripEnvQuotes(c.RecaptchaSecretKey)
	c.BotToken = stripEnvQuotes(c.BotToken)
	c.RedisAddr = stripEnvQuotes(c.RedisAddr)
	c.RedisPassword = stripEnvQuotes(c.RedisPassword)
	c.DataDir = stripEnvQuotes(c.DataDir)
	c.ListenAddr = stripEnvQuotes(c.ListenAddr)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)

	for i, s := range c.BannedHosts {
		c.BannedHosts[i] = stripEnvQuotes(s)
	}
	for i, s := range c.IgnoredUsers {
		c.IgnoredUsers[i] = stripEnvQuotes(s)
	}
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"emby_http_timeout":     "15s",
		"auth_cooldown":         "300s",
		"host_cache_ttl":        "600s",
		"play_session_ttl":      "7200s",
		"play_session_max_size": 500,
		"janitor_interval":      "60s",
		"checkin_enabled":       true,
		"checkin_reward_min":    1,
		"checkin_reward_max":    10,
		"ratelimit_window":      "900s",
		"ratelimit_max":         3,
		"nonce_window":          "5s",
		"min_interactions":      3,
		"min_session_duration":  "3s",
		"min_page_load_age":     "3s",
		"max_page_load_age":     "25s",
		"recaptcha_min_score":   0.3,
		"verify_timeout":        "10s",
		"login_notify_delay":    "2s",
		"redis_db":              0,
		"data_dir":              "/data",
		"throttle_requests":     30,
		"throttle_window":       "1m",
		"listen_addr":           ":8080",
		"metrics_enabled":       true,
		"metrics_addr":          ":9090",
		"log_level":             "info",
		"log_format":            "json",
	}
}

// stripEnvQuotes removes a single layer of matching surrounding single or double
// quotes from s. Only symmetric pairs are stripped: 'x' → x, "x" → x.
// Unpaired or mismatched quotes are left as-is.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Load reads configuration from environment variables, applying _FILE secret injection.
func Load() (*Config, error) {
	// Use "." as delimiter so that env vars with "_" in their names are
	// treated as flat keys, not nested paths. E.g. EMBY_URL → "emby_url"
	// maps to struct tag koanf:"emby_url" without any nesting.
	k := koanf.New(".")

	defs := defaults()
	if err := k.Load(&rawProvider{data: defs}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated list fields that koanf won't split automatically
	cfg.BannedHosts = splitCSV(k.String("banned_hosts"))
	cfg.IgnoredUsers = splitCSV(k.String("ignored_users"))

	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and semantic constraints.
func (c *Config) Validate() error {
	if c.EmbyURL == "" {
		return fmt.Errorf("EMBY_URL is required")
	}
	if !strings.HasPrefix(c.EmbyURL, "http://") && !strings.HasPrefix(c.EmbyURL, "https://") {
		return fmt.Errorf("EMBY_URL must start with http:// or https://; got %q", c.EmbyURL)
	}
	if c.EmbyAPIKey == "" {
		return fmt.Errorf("EMBY_API_KEY is required")
	}
	if c.CheckinEnabled && c.TurnstileSecretKey == "" {
		return fmt.Errorf("TURNSTILE_SECRET_KEY is required when check-in is enabled")
	}
	if (c.RecaptchaSiteKey == "") != (c.RecaptchaSecretKey == "") {
		return fmt.Errorf("RECAPTCHA_SITE_KEY and RECAPTCHA_SECRET_KEY must be set together")
	}
	if c.CheckinRewardMin < 0 || c.CheckinRewardMax < c.CheckinRewardMin {
		return fmt.Errorf("CHECKIN_REWARD_MIN..CHECKIN_REWARD_MAX must be a non-negative range; got %d..%d",
			c.CheckinRewardMin, c.CheckinRewardMax)
	}
	if c.RateLimitMax < 1 {
		return fmt.Errorf("RATELIMIT_MAX must be >= 1; got %d", c.RateLimitMax)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATELIMIT_WINDOW must be > 0; got %s", c.RateLimitWindow)
	}
	if c.NonceWindow <= 0 {
		return fmt.Errorf("NONCE_WINDOW must be > 0; got %s", c.NonceWindow)
	}
	if c.MinPageLoadAge > c.MaxPageLoadAge {
		return fmt.Errorf("MIN_PAGE_LOAD_AGE must be <= MAX_PAGE_LOAD_AGE; got %s > %s",
			c.MinPageLoadAge, c.MaxPageLoadAge)
	}
	if c.RecaptchaMinScore < 0 || c.RecaptchaMinScore > 1 {
		return fmt.Errorf("RECAPTCHA_MIN_SCORE must be within [0,1]; got %v", c.RecaptchaMinScore)
	}
	if c.AuthCooldown <= 0 {
		return fmt.Errorf("AUTH_COOLDOWN must be > 0; got %s", c.AuthCooldown)
	}
	if c.PlaySessionMaxSize < 1 {
		return fmt.Errorf("PLAY_SESSION_MAX_SIZE must be >= 1; got %d", c.PlaySessionMaxSize)
	}
	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	return nil
}

// injectFileSecrets reads _FILE env vars and injects their file contents.
var fileSecretKeys = []string{
	"emby_api_key",
	"turnstile_secret_key",
	"recaptcha_secret_key",
	"bot_token",
	"redis_password",
}

func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		fileKey := key + "_file"
		filePath := k.String(fileKey)
		if filePath == "" {
			envKey := strings.ToUpper(key) + "_FILE"
			filePath = os.Getenv(envKey)
		}
		if filePath == "" {
			continue
		}
		filePath = stripEnvQuotes(filePath)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading secret file for %s (%s): %w", key, filePath, err)
		}
		val := strings.TrimSpace(string(content))
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("setting %s from file: %w", key, err)
		}
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
