package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/embyguard/emby-guard/internal/cache"
	"github.com/embyguard/emby-guard/internal/checkin"
	"github.com/embyguard/emby-guard/internal/config"
	"github.com/embyguard/emby-guard/internal/emby"
	"github.com/embyguard/emby-guard/internal/gateway"
	"github.com/embyguard/emby-guard/internal/limiter"
	"github.com/embyguard/emby-guard/internal/logger"
	"github.com/embyguard/emby-guard/internal/notify"
	"github.com/embyguard/emby-guard/internal/server"
	"github.com/embyguard/emby-guard/internal/store"
	"github.com/embyguard/emby-guard/internal/telegram"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "guard",
		Short: "Authorization and notification gateway for an Emby media server",
	}

	root.AddCommand(
		runCmd(),
		healthcheckCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the gateway daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg)
	log.Info().Str("version", Version).Msg("emby-guard starting")

	users, err := store.NewBboltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer users.Close()

	policy := emby.NewClient(emby.ClientConfig{
		BaseURL: cfg.EmbyURL,
		APIKey:  cfg.EmbyAPIKey,
		Timeout: cfg.EmbyHTTPTimeout,
	}, log)

	sender := telegram.NewClient(cfg.BotToken, cfg.VerifyTimeout, log)

	decisions := cache.NewDecisionCache(cfg.AuthCooldown)
	hosts := cache.NewHostCache(cfg.HostCacheTTL)
	sessions := cache.NewPlaySessionCache(cfg.PlaySessionTTL, cfg.PlaySessionMaxSize)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	limits := buildLimiter(ctx, cfg, log)

	gw := gateway.New(gateway.Config{
		BannedHosts:   cfg.BannedHosts,
		AuditChatID:   cfg.AuditChatID,
		NotifyTimeout: cfg.VerifyTimeout,
	}, decisions, hosts, users, policy, sender, log)

	var recaptcha checkin.Verifier
	if cfg.RecaptchaSecretKey != "" {
		recaptcha = checkin.NewRecaptcha(cfg.RecaptchaSecretKey, cfg.RecaptchaMinScore, cfg.VerifyTimeout, log)
	}
	pipeline := checkin.New(checkin.Config{
		Enabled:     cfg.CheckinEnabled,
		RewardMin:   cfg.CheckinRewardMin,
		RewardMax:   cfg.CheckinRewardMax,
		NonceWindow: cfg.NonceWindow,
		Heuristics: checkin.HeuristicConfig{
			MinInteractions:    cfg.MinInteractions,
			MinSessionDuration: cfg.MinSessionDuration,
			MinPageLoadAge:     cfg.MinPageLoadAge,
			MaxPageLoadAge:     cfg.MaxPageLoadAge,
		},
		BotToken:      cfg.BotToken,
		LogChatID:     cfg.LogChatID,
		LogThreadID:   cfg.CheckinThreadID,
		NotifyTimeout: cfg.VerifyTimeout,
	}, limits, users,
		checkin.NewTurnstile(cfg.TurnstileSecretKey, cfg.VerifyTimeout, log),
		recaptcha, sender, log)

	notifier := notify.New(notify.Config{
		LogChatID:        cfg.LogChatID,
		LoginThreadID:    cfg.LoginThreadID,
		PlayThreadID:     cfg.PlayThreadID,
		IgnoredUsers:     cfg.IgnoredUsers,
		LoginNotifyDelay: cfg.LoginNotifyDelay,
		NotifyTimeout:    cfg.VerifyTimeout,
	}, hosts, sessions, users, sender, log)

	// Start janitor over the swept caches. The auth-decision cache is not
	// registered: its staleness check lives in the gateway's read path.
	janitor := cache.NewJanitor(map[string]cache.Sweepable{
		"host_association": hosts,
		"play_session":     sessions,
	}, users.SizeBytes, cfg.JanitorInterval, log)
	go func() {
		if err := janitor.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("janitor exited")
		}
	}()

	handler := server.NewRouter(server.RouterConfig{
		TurnstileSiteKey: cfg.TurnstileSiteKey,
		RecaptchaSiteKey: cfg.RecaptchaSiteKey,
		ThrottleRequests: cfg.ThrottleRequests,
		ThrottleWindow:   cfg.ThrottleWindow,
	}, gw, pipeline, notifier, func(r *http.Request) error {
		return policy.Ping(r.Context())
	}, log)

	srv := server.New(server.Config{
		ListenAddr:     cfg.ListenAddr,
		MetricsEnabled: cfg.MetricsEnabled,
		MetricsAddr:    cfg.MetricsAddr,
	}, handler, log)

	return srv.Run(ctx)
}

// buildLimiter picks the shared Redis backend when configured, with
// permanent in-process fallback, and the plain memory backend otherwise.
func buildLimiter(ctx context.Context, cfg *config.Config, log zerolog.Logger) limiter.Store {
	lcfg := limiter.Config{
		Window:      cfg.RateLimitWindow,
		MaxRequests: cfg.RateLimitMax,
		NonceWindow: cfg.NonceWindow,
	}
	memory := limiter.NewMemory(lcfg)

	if cfg.RedisAddr == "" {
		return memory
	}
	shared, err := limiter.NewRedis(ctx, lcfg, &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).
			Msg("redis unreachable at startup; using in-process limiter")
		return memory
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("using shared redis limiter")
	return limiter.NewDegrading(shared, memory, log)
}

// healthcheckCmd exits 0 if the daemon's health endpoint answers.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			resp, err := http.Get("http://" + probeAddr(cfg.ListenAddr) + "/healthz") //nolint:noctx
			if err != nil {
				fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
				os.Exit(1)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(os.Stderr, "healthcheck returned %d\n", resp.StatusCode)
				os.Exit(1)
			}
			fmt.Println("healthy")
			return nil
		},
	}
}

// probeAddr turns a listen address like ":8080" into a dialable one.
func probeAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("emby-guard %s\n", Version)
		},
	}
}

// buildLogger constructs a zerolog.Logger based on config.
func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if cfg.LogFormat == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(cw).Level(level).With().Timestamp().Logger()
	} else {
		redactWriter := logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(redactWriter).Level(level).With().Timestamp().Logger()
	}
	return base
}
