// Package gateway implements the per-request authorization decision for
// proxied media-server traffic. It answers the reverse proxy's sub-request
// auth check: allow or deny, with ban side effects on policy violations.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/embyguard/emby-guard/internal/cache"
	"github.com/embyguard/emby-guard/internal/emby"
	"github.com/embyguard/emby-guard/internal/metrics"
	"github.com/embyguard/emby-guard/internal/store"
	"github.com/embyguard/emby-guard/internal/telegram"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// userIDPattern extracts the 32-hex media-server user id from a request path.
var userIDPattern = regexp.MustCompile(`(?i)Users/([a-fA-F0-9]{32})`)

// Decision sources for metrics and logging.
const (
	sourceNonGET       = "non_get"
	sourceUnidentified = "unidentified"
	sourceCache        = "cache"
	sourceUnknownUser  = "unknown_user"
	sourceStoreError   = "store_error"
	sourcePolicy       = "policy"
)

// Verdict is the outcome of a gateway decision.
type Verdict struct {
	Allowed bool
	Source  string
}

// Config holds gateway policy parameters.
type Config struct {
	// BannedHosts lists reverse-proxy hosts that standard users must not
	// use; a hit triggers the automatic ban.
	BannedHosts []string
	// AuditChatID receives ban notices and operator alerts.
	AuditChatID int64
	// NotifyTimeout bounds each asynchronous notification send.
	NotifyTimeout time.Duration
}

// Gateway decides allow/deny for each proxied request.
type Gateway struct {
	bannedHosts map[string]struct{}
	auditChatID int64
	notifyTO    time.Duration

	decisions *cache.DecisionCache
	hosts     *cache.HostCache
	users     store.Store
	policy    emby.PolicyClient
	sender    telegram.Sender
	log       zerolog.Logger

	flights singleflight.Group
}

// New constructs a Gateway.
func New(cfg Config, decisions *cache.DecisionCache, hosts *cache.HostCache,
	users store.Store, policy emby.PolicyClient, sender telegram.Sender,
	log zerolog.Logger) *Gateway {

	banned := make(map[string]struct{}, len(cfg.BannedHosts))
	for _, h := range cfg.BannedHosts {
		banned[h] = struct{}{}
	}
	if cfg.NotifyTimeout == 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	return &Gateway{
		bannedHosts: banned,
		auditChatID: cfg.AuditChatID,
		notifyTO:    cfg.NotifyTimeout,
		decisions:   decisions,
		hosts:       hosts,
		users:       users,
		policy:      policy,
		sender:      sender,
		log:         log,
	}
}

// Decide evaluates one proxied request.
//
// The gateway only gates identified GET traffic: non-GET methods and URLs
// without a recognizable user token are always allowed. Identified requests
// are answered from the decision cache within the cooldown window so repeats
// are byte-identical and side effects fire at most once.
func (g *Gateway) Decide(ctx context.Context, method, fullURL, host string) Verdict {
	if method != "GET" {
		return g.allow(sourceNonGET)
	}

	m := userIDPattern.FindStringSubmatch(fullURL)
	if m == nil {
		return g.allow(sourceUnidentified)
	}
	userID := m[1]

	// Host association is recorded on every parsed request, regardless of
	// the decision outcome; the event notifier reads it later.
	if host != "" {
		g.hosts.Put(userID, host)
	}

	if d, ok := g.decisions.Get(userID, host); ok {
		if d.Allowed {
			return g.allow(sourceCache)
		}
		return g.deny(sourceCache)
	}

	// Concurrent first requests for the same user and host coalesce into one
	// store load and one decision, so the ban side effects cannot fire more
	// than once for a single violation.
	res, _, _ := g.flights.Do(userID+"\x00"+host, func() (any, error) {
		return g.resolve(ctx, userID, host), nil
	})
	v := res.(Verdict)
	if v.Allowed {
		return g.allow(v.Source)
	}
	return g.deny(v.Source)
}

// resolve loads the user record and evaluates policy, caching the outcome.
// Runs at most once per in-flight (user, host) pair.
func (g *Gateway) resolve(ctx context.Context, userID, host string) Verdict {
	// A caller may start a fresh flight right after a finished one populated
	// the cache; its cache check in Decide predates that write.
	if d, ok := g.decisions.Get(userID, host); ok {
		return Verdict{Allowed: d.Allowed, Source: sourceCache}
	}

	rec, err := g.users.GetByEmbyID(userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			// The gateway is not the source of truth for account existence.
			return Verdict{Allowed: true, Source: sourceUnknownUser}
		}
		g.log.Error().Err(err).Str("user", userID).Msg("user record load failed; failing open")
		return Verdict{Allowed: true, Source: sourceStoreError}
	}

	switch rec.Level {
	case store.Trusted:
		g.decisions.Put(userID, host, true)
		return Verdict{Allowed: true, Source: sourcePolicy}

	case store.Standard:
		if _, banned := g.bannedHosts[host]; banned {
			g.log.Warn().Str("user", rec.Name).Int64("tg", rec.TelegramID).Str("host", host).
				Msg("standard user on banned host; triggering ban")
			g.decisions.Put(userID, host, false)
			g.triggerBan(ctx, userID, rec)
			return Verdict{Allowed: false, Source: sourcePolicy}
		}
		g.decisions.Put(userID, host, true)
		return Verdict{Allowed: true, Source: sourcePolicy}

	default:
		g.decisions.Put(userID, host, false)
		return Verdict{Allowed: false, Source: sourcePolicy}
	}
}

// triggerBan performs the side effects of a policy violation: the external
// ban call, the trust-level persist, and the notifications. The local level
// changes only after the ban API reports success.
func (g *Gateway) triggerBan(ctx context.Context, userID string, rec *store.UserRecord) {
	if err := g.policy.DisableUser(ctx, userID); err != nil {
		metrics.BansTriggered.WithLabelValues("failure").Inc()
		g.log.Error().Err(err).Str("user", rec.Name).Int64("tg", rec.TelegramID).
			Msg("ban API call failed; manual intervention required")
		g.notifyAsync("ban_failed", telegram.Message{
			ChatID:    g.auditChatID,
			ParseMode: "Markdown",
			Text: fmt.Sprintf(
				"🔥 *Ban failure alert* 🔥\n\n"+
					"👤 User: [%s](tg://user?id=%d) - `%d`\n"+
					"⛔️ Status: automatic ban FAILED\n\n"+
					"‼️ *Check and ban this account manually now.*",
				rec.Name, rec.TelegramID, rec.TelegramID),
		}, 0)
		return
	}

	metrics.BansTriggered.WithLabelValues("success").Inc()
	if err := g.users.SetTrustLevel(userID, store.Banned); err != nil {
		g.log.Error().Err(err).Str("user", userID).Msg("persisting banned level failed")
	}

	g.notifyAsync("ban_notice", telegram.Message{
		ChatID:    g.auditChatID,
		ParseMode: "Markdown",
		Text: fmt.Sprintf(
			"🚨 *Automatic ban notice* 🚨\n\n"+
				"👤 User: [%s](tg://user?id=%d) - `%d`\n"+
				"⛔️ Status: banned automatically\n\n"+
				"📌 Reason: unauthorized request line detected\n"+
				"‼️ Contact an administrator if this is a mistake",
			rec.Name, rec.TelegramID, rec.TelegramID),
	}, rec.TelegramID)
}

// notifyAsync delivers a notification off the request path. A forwardTo of
// zero skips the auto-forward to the violator.
func (g *Gateway) notifyAsync(kind string, msg telegram.Message, forwardTo int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.notifyTO)
		defer cancel()

		msgID, err := g.sender.SendMessage(ctx, msg)
		if err != nil {
			metrics.NotificationsSent.WithLabelValues(kind, "error").Inc()
			g.log.Error().Err(err).Str("kind", kind).Msg("telegram notification failed")
			return
		}
		metrics.NotificationsSent.WithLabelValues(kind, "ok").Inc()

		if forwardTo != 0 {
			if err := g.sender.ForwardMessage(ctx, forwardTo, msg.ChatID, msgID); err != nil {
				metrics.NotificationsSent.WithLabelValues(kind+"_forward", "error").Inc()
				g.log.Error().Err(err).Str("kind", kind).Msg("telegram forward failed")
				return
			}
			metrics.NotificationsSent.WithLabelValues(kind+"_forward", "ok").Inc()
		}
	}()
}

func (g *Gateway) allow(source string) Verdict {
	metrics.AuthDecisions.WithLabelValues("allow", source).Inc()
	return Verdict{Allowed: true, Source: source}
}

func (g *Gateway) deny(source string) Verdict {
	metrics.AuthDecisions.WithLabelValues("deny", source).Inc()
	return Verdict{Allowed: false, Source: source}
}
