package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/embyguard/emby-guard/internal/cache"
	"github.com/embyguard/emby-guard/internal/metrics"
	"github.com/embyguard/emby-guard/internal/store"
	"github.com/embyguard/emby-guard/internal/telegram"
	"github.com/rs/zerolog"
)

// Disposition classifies how an event was handled, for the HTTP layer.
type Disposition int

const (
	// Handled means the event was recognized (or harmlessly unknown).
	Handled Disposition = iota
	// SkippedUser means the event carried no usable identity or its user is
	// on the ignore list.
	SkippedUser
)

const (
	playbackSendRetries = 5
	playbackRetryDelay  = time.Second
)

// Config holds the notifier parameters.
type Config struct {
	LogChatID     int64
	LoginThreadID int
	PlayThreadID  int
	IgnoredUsers  []string

	// LoginNotifyDelay gives the gateway's host-association write time to
	// land before the login notification reads it.
	LoginNotifyDelay time.Duration

	NotifyTimeout time.Duration
}

// Notifier handles webhook events.
type Notifier struct {
	cfg     Config
	ignored map[string]struct{}

	hosts    *cache.HostCache
	sessions *cache.PlaySessionCache
	users    store.Store
	sender   telegram.Sender
	log      zerolog.Logger

	sleep func(time.Duration)
}

// New constructs a Notifier.
func New(cfg Config, hosts *cache.HostCache, sessions *cache.PlaySessionCache,
	users store.Store, sender telegram.Sender, log zerolog.Logger) *Notifier {

	ignored := make(map[string]struct{}, len(cfg.IgnoredUsers))
	for _, u := range cfg.IgnoredUsers {
		ignored[strings.ToLower(u)] = struct{}{}
	}
	if cfg.NotifyTimeout == 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	return &Notifier{
		cfg:      cfg,
		ignored:  ignored,
		hosts:    hosts,
		sessions: sessions,
		users:    users,
		sender:   sender,
		log:      log,
		sleep:    time.Sleep,
	}
}

// Handle dispatches one webhook event. Notification sends run off the
// request path; the returned disposition only reflects event classification.
func (n *Notifier) Handle(ev *WebhookEvent) Disposition {
	metrics.WebhookEvents.WithLabelValues(ev.Event).Inc()

	if ev.User.ID == "" {
		n.log.Debug().Str("event", ev.Event).Msg("event without user id, skipping")
		return SkippedUser
	}
	if _, skip := n.ignored[strings.ToLower(ev.User.Name)]; skip {
		n.log.Debug().Str("user", ev.User.Name).Str("event", ev.Event).Msg("ignored user, skipping")
		return SkippedUser
	}

	switch ev.Event {
	case "user.authenticated":
		go n.notifyLogin(ev)
	case "playback.start":
		go n.notifyPlaybackStart(ev)
	case "playback.stop", "playback.pause", "playback.sessionended":
		go n.notifyPlaybackStop(ev)
	default:
		n.log.Debug().Str("event", ev.Event).Msg("unhandled webhook event")
	}
	return Handled
}

// notifyLogin sends the login notification, enriched with the request host
// the gateway observed and the persisted trust/expiry data.
func (n *Notifier) notifyLogin(ev *WebhookEvent) {
	n.sleep(n.cfg.LoginNotifyDelay)

	host := n.lookupHost(ev)

	var b strings.Builder
	fmt.Fprintf(&b, "🔐 *Login*\n\n👤 User: `%s`\n", ev.User.Name)
	fmt.Fprintf(&b, "📱 Device: `%s` (%s %s)\n", ev.Sess.DeviceName, ev.Sess.Client, ev.Sess.ApplicationVersion)
	if ev.Sess.RemoteEndPoint != "" {
		fmt.Fprintf(&b, "🌐 IP: `%s`\n", ev.Sess.RemoteEndPoint)
	}
	if host != "" {
		fmt.Fprintf(&b, "🔗 Host: `%s`\n", host)
	}

	if rec, err := n.users.GetByEmbyID(ev.User.ID); err == nil {
		fmt.Fprintf(&b, "🏷 Level: %s\n", trustLabel(rec.Level))
		if !rec.ExpiresAt.IsZero() {
			fmt.Fprintf(&b, "⏳ Expires: %s\n", rec.ExpiresAt.In(store.CheckinZone()).Format("2006-01-02"))
		}
	} else if !errors.Is(err, store.ErrUserNotFound) {
		n.log.Warn().Err(err).Str("user", ev.User.ID).Msg("user record load failed for login notice")
	}

	n.send("login", telegram.Message{
		ChatID:    n.cfg.LogChatID,
		ThreadID:  n.cfg.LoginThreadID,
		Text:      b.String(),
		ParseMode: "Markdown",
	}, 1)
}

// notifyPlaybackStart sends the start notification and registers the play
// session so the stop-class event can reply to it. Sends retry on network
// error; a session is only registered for a delivered message.
func (n *Notifier) notifyPlaybackStart(ev *WebhookEvent) {
	var b strings.Builder
	fmt.Fprintf(&b, "▶️ *Playback started*\n\n👤 User: `%s`\n", ev.User.Name)
	fmt.Fprintf(&b, "🎬 %s", ev.Item.Name)
	if ev.Item.Type != "" {
		fmt.Fprintf(&b, " (%s)", ev.Item.Type)
	}
	b.WriteString("\n")
	if ev.Item.RunTimeTicks > 0 {
		fmt.Fprintf(&b, "⏱ Runtime: %s\n", ev.Item.Runtime().Round(time.Minute))
	}
	if ev.Item.Size > 0 {
		fmt.Fprintf(&b, "💾 Size: %s\n", ev.Item.SizeHuman())
	}
	fmt.Fprintf(&b, "📱 Device: `%s` (%s)\n", ev.Sess.DeviceName, ev.Sess.Client)
	if host := n.lookupHost(ev); host != "" {
		fmt.Fprintf(&b, "🔗 Host: `%s`\n", host)
	}

	msgID, ok := n.send("playback_start", telegram.Message{
		ChatID:    n.cfg.LogChatID,
		ThreadID:  n.cfg.PlayThreadID,
		Text:      b.String(),
		ParseMode: "Markdown",
	}, playbackSendRetries)
	if !ok {
		return
	}

	n.sessions.Put(ev.sessionKey(), cache.PlaySession{
		MessageID: msgID,
		ChatID:    n.cfg.LogChatID,
		ThreadID:  n.cfg.PlayThreadID,
		UserName:  ev.User.Name,
	})
}

// notifyPlaybackStop replies to the start notification. No live session
// means the start was already answered, expired, or never seen; all three
// are silent no-ops.
func (n *Notifier) notifyPlaybackStop(ev *WebhookEvent) {
	session, ok := n.sessions.Pop(ev.sessionKey())
	if !ok {
		return
	}

	elapsed := time.Since(session.StartedAt).Round(time.Second)
	n.send("playback_stop", telegram.Message{
		ChatID:    session.ChatID,
		ThreadID:  session.ThreadID,
		ReplyTo:   session.MessageID,
		Text:      fmt.Sprintf("⏹ Playback ended after %s", elapsed),
		ParseMode: "Markdown",
	}, 1)
}

// lookupHost resolves the host association, preferring the device id key the
// gateway may have written for this session over the user id key.
func (n *Notifier) lookupHost(ev *WebhookEvent) string {
	if ev.Sess.DeviceID != "" {
		if host, ok := n.hosts.Get(ev.Sess.DeviceID); ok {
			return host
		}
	}
	if host, ok := n.hosts.Get(ev.User.ID); ok {
		return host
	}
	return ""
}

// send delivers a message with up to attempts tries, one second apart.
// Only transport failures retry; a Bot API rejection is deterministic for
// the request and stops immediately. Returns the message id and whether
// delivery succeeded.
func (n *Notifier) send(kind string, msg telegram.Message, attempts int) (int, bool) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			n.sleep(playbackRetryDelay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.NotifyTimeout)
		msgID, err := n.sender.SendMessage(ctx, msg)
		cancel()
		if err == nil {
			metrics.NotificationsSent.WithLabelValues(kind, "ok").Inc()
			return msgID, true
		}
		lastErr = err
		var apiErr *telegram.APIError
		if errors.As(err, &apiErr) {
			break
		}
	}
	metrics.NotificationsSent.WithLabelValues(kind, "error").Inc()
	n.log.Warn().Err(lastErr).Str("kind", kind).Int("attempts", attempts).
		Msg("notification delivery failed")
	return 0, false
}

func trustLabel(level store.TrustLevel) string {
	switch level {
	case store.Trusted:
		return "⭐️ trusted"
	case store.Banned:
		return "🚫 banned"
	default:
		return "👥 standard"
	}
}
