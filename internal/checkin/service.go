package checkin

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/embyguard/emby-guard/internal/limiter"
	"github.com/embyguard/emby-guard/internal/metrics"
	"github.com/embyguard/emby-guard/internal/store"
	"github.com/embyguard/emby-guard/internal/telegram"
	"github.com/rs/zerolog"
)

// Config holds the pipeline parameters.
type Config struct {
	Enabled   bool
	RewardMin int64
	RewardMax int64

	// NonceWindow bounds the client-clock skew accepted for the
	// (timestamp, nonce) freshness check.
	NonceWindow time.Duration

	Heuristics HeuristicConfig

	// BotToken signs the Telegram Mini App identity data.
	BotToken string

	// LogChatID and LogThreadID receive the best-effort audit trail.
	LogChatID   int64
	LogThreadID int

	NotifyTimeout time.Duration
}

// Service runs the check-in pipeline.
type Service struct {
	cfg   Config
	rules []rule

	limits    limiter.Store
	users     store.Store
	turnstile Verifier
	recaptcha Verifier // nil when the secondary check is not configured
	sender    telegram.Sender
	log       zerolog.Logger

	grantMu keyedMutex

	auditWarn sync.Once
	now       func() time.Time
}

// New constructs a Service. recaptcha may be nil.
func New(cfg Config, limits limiter.Store, users store.Store,
	turnstile, recaptcha Verifier, sender telegram.Sender, log zerolog.Logger) *Service {

	if cfg.NotifyTimeout == 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	return &Service{
		cfg:       cfg,
		rules:     heuristicRules(cfg.Heuristics),
		limits:    limits,
		users:     users,
		turnstile: turnstile,
		recaptcha: recaptcha,
		sender:    sender,
		log:       log,
		now:       time.Now,
	}
}

// Process runs one submission through the pipeline. The stage order is fixed:
// each filter is reachable only by passing all prior ones. The returned
// Rejection carries the client status and generic message; the specific
// reason is logged here and nowhere else.
func (s *Service) Process(ctx context.Context, sub *Submission) (*Result, *Rejection) {
	if rej := s.filter(ctx, sub); rej != nil {
		metrics.CheckinRejected.WithLabelValues(rej.Stage, rej.Code).Inc()
		s.log.Info().Int64("user", sub.UserID).Str("ip", sub.RemoteIP).
			Str("stage", rej.Stage).Str("reason", rej.Reason).Int("status", rej.Status).
			Msg("check-in rejected")
		s.audit(sub, "rejected: "+rej.Reason)
		return nil, rej
	}

	res, rej := s.grant(sub)
	if rej != nil {
		metrics.CheckinRejected.WithLabelValues(rej.Stage, rej.Code).Inc()
		s.log.Info().Int64("user", sub.UserID).Str("stage", rej.Stage).
			Str("reason", rej.Reason).Msg("check-in rejected")
		s.audit(sub, "rejected: "+rej.Reason)
		return nil, rej
	}

	metrics.CheckinGranted.Inc()
	s.log.Info().Int64("user", sub.UserID).Int64("reward", res.Reward).
		Int64("balance", res.NewBalance).Msg("check-in granted")
	s.confirm(sub, res)
	s.audit(sub, fmt.Sprintf("granted: +%d (balance %d)", res.Reward, res.NewBalance))
	return res, nil
}

// filter runs stages 1-7: everything before the store.
func (s *Service) filter(ctx context.Context, sub *Submission) *Rejection {
	now := s.now()

	// 1. Feature flag.
	if !s.cfg.Enabled {
		return reject(http.StatusForbidden, StageFeatureFlag, "disabled", "check-in disabled", msgDisabled)
	}

	// 2. Rate limit: two independent counters, user id and client IP.
	userKey := fmt.Sprintf("user:%d", sub.UserID)
	limited, err := s.limits.Allow(ctx, userKey, "ip:"+sub.RemoteIP)
	if err != nil {
		// The limiter already degrades to memory internally; an error here
		// means both backends failed. Fail open, the later stages still gate.
		s.log.Error().Err(err).Msg("rate limiter unavailable; skipping stage")
	} else if limited != "" {
		return reject(http.StatusTooManyRequests, StageRateLimit, limited,
			"ceiling reached for "+limited, msgRateLimited)
	}

	// 3. Heuristics.
	if name, why, ok := evaluate(s.rules, sub, now); !ok {
		return reject(http.StatusForbidden, StageHeuristics, name, why, msgSuspicious)
	}

	// 4. Replay protection. The nonce is consumed only after the timestamp
	// freshness check passes, so stale requests cannot burn a fresh nonce.
	skew := now.Sub(clientTime(sub.Timestamp))
	if skew < 0 {
		skew = -skew
	}
	if sub.Nonce == "" || skew > s.cfg.NonceWindow {
		return reject(http.StatusBadRequest, StageReplay, "stale_timestamp",
			fmt.Sprintf("timestamp skew %s outside freshness window %s", skew, s.cfg.NonceWindow), msgInvalid)
	}
	fresh, err := s.limits.ConsumeNonce(ctx, sub.Nonce)
	if err != nil {
		s.log.Error().Err(err).Msg("nonce store unavailable")
		return reject(http.StatusServiceUnavailable, StageReplay, "store_error", "nonce store unavailable", msgUnavailable)
	}
	if !fresh {
		return reject(http.StatusBadRequest, StageReplay, "nonce_reuse", "nonce already consumed", msgInvalid)
	}

	// 5. Identity binding, when the client supplies platform auth data.
	if sub.WebAppData != "" {
		user, err := VerifyWebAppData(s.cfg.BotToken, sub.WebAppData, now)
		if err != nil {
			return reject(http.StatusUnauthorized, StageIdentity, "invalid_data", err.Error(), msgMismatch)
		}
		if user.ID != sub.UserID {
			return reject(http.StatusUnauthorized, StageIdentity, "id_mismatch",
				fmt.Sprintf("embedded id %d does not match claimed %d", user.ID, sub.UserID), msgMismatch)
		}
	}

	// 6. CAPTCHA.
	if sub.TurnstileToken == "" {
		return reject(http.StatusBadRequest, StageCaptcha, "missing_token", "missing turnstile token", msgInvalid)
	}
	if err := s.turnstile.Verify(ctx, sub.TurnstileToken, sub.RemoteIP); err != nil {
		return captchaRejection(StageCaptcha, err)
	}

	// 7. Secondary risk score, when configured.
	if s.recaptcha != nil {
		if sub.RecaptchaToken == "" {
			return reject(http.StatusBadRequest, StageRiskScore, "missing_token", "missing recaptcha token", msgInvalid)
		}
		if err := s.recaptcha.Verify(ctx, sub.RecaptchaToken, sub.RemoteIP); err != nil {
			return captchaRejection(StageRiskScore, err)
		}
	}
	return nil
}

func captchaRejection(stage string, err error) *Rejection {
	if errors.Is(err, ErrCaptchaUnavailable) {
		return reject(http.StatusServiceUnavailable, stage, "unavailable", err.Error(), msgUnavailable)
	}
	return reject(http.StatusBadRequest, stage, "failed", err.Error(), msgInvalid)
}

// grant runs stages 8-9 under the per-user mutex. The mutex covers only the
// read-modify-write; notification sends happen after release.
func (s *Service) grant(sub *Submission) (*Result, *Rejection) {
	unlock := s.grantMu.lock(sub.UserID)
	defer unlock()

	reward := s.cfg.RewardMin
	if s.cfg.RewardMax > s.cfg.RewardMin {
		reward += rand.Int63n(s.cfg.RewardMax - s.cfg.RewardMin + 1)
	}

	res, err := s.users.ApplyCheckin(sub.UserID, reward, s.now())
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		return nil, reject(http.StatusNotFound, StageUserLookup, "unknown_user", "no record for telegram id", msgUnknownUser)
	case errors.Is(err, store.ErrAlreadyCheckedIn):
		return nil, reject(http.StatusConflict, StageDuplicate, "already_checked_in", "already checked in today", msgDuplicate)
	case err != nil:
		return nil, reject(http.StatusInternalServerError, StageGrant, "store_error", "store update failed: "+err.Error(), msgInternal)
	}
	return &Result{Reward: res.Reward, NewBalance: res.NewBalance}, nil
}

// confirm sends the best-effort success message to the user and deletes the
// prior prompt message when the client identified one.
func (s *Service) confirm(sub *Submission, res *Result) {
	chatID := sub.ChatID
	if chatID == 0 {
		chatID = sub.UserID
	}
	msg := telegram.Message{
		ChatID: chatID,
		Text: fmt.Sprintf("✅ Check-in successful!\n\n🎁 Reward: +%d\n💰 Balance: %d",
			res.Reward, res.NewBalance),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
		defer cancel()

		if _, err := s.sender.SendMessage(ctx, msg); err != nil {
			metrics.NotificationsSent.WithLabelValues("checkin_confirm", "error").Inc()
			s.log.Warn().Err(err).Int64("chat", chatID).Msg("check-in confirmation failed")
		} else {
			metrics.NotificationsSent.WithLabelValues("checkin_confirm", "ok").Inc()
		}

		if sub.MessageID != 0 && sub.ChatID != 0 {
			if err := s.sender.DeleteMessage(ctx, sub.ChatID, sub.MessageID); err != nil {
				s.log.Debug().Err(err).Int("message", sub.MessageID).Msg("prompt deletion failed")
			}
		}
	}()
}

// audit sends one line of the check-in audit trail to the log chat.
func (s *Service) audit(sub *Submission, outcome string) {
	if s.cfg.LogChatID == 0 {
		s.auditWarn.Do(func() {
			s.log.Warn().Msg("checkin log chat not configured; audit trail disabled")
		})
		return
	}
	text := fmt.Sprintf(
		"📋 *Check-in audit*\n\n"+
			"👤 [%d](tg://user?id=%d)\n"+
			"🕒 %s\n"+
			"🌐 `%s`\n"+
			"🧭 `%s`\n"+
			"📝 %s",
		sub.UserID, sub.UserID,
		s.now().In(store.CheckinZone()).Format("2006-01-02 15:04:05"),
		sub.RemoteIP, sub.UserAgent, outcome)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
		defer cancel()
		if _, err := s.sender.SendMessage(ctx, telegram.Message{
			ChatID:    s.cfg.LogChatID,
			ThreadID:  s.cfg.LogThreadID,
			Text:      text,
			ParseMode: "Markdown",
		}); err != nil {
			metrics.NotificationsSent.WithLabelValues("checkin_audit", "error").Inc()
			s.log.Warn().Err(err).Msg("check-in audit send failed")
			return
		}
		metrics.NotificationsSent.WithLabelValues("checkin_audit", "ok").Inc()
	}()
}

// keyedMutex serializes grants per user id via lock striping.
type keyedMutex struct {
	stripes [64]sync.Mutex
}

func (k *keyedMutex) lock(id int64) func() {
	m := &k.stripes[uint64(id)%uint64(len(k.stripes))]
	m.Lock()
	return m.Unlock
}
