// Package server exposes the HTTP surface: the reverse proxy's auth
// sub-request endpoint, the check-in page and verify endpoint, the media
// server webhook receiver, and the health probes.
package server

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/embyguard/emby-guard/internal/checkin"
	"github.com/embyguard/emby-guard/internal/gateway"
	"github.com/embyguard/emby-guard/internal/notify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// RouterConfig holds the HTTP-layer parameters.
type RouterConfig struct {
	TurnstileSiteKey string
	RecaptchaSiteKey string

	// Edge throttle on the check-in routes, in front of the pipeline's own
	// two-namespace limiter.
	ThrottleRequests int
	ThrottleWindow   time.Duration
}

type router struct {
	cfg      RouterConfig
	gw       *gateway.Gateway
	pipeline *checkin.Service
	notifier *notify.Notifier
	ready    func(*http.Request) error
	log      zerolog.Logger
}

// NewRouter assembles the main listener's handler tree.
func NewRouter(cfg RouterConfig, gw *gateway.Gateway, pipeline *checkin.Service,
	notifier *notify.Notifier, ready func(*http.Request) error, log zerolog.Logger) http.Handler {

	rt := &router{cfg: cfg, gw: gw, pipeline: pipeline, notifier: notifier, ready: ready, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", rt.handleHealthz)
	r.Get("/readyz", rt.handleReadyz)
	r.Post("/webhook", rt.handleWebhook)

	r.Route("/checkin", func(r chi.Router) {
		if cfg.ThrottleRequests > 0 {
			r.Use(httprate.LimitByIP(cfg.ThrottleRequests, cfg.ThrottleWindow))
		}
		r.Get("/web", rt.handleCheckinPage)
		r.Post("/verify", rt.handleCheckinVerify)
	})

	// Everything else is the proxy's auth sub-request.
	r.NotFound(rt.handleAuth)
	return r
}

// handleAuth answers the reverse proxy's sub-request: plain-text "True"/200
// or "False"/401, nothing else.
func (rt *router) handleAuth(w http.ResponseWriter, r *http.Request) {
	v := rt.gw.Decide(r.Context(), r.Method, r.URL.RequestURI(), requestHost(r))
	if v.Allowed {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("True"))
		return
	}
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte("False"))
}

// verifyResponse is the check-in endpoint's JSON answer.
type verifyResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Reward      int64  `json:"reward"`
	ShouldClose bool   `json:"should_close"`
}

func (rt *router) handleCheckinVerify(w http.ResponseWriter, r *http.Request) {
	var sub checkin.Submission
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&sub); err != nil {
		rt.writeJSON(w, http.StatusBadRequest, verifyResponse{Message: "invalid request body"})
		return
	}
	sub.UserAgent = r.UserAgent()
	sub.RemoteIP = clientIP(r)
	sub.Headers = r.Header.Clone()
	sub.Headers.Set("Host", r.Host)

	res, rej := rt.pipeline.Process(r.Context(), &sub)
	if rej != nil {
		rt.writeJSON(w, rej.Status, verifyResponse{Message: rej.Message})
		return
	}
	rt.writeJSON(w, http.StatusOK, verifyResponse{
		Success:     true,
		Message:     "Check-in successful",
		Reward:      res.Reward,
		ShouldClose: true,
	})
}

func (rt *router) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var ev notify.WebhookEvent
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&ev); err != nil {
		rt.log.Debug().Err(err).Msg("unparseable webhook payload")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if rt.notifier.Handle(&ev) == notify.SkippedUser {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (rt *router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (rt *router) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := rt.ready(r); err != nil {
		http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (rt *router) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.log.Debug().Err(err).Msg("response encode failed")
	}
}

// requestHost resolves the host the client addressed, preferring the
// reverse proxy's forwarded header.
func requestHost(r *http.Request) string {
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		return h
	}
	return r.Host
}

// clientIP resolves the originating client address: first entry of
// X-Forwarded-For when present, the socket peer otherwise.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
