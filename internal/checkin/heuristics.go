package checkin

import (
	"fmt"
	"strings"
	"time"
)

// automationSignatures are case-insensitive substrings that mark a
// user-agent as an automation tool or HTTP-client library.
var automationSignatures = []string{
	"bot", "crawler", "spider", "scraper",
	"wget", "curl", "python-requests", "aiohttp", "okhttp",
}

// requiredHeaders must all be present on a browser-originated request.
var requiredHeaders = []string{"Host", "User-Agent", "Accept", "Accept-Language"}

const minUserAgentLength = 10

// HeuristicConfig holds the thresholds for the behavioral checks.
type HeuristicConfig struct {
	MinInteractions    int
	MinSessionDuration time.Duration
	MinPageLoadAge     time.Duration
	MaxPageLoadAge     time.Duration
}

// rule is one heuristic check. reason returns "" on pass, otherwise the
// specific rejection reason for the logs.
type rule struct {
	name   string
	reason func(s *Submission, now time.Time) string
}

// heuristicRules builds the rule list. Evaluation order is fixed and
// significant: cheap header checks first, behavioral thresholds after.
func heuristicRules(cfg HeuristicConfig) []rule {
	return []rule{
		{name: "ua_length", reason: func(s *Submission, _ time.Time) string {
			if len(s.UserAgent) < minUserAgentLength {
				return fmt.Sprintf("user-agent absent or too short (%d chars)", len(s.UserAgent))
			}
			return ""
		}},
		{name: "ua_automation", reason: func(s *Submission, _ time.Time) string {
			ua := strings.ToLower(s.UserAgent)
			for _, sig := range automationSignatures {
				if strings.Contains(ua, sig) {
					return "automation user-agent signature: " + sig
				}
			}
			return ""
		}},
		{name: "required_headers", reason: func(s *Submission, _ time.Time) string {
			for _, h := range requiredHeaders {
				if h == "Host" {
					// The Host header is promoted out of the header map
					// by net/http; treat either location as present.
					if s.Headers.Get("Host") == "" && s.Headers.Get("X-Forwarded-Host") == "" {
						return "missing header: host"
					}
					continue
				}
				if s.Headers.Get(h) == "" {
					return "missing header: " + strings.ToLower(h)
				}
			}
			return ""
		}},
		{name: "interactions", reason: func(s *Submission, _ time.Time) string {
			if s.Interactions < cfg.MinInteractions {
				return fmt.Sprintf("interaction count %d below minimum %d", s.Interactions, cfg.MinInteractions)
			}
			return ""
		}},
		{name: "session_duration", reason: func(s *Submission, _ time.Time) string {
			if time.Duration(s.SessionDuration)*time.Millisecond < cfg.MinSessionDuration {
				return fmt.Sprintf("session duration %dms below minimum %s", s.SessionDuration, cfg.MinSessionDuration)
			}
			return ""
		}},
		{name: "page_load_age", reason: func(s *Submission, now time.Time) string {
			if s.PageLoadTime == 0 {
				return "page-load timestamp missing"
			}
			age := now.Sub(clientTime(s.PageLoadTime))
			if age < cfg.MinPageLoadAge || age > cfg.MaxPageLoadAge {
				return fmt.Sprintf("page-load age %s outside [%s, %s]", age.Round(time.Millisecond), cfg.MinPageLoadAge, cfg.MaxPageLoadAge)
			}
			return ""
		}},
	}
}

// evaluate runs the rule list and returns the name and reason of the first
// failing rule, or ok=true when all pass.
func evaluate(rules []rule, s *Submission, now time.Time) (name, reason string, ok bool) {
	for _, r := range rules {
		if why := r.reason(s, now); why != "" {
			return r.name, why, false
		}
	}
	return "", "", true
}
