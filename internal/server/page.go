package server

import (
	"html/template"
	"net/http"
)

// checkinPage is the browser-side of the check-in flow. It loads the CAPTCHA
// widgets, tracks the behavioral signals the pipeline inspects, and posts the
// submission to /checkin/verify.
var checkinPage = template.Must(template.New("checkin").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Daily Check-in</title>
<script src="https://telegram.org/js/telegram-web-app.js"></script>
<script src="https://challenges.cloudflare.com/turnstile/v0/api.js" async defer></script>
{{if .RecaptchaSiteKey}}<script src="https://www.google.com/recaptcha/api.js?render={{.RecaptchaSiteKey}}"></script>{{end}}
<style>
body { font-family: -apple-system, sans-serif; display: flex; flex-direction: column;
       align-items: center; padding: 2rem; background: #1c1c1e; color: #fff; }
button { margin-top: 1.5rem; padding: 0.8rem 2.5rem; font-size: 1.1rem; border: 0;
         border-radius: 8px; background: #2ea6ff; color: #fff; }
button:disabled { background: #555; }
#status { margin-top: 1rem; min-height: 1.5rem; }
</style>
</head>
<body>
<h2>Daily Check-in</h2>
<div class="cf-turnstile" data-sitekey="{{.TurnstileSiteKey}}" data-callback="onToken"></div>
<button id="go" disabled>Check in</button>
<p id="status"></p>
<script>
const loadedAt = Date.now();
let interactions = 0;
let token = "";
["click", "touchstart", "scroll", "keydown", "mousemove"].forEach(function (ev) {
  document.addEventListener(ev, function () { interactions++; }, { passive: true });
});
function onToken(t) { token = t; document.getElementById("go").disabled = false; }
function nonce() {
  const bytes = new Uint8Array(16);
  crypto.getRandomValues(bytes);
  return Array.from(bytes, function (b) { return b.toString(16).padStart(2, "0"); }).join("");
}
document.getElementById("go").addEventListener("click", async function () {
  this.disabled = true;
  const tg = window.Telegram && window.Telegram.WebApp;
  const user = tg && tg.initDataUnsafe && tg.initDataUnsafe.user;
  const body = {
    user_id: user ? user.id : 0,
    timestamp: Date.now(),
    nonce: nonce(),
    turnstile_token: token,
    webapp_data: tg ? tg.initData : "",
    interactions: interactions,
    session_duration: Date.now() - loadedAt,
    page_load_time: loadedAt
  };
  {{if .RecaptchaSiteKey}}
  body.recaptcha_v3_token = await grecaptcha.execute("{{.RecaptchaSiteKey}}", { action: "checkin" });
  {{end}}
  const resp = await fetch("/checkin/verify", {
    method: "POST",
    headers: { "Content-Type": "application/json" },
    body: JSON.stringify(body)
  });
  const data = await resp.json();
  document.getElementById("status").textContent = data.message;
  if (data.success && data.should_close && tg) { setTimeout(function () { tg.close(); }, 1500); }
});
</script>
</body>
</html>
`))

type pageData struct {
	TurnstileSiteKey string
	RecaptchaSiteKey string
}

func (rt *router) handleCheckinPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := checkinPage.Execute(w, pageData{
		TurnstileSiteKey: rt.cfg.TurnstileSiteKey,
		RecaptchaSiteKey: rt.cfg.RecaptchaSiteKey,
	}); err != nil {
		rt.log.Error().Err(err).Msg("check-in page render failed")
	}
}
