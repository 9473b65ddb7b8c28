// Package notify translates media-server webhook events into Telegram
// notifications, correlating playback starts with their stop-class replies
// through the play-session cache.
package notify

import (
	"fmt"
	"time"
)

// WebhookEvent is the subset of the media server's webhook payload this
// service reads. Unknown fields are ignored.
type WebhookEvent struct {
	Event string      `json:"Event"`
	User  WebhookUser `json:"User"`
	Sess  WebhookSess `json:"Session"`
	Item  WebhookItem `json:"Item"`
	Date  time.Time   `json:"Date"`
}

type WebhookUser struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

type WebhookSess struct {
	ID                 string `json:"Id"`
	DeviceID           string `json:"DeviceId"`
	DeviceName         string `json:"DeviceName"`
	Client             string `json:"Client"`
	ApplicationVersion string `json:"ApplicationVersion"`
	RemoteEndPoint     string `json:"RemoteEndPoint"`
}

type WebhookItem struct {
	Name         string `json:"Name"`
	Type         string `json:"Type"`
	RunTimeTicks int64  `json:"RunTimeTicks"`
	Size         int64  `json:"Size"`
}

// Runtime converts the item's ticks (100ns units) to a duration.
func (i WebhookItem) Runtime() time.Duration {
	return time.Duration(i.RunTimeTicks) * 100 * time.Nanosecond
}

// SizeHuman renders the item size for the notification text.
func (i WebhookItem) SizeHuman() string {
	const unit = 1024
	if i.Size < unit {
		return fmt.Sprintf("%d B", i.Size)
	}
	div, exp := int64(unit), 0
	for n := i.Size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(i.Size)/float64(div), "KMGTPE"[exp])
}

// sessionKey picks the correlation key for the play-session cache: the
// session id when present, the device id otherwise.
func (e *WebhookEvent) sessionKey() string {
	if e.Sess.ID != "" {
		return e.Sess.ID
	}
	return e.Sess.DeviceID
}
