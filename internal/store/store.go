package store

import (
	"errors"
	"time"
)

// TrustLevel is the tri-state account standing controlling gateway policy.
type TrustLevel string

const (
	// Trusted accounts pass the gateway on any host.
	Trusted TrustLevel = "trusted"
	// Standard accounts pass unless they hit a banned host.
	Standard TrustLevel = "standard"
	// Banned accounts are denied everywhere.
	Banned TrustLevel = "banned"
)

// UserRecord is a media-server account tracked by the gateway.
// Records are provisioned externally; the core only mutates trust level
// (on ban) and balance/check-in date (on reward grant).
type UserRecord struct {
	EmbyID      string
	TelegramID  int64
	Name        string
	Level       TrustLevel
	Balance     int64
	LastCheckin time.Time // zero = never checked in
	ExpiresAt   time.Time // account expiry, zero = none
}

// CheckinResult reports a successful reward grant.
type CheckinResult struct {
	Reward     int64
	NewBalance int64
}

var (
	// ErrUserNotFound marks a lookup for an unprovisioned account.
	ErrUserNotFound = errors.New("user not found")
	// ErrAlreadyCheckedIn marks a duplicate same-day grant attempt.
	ErrAlreadyCheckedIn = errors.New("already checked in today")
)

// Store is the persistence interface for user records.
type Store interface {
	// GetByEmbyID returns the record for a media-server user id, or
	// ErrUserNotFound.
	GetByEmbyID(embyID string) (*UserRecord, error)
	// GetByTelegramID returns the record for a linked Telegram id, or
	// ErrUserNotFound.
	GetByTelegramID(tgID int64) (*UserRecord, error)

	// UpsertUser creates or replaces a record. Provisioning is owned by the
	// bot, not this core; exposed for that path and for tests.
	UpsertUser(rec UserRecord) error

	// SetTrustLevel persists a trust-level change for an account.
	SetTrustLevel(embyID string, level TrustLevel) error

	// ApplyCheckin atomically re-checks the one-grant-per-day condition and,
	// if it holds, adds reward to the balance and stamps now as the last
	// check-in. Returns ErrAlreadyCheckedIn for the loser of a concurrent
	// race and ErrUserNotFound for unknown accounts.
	ApplyCheckin(tgID int64, reward int64, now time.Time) (*CheckinResult, error)

	// SizeBytes reports the on-disk size for the janitor's gauge.
	SizeBytes() (int64, error)
	Close() error
}

// checkinZone pins calendar-day comparisons to the deployment's wall clock.
var checkinZone = time.FixedZone("UTC+8", 8*60*60)

// CheckinZone returns the fixed offset used for check-in day arithmetic.
func CheckinZone() *time.Location {
	return checkinZone
}

// CheckinDay formats t as the UTC+8 calendar date used for the
// one-grant-per-day guard.
func CheckinDay(t time.Time) string {
	return t.In(checkinZone).Format("2006-01-02")
}

// CheckinBlocked reports whether a grant at now is barred by the previous
// check-in stamp: same UTC+8 calendar date or later. A future-dated stamp
// (clock skew, manual edit) still blocks rather than permitting a second
// grant. A zero last never blocks.
func CheckinBlocked(last, now time.Time) bool {
	if last.IsZero() {
		return false
	}
	// ISO dates compare correctly as strings.
	return CheckinDay(last) >= CheckinDay(now)
}
