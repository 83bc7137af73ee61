package icauth

import (
	"fmt"
	"time"
)

const (
	// SessionTTL is the fixed lifetime of a session. Expiry is always
	// derived as now + SessionTTL at login and refresh time, never
	// supplied by callers.
	SessionTTL = 30 * 24 * time.Hour

	// RefreshCheckInterval is how often the background timer wakes up
	// to look at the session.
	RefreshCheckInterval = 30 * time.Minute

	// RefreshThreshold is the time-until-expiry below which a refresh
	// actually happens. Above it the timer tick is a no-op.
	RefreshThreshold = 24 * time.Hour
)

// SessionRecord is the sole durable artifact of a session. Expiry is a
// nanosecond timestamp, CreatedAt a millisecond timestamp, matching the
// persisted wire format.
type SessionRecord struct {
	LoginType LoginType
	Expiry    uint64
	CreatedAt int64
}

// NewSessionRecord derives a fresh record at now with the fixed TTL.
func NewSessionRecord(loginType LoginType, now time.Time) *SessionRecord {
	return &SessionRecord{
		LoginType: loginType,
		Expiry:    uint64(now.UnixNano()) + uint64(SessionTTL.Nanoseconds()),
		CreatedAt: now.UnixMilli(),
	}
}

func (r *SessionRecord) Expired(now time.Time) bool {
	return r.Expiry <= uint64(now.UnixNano())
}

// NeedsRefresh reports whether the record is inside the refresh window:
// still valid but with less than RefreshThreshold remaining.
func (r *SessionRecord) NeedsRefresh(now time.Time) bool {
	nowNs := uint64(now.UnixNano())
	if r.Expiry <= nowNs {
		return false
	}
	return r.Expiry-nowNs <= uint64(RefreshThreshold.Nanoseconds())
}

func (r *SessionRecord) TimeUntilExpiry(now time.Time) time.Duration {
	nowNs := uint64(now.UnixNano())
	if r.Expiry <= nowNs {
		return 0
	}
	return time.Duration(r.Expiry - nowNs)
}

// ExpiringSoon mirrors NeedsRefresh for UI warning purposes.
func (r *SessionRecord) ExpiringSoon(now time.Time) bool {
	return r.NeedsRefresh(now)
}

// Progress returns how far through its lifetime the session is, from 0
// (just created) to 1 (expired).
func (r *SessionRecord) Progress(now time.Time) float64 {
	ttl := uint64(SessionTTL.Nanoseconds())
	start := r.Expiry - ttl
	nowNs := uint64(now.UnixNano())
	if nowNs <= start {
		return 0
	}
	elapsed := nowNs - start
	if elapsed >= ttl {
		return 1
	}
	return float64(elapsed) / float64(ttl)
}

// FormatTimeUntilExpiry renders the remaining lifetime for display,
// e.g. "29 days, 23 hours" or "45 minutes".
func (r *SessionRecord) FormatTimeUntilExpiry(now time.Time) string {
	left := r.TimeUntilExpiry(now)
	if left <= 0 {
		return "Session expired"
	}

	days := int(left.Hours()) / 24
	hours := int(left.Hours()) % 24
	minutes := int(left.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%d %s, %d %s", days, plural(days, "day"), hours, plural(hours, "hour"))
	case hours > 0:
		return fmt.Sprintf("%d %s, %d %s", hours, plural(hours, "hour"), minutes, plural(minutes, "minute"))
	default:
		return fmt.Sprintf("%d %s", minutes, plural(minutes, "minute"))
	}
}

func (r *SessionRecord) String() string {
	return fmt.Sprintf("SessionRecord(loginType=%s expiry=%d createdAt=%d)", r.LoginType, r.Expiry, r.CreatedAt)
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
