package ledger

import (
	"fmt"
	"math"
	"time"
)

// RateResult is the outcome of a sliding-window check.
type RateResult struct {
	Limited    bool
	Count      int // allowed attempts inside the window
	Limit      int
	Period     int // seconds
	RetryAfter int // seconds until the oldest in-window attempt leaves it, >= 1 when limited
}

// Message is the human-readable denial text.
func (r RateResult) Message() string {
	return fmt.Sprintf("Rate limit exceeded (%d per %s), retry in %ds", r.Limit, FormatPeriod(r.Period), r.RetryAfter)
}

// CheckRate counts the session's allowed attempts with a timestamp in
// [now-period, now]. The session is limited when that count reaches limit.
// limit <= 0 means unlimited.
func (l *Ledger) CheckRate(sessionID string, limit, periodSeconds int, now time.Time) RateResult {
	res := RateResult{Limit: limit, Period: periodSeconds}
	if limit <= 0 {
		return res
	}

	period := time.Duration(periodSeconds) * time.Second
	start := now.Add(-period)

	var oldest time.Time
	for _, a := range l.attempts {
		if a.SessionID != sessionID || a.Status != StatusAllowed {
			continue
		}
		ts := a.Timestamp.Time
		if ts.IsZero() || ts.Before(start) {
			continue
		}
		res.Count++
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
	}

	if res.Count < limit {
		return res
	}
	res.Limited = true
	wait := oldest.Add(period).Sub(now).Seconds()
	res.RetryAfter = int(math.Max(1, math.Ceil(wait)))
	return res
}

// FormatPeriod renders a window length as 30s, 5min, 1hr or 1day.
func FormatPeriod(seconds int) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dmin", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dhr", seconds/3600)
	default:
		return fmt.Sprintf("%dday", seconds/86400)
	}
}
