package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckRate_Unlimited(t *testing.T) {
	l := Load(filepath.Join(t.TempDir(), "history.json"), 100)
	now := time.Now()
	for i := 0; i < 5; i++ {
		l.Append(attemptAt("s", StatusAllowed, now))
	}
	assert.False(t, l.CheckRate("s", 0, 60, now).Limited)
	assert.False(t, l.CheckRate("s", -1, 60, now).Limited)
}

func TestCheckRate_WindowSaturatesAndFrees(t *testing.T) {
	l := Load(filepath.Join(t.TempDir(), "history.json"), 100)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	l.Append(attemptAt("s", StatusAllowed, base))
	l.Append(attemptAt("s", StatusAllowed, base.Add(10*time.Second)))
	l.Append(attemptAt("s", StatusAllowed, base.Add(20*time.Second)))

	res := l.CheckRate("s", 3, 60, base.Add(30*time.Second))
	assert.True(t, res.Limited)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, 30, res.RetryAfter)
	assert.Contains(t, res.Message(), "3 per 1min")

	res = l.CheckRate("s", 3, 60, base.Add(30*time.Second+400*time.Millisecond))
	assert.Equal(t, 30, res.RetryAfter, "retry-after rounds up")

	res = l.CheckRate("s", 3, 60, base.Add(60*time.Second+time.Millisecond))
	assert.False(t, res.Limited)
	assert.Equal(t, 2, res.Count)
}

func TestCheckRate_WindowEdgeNeverSaysRetryNow(t *testing.T) {
	l := Load(filepath.Join(t.TempDir(), "history.json"), 100)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.Append(attemptAt("s", StatusAllowed, base))
	l.Append(attemptAt("s", StatusAllowed, base.Add(5*time.Second)))

	res := l.CheckRate("s", 2, 60, base.Add(60*time.Second))
	assert.True(t, res.Limited, "window is inclusive at now-period")
	assert.Equal(t, 1, res.RetryAfter)
	assert.Equal(t, "Rate limit exceeded (2 per 1min), retry in 1s", res.Message())
}

func TestCheckRate_IgnoresOtherStatusesAndSessions(t *testing.T) {
	l := Load(filepath.Join(t.TempDir(), "history.json"), 100)
	now := time.Now()
	l.Append(attemptAt("s", StatusBlocked, now))
	l.Append(attemptAt("s", StatusError, now))
	l.Append(attemptAt("other", StatusAllowed, now))
	l.Append(attemptAt("s", StatusAllowed, now))

	res := l.CheckRate("s", 2, 3600, now)
	assert.False(t, res.Limited)
	assert.Equal(t, 1, res.Count)
}

func TestFormatPeriod(t *testing.T) {
	assert.Equal(t, "30s", FormatPeriod(30))
	assert.Equal(t, "5min", FormatPeriod(300))
	assert.Equal(t, "1hr", FormatPeriod(3600))
	assert.Equal(t, "1day", FormatPeriod(86400))
	assert.Equal(t, "2day", FormatPeriod(2*86400))
}
