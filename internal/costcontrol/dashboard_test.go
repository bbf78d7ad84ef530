package costcontrol

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriteDashboard_RendersSessions(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	sessions := []SessionSnapshot{
		{ID: "APBN-AAAA-1", Name: "<script>", Status: "banned", Cost: 0.5, Saved: 2, Budget: Budget(1, 0.5), LastActivity: now.Add(-time.Minute * 5)},
		{ID: "APBN-BBBB-2", Name: "render", Status: "active", Cost: 1.25, Budget: Budget(0, 1.25), LastActivity: now.Add(-time.Second * 3)},
	}

	var b strings.Builder
	WriteDashboard(&b, sessions, DashboardConfig{RefreshSeconds: 5}, now)
	out := b.String()

	assert.Contains(t, out, `content="5"`)
	assert.Contains(t, out, "&lt;script&gt;", "names are escaped")
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "$1.75", "total spent")
	assert.Contains(t, out, "$2.00", "total saved")
	assert.Contains(t, out, "Unlimited")
	assert.Contains(t, out, "width:50%")
	assert.Less(t, strings.Index(out, "APBN-BBBB-2"), strings.Index(out, "APBN-AAAA-1"), "most recent first")
}

func TestWriteDashboard_Empty(t *testing.T) {
	var b strings.Builder
	WriteDashboard(&b, nil, DashboardConfig{}, time.Now())
	assert.Contains(t, b.String(), "No sessions yet")
	assert.NotContains(t, b.String(), "http-equiv")
}

func TestDashboardHandler(t *testing.T) {
	h := DashboardHandler(func() []SessionSnapshot { return nil }, DashboardConfig{Currency: "€"})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "€0.0000")
}
