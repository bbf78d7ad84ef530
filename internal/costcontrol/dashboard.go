package costcontrol

import (
	"fmt"
	"html"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// SnapshotSource supplies the sessions rendered by the dashboard.
type SnapshotSource func() []SessionSnapshot

// DashboardHandler serves the cost dashboard HTML page.
func DashboardHandler(source SnapshotSource, cfg DashboardConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		WriteDashboard(&b, source(), cfg, time.Now())

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(b.String()))
	}
}

// WriteDashboard renders the sessions as a standalone HTML page.
func WriteDashboard(w io.Writer, sessions []SessionSnapshot, cfg DashboardConfig, now time.Time) {
	currency := cfg.Currency
	if currency == "" {
		currency = "$"
	}

	// Sort by last activity (most recent first)
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})

	var totalCost, totalSaved float64
	var totalRequests, totalBlocked int
	for _, s := range sessions {
		totalCost += s.Cost
		totalSaved += s.Saved
		totalRequests += s.TotalRequests
		totalBlocked += s.BlockedCount
	}

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
`)
	if cfg.RefreshSeconds > 0 {
		fmt.Fprintf(&b, "<meta http-equiv=\"refresh\" content=\"%d\">\n", cfg.RefreshSeconds)
	}
	b.WriteString(`<title>API Bouncer - Cost Dashboard</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: 'SF Mono', 'Fira Code', 'Cascadia Code', monospace; background: #0d1117; color: #c9d1d9; padding: 24px; }
  h1 { color: #58a6ff; font-size: 18px; margin-bottom: 16px; }
  .summary { display: flex; gap: 24px; margin-bottom: 24px; padding: 16px; background: #161b22; border: 1px solid #30363d; border-radius: 6px; }
  .stat-label { font-size: 11px; color: #8b949e; text-transform: uppercase; letter-spacing: 1px; }
  .stat-value { font-size: 24px; font-weight: bold; color: #f0f6fc; }
  .stat-value.cost { color: #ffa657; }
  .stat-value.saved { color: #3fb950; }
  table { width: 100%; border-collapse: collapse; background: #161b22; border: 1px solid #30363d; border-radius: 6px; overflow: hidden; }
  th { text-align: left; padding: 10px 14px; font-size: 11px; color: #8b949e; text-transform: uppercase; letter-spacing: 1px; background: #0d1117; border-bottom: 1px solid #30363d; }
  td { padding: 10px 14px; font-size: 13px; border-bottom: 1px solid #21262d; }
  tr:last-child td { border-bottom: none; }
  .session-id { color: #58a6ff; }
  .status-active { color: #3fb950; }
  .status-warned { color: #d29922; }
  .status-banned { color: #f85149; }
  .cost { color: #ffa657; font-weight: bold; }
  .bar-container { width: 100px; height: 8px; background: #21262d; border-radius: 4px; overflow: hidden; display: inline-block; vertical-align: middle; margin-right: 8px; }
  .bar { height: 100%; border-radius: 4px; }
  .bar-ok { background: #3fb950; }
  .bar-warn { background: #d29922; }
  .bar-danger { background: #f85149; }
  .empty { text-align: center; padding: 40px; color: #8b949e; }
</style>
</head>
<body>
<h1>API Bouncer - Cost Dashboard</h1>
<div class="summary">
`)
	writeStat(&b, "Total Spent", "cost", currency+formatCost(totalCost))
	writeStat(&b, "Total Saved", "saved", currency+formatCost(totalSaved))
	writeStat(&b, "Sessions", "", fmt.Sprintf("%d", len(sessions)))
	writeStat(&b, "Requests", "", fmt.Sprintf("%d", totalRequests))
	writeStat(&b, "Blocked", "", fmt.Sprintf("%d", totalBlocked))
	b.WriteString("</div>\n")

	if len(sessions) == 0 {
		b.WriteString(`<div class="empty">No sessions yet. Create one with "bouncer session create".</div>`)
	} else {
		b.WriteString(`<table>
<tr>
  <th>Session</th>
  <th>Name</th>
  <th>Status</th>
  <th>Requests</th>
  <th>Spent</th>
  <th>Saved</th>
  <th>Budget</th>
  <th>Last Activity</th>
</tr>
`)
		for _, s := range sessions {
			fmt.Fprintf(&b, `<tr>
  <td class="session-id">%s</td>
  <td>%s</td>
  <td class="status-%s">%s</td>
  <td>%d (%d blocked)</td>
  <td class="cost">%s%s</td>
  <td>%s%s</td>
  <td>%s</td>
  <td>%s</td>
</tr>
`,
				html.EscapeString(s.ID),
				html.EscapeString(s.Name),
				html.EscapeString(s.Status), html.EscapeString(s.Status),
				s.TotalRequests, s.BlockedCount,
				currency, formatCost(s.Cost),
				currency, formatCost(s.Saved),
				budgetCell(s.Budget),
				formatAgo(now.Sub(s.LastActivity)),
			)
		}
		b.WriteString("</table>")
	}

	b.WriteString("\n</body>\n</html>")
	_, _ = io.WriteString(w, b.String())
}

func writeStat(b *strings.Builder, label, class, value string) {
	fmt.Fprintf(b, `  <div class="stat">
    <div class="stat-label">%s</div>
    <div class="stat-value %s">%s</div>
  </div>
`, label, class, html.EscapeString(value))
}

func budgetCell(bs BudgetStatus) string {
	if bs.Unlimited {
		return "Unlimited"
	}
	pct := bs.PercentUsed
	if pct > 100 {
		pct = 100
	}

	barClass := "bar-ok"
	if pct > 80 {
		barClass = "bar-danger"
	} else if pct > 50 {
		barClass = "bar-warn"
	}
	return fmt.Sprintf(`<div class="bar-container"><div class="bar %s" style="width:%.0f%%"></div></div>%.0f%%`, barClass, pct, pct)
}

func formatAgo(ago time.Duration) string {
	switch {
	case ago < time.Minute:
		return fmt.Sprintf("%ds ago", int(ago.Seconds()))
	case ago < time.Hour:
		return fmt.Sprintf("%dm ago", int(ago.Minutes()))
	case ago < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(ago.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(ago.Hours()/24))
	}
}

// formatCost formats a dollar amount, using more decimal places for small values.
func formatCost(v float64) string {
	if v >= 1.0 {
		return fmt.Sprintf("%.2f", v)
	}
	return fmt.Sprintf("%.4f", v)
}
