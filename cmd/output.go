package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/compresr/apibouncer/internal/costcontrol"
	"github.com/compresr/apibouncer/internal/session"
)

const (
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorCyan   = "\033[0;36m"
	colorRed    = "\033[0;31m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorReset  = "\033[0m"
)

func printHeader(title string) {
	fmt.Printf("%s%s========================================%s\n", colorBold, colorCyan, colorReset)
	fmt.Printf("%s%s  %s%s\n", colorBold, colorCyan, title, colorReset)
	fmt.Printf("%s%s========================================%s\n", colorBold, colorCyan, colorReset)
}

func printSuccess(msg string) {
	fmt.Printf("%s[OK]%s %s\n", colorGreen, colorReset, msg)
}

func printInfo(msg string) {
	fmt.Printf("\033[0;34m[INFO]%s %s\n", colorReset, msg)
}

func printWarn(msg string) {
	fmt.Printf("%s[WARN]%s %s\n", colorYellow, colorReset, msg)
}

func printError(msg string) {
	fmt.Printf("%s[ERROR]%s %s\n", colorRed, colorReset, msg)
}

func printUsage(lines ...string) error {
	fmt.Println("Usage:")
	for _, l := range lines {
		fmt.Println("  " + l)
	}
	return errUsage
}

func statusLabel(s session.Status) string {
	switch s {
	case session.StatusActive:
		return colorGreen + "active" + colorReset
	case session.StatusWarned:
		return colorYellow + "warned" + colorReset
	case session.StatusBanned:
		return colorRed + "banned" + colorReset
	}
	return string(s)
}

func formatMoney(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func formatBudget(b costcontrol.BudgetStatus) string {
	if b.Unlimited {
		return "unlimited (" + formatMoney(b.Spent) + " spent)"
	}
	return fmt.Sprintf("%s / %s (%.0f%% used, %s left)",
		formatMoney(b.Spent), formatMoney(b.Limit), b.PercentUsed, formatMoney(b.Remaining))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return colorDim + "(any)" + colorReset
	}
	return strings.Join(items, ", ")
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return t.Local().Format("2006-01-02 15:04")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
