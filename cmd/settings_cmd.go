package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/compresr/apibouncer/internal/bouncer"
	"github.com/compresr/apibouncer/internal/config"
	"github.com/compresr/apibouncer/internal/costcontrol"
	"github.com/compresr/apibouncer/internal/ledger"
	"github.com/compresr/apibouncer/internal/utils"
)

var settingsUsage = []string{
	"bouncer settings show",
	"bouncer settings set auto_ban_threshold|warning_threshold|max_history N",
	"bouncer settings set global_banned_models a,b",
	"bouncer settings price PROVIDER MODEL USD | quality=USD,...",
	"bouncer settings unprice PROVIDER MODEL",
}

func runPanicCommand(b *bouncer.Bouncer, args []string) error {
	if len(args) == 0 || args[0] == "status" {
		if b.Settings().PanicMode() {
			printWarn("Panic mode is ON: every request is blocked")
		} else {
			printInfo("Panic mode is off")
		}
		return nil
	}
	on, err := parseOnOff(args[0])
	if err != nil {
		return printUsage("bouncer panic on|off|status")
	}
	if err := b.Engine().SetPanicMode(context.Background(), on); err != nil {
		return err
	}
	if on {
		printWarn("Panic mode ON: every request is blocked")
	} else {
		printSuccess("Panic mode off")
	}
	return nil
}

func runSettingsCommand(b *bouncer.Bouncer, args []string) error {
	if len(args) == 0 || args[0] == "show" {
		data, err := utils.MarshalIndentNoEscape(b.Settings().Reload())
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	var fn func(*config.Settings) error
	switch args[0] {
	case "set":
		if len(args) != 3 {
			return printUsage(settingsUsage[1], settingsUsage[2])
		}
		fn = settingsSetter(args[1], args[2])
	case "price":
		if len(args) != 4 {
			return printUsage(settingsUsage[3])
		}
		price, err := parsePrice(args[3])
		if err != nil {
			return err
		}
		provider, model := strings.ToLower(args[1]), args[2]
		fn = func(s *config.Settings) error {
			if s.Prices == nil {
				s.Prices = costcontrol.PriceTable{}
			}
			if s.Prices[provider] == nil {
				s.Prices[provider] = map[string]costcontrol.Price{}
			}
			s.Prices[provider][model] = price
			return nil
		}
	case "unprice":
		if len(args) != 3 {
			return printUsage(settingsUsage[4])
		}
		provider, model := strings.ToLower(args[1]), args[2]
		fn = func(s *config.Settings) error {
			delete(s.Prices[provider], model)
			if len(s.Prices[provider]) == 0 {
				delete(s.Prices, provider)
			}
			return nil
		}
	default:
		printError(fmt.Sprintf("unknown settings command: %s", args[0]))
		return printUsage(settingsUsage...)
	}

	var applyErr error
	_, err := b.Engine().UpdateSettings(context.Background(), func(s *config.Settings) {
		applyErr = fn(s)
	})
	if applyErr != nil {
		return applyErr
	}
	if err != nil {
		return err
	}
	printSuccess("Settings updated")
	return nil
}

func settingsSetter(key, raw string) func(*config.Settings) error {
	positive := func(dst *int) error {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %q", key, raw)
		}
		*dst = n
		return nil
	}
	return func(s *config.Settings) error {
		switch key {
		case "auto_ban_threshold":
			return positive(&s.AutoBanThreshold)
		case "warning_threshold":
			return positive(&s.WarningThreshold)
		case "max_history":
			return positive(&s.MaxHistory)
		case "global_banned_models":
			s.GlobalBannedModels = splitList(raw)
			return nil
		}
		return fmt.Errorf("unknown setting %q", key)
	}
}

// parsePrice accepts "0.04" or "standard=0.04,hd=0.08".
func parsePrice(raw string) (costcontrol.Price, error) {
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		if v < 0 {
			return costcontrol.Price{}, fmt.Errorf("price must be >= 0, got %q", raw)
		}
		return costcontrol.Price{Flat: v}, nil
	}
	tiers := map[string]float64{}
	for _, part := range splitList(raw) {
		quality, value, ok := strings.Cut(part, "=")
		if !ok {
			return costcontrol.Price{}, fmt.Errorf("invalid price %q: want USD or quality=USD,...", raw)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || v < 0 {
			return costcontrol.Price{}, fmt.Errorf("invalid price for %s: %q", quality, value)
		}
		tiers[strings.ToLower(strings.TrimSpace(quality))] = v
	}
	if len(tiers) == 0 {
		return costcontrol.Price{}, fmt.Errorf("invalid price %q", raw)
	}
	return costcontrol.Price{ByQuality: tiers}, nil
}

func runPricesCommand(b *bouncer.Bouncer, args []string) error {
	table := b.Query().Prices()
	providers := table.Providers()
	if len(args) > 0 {
		providers = args
	}
	for _, provider := range providers {
		models, ok := table[strings.ToLower(provider)]
		if !ok {
			printWarn(fmt.Sprintf("No prices for %s", provider))
			continue
		}
		printHeader(provider)
		names := make([]string, 0, len(models))
		for m := range models {
			names = append(names, m)
		}
		sort.Strings(names)
		for _, m := range names {
			fmt.Printf("  %-28s %s\n", m, formatPrice(models[m]))
		}
	}
	fmt.Printf("\n%sUnknown models are charged %s%s\n", colorDim, formatMoney(costcontrol.FallbackPrice), colorReset)
	return nil
}

func formatPrice(p costcontrol.Price) string {
	if p.ByQuality == nil {
		return formatMoney(p.Flat)
	}
	qualities := make([]string, 0, len(p.ByQuality))
	for q := range p.ByQuality {
		qualities = append(qualities, q)
	}
	sort.Strings(qualities)
	parts := make([]string, 0, len(qualities))
	for _, q := range qualities {
		parts = append(parts, fmt.Sprintf("%s=%s", q, formatMoney(p.ByQuality[q])))
	}
	return strings.Join(parts, "  ")
}

func runStatsCommand(b *bouncer.Bouncer, _ []string) error {
	st := b.Query().Stats()
	printHeader("API Bouncer stats")
	fmt.Printf("  Sessions:  %d (%d active, %d warned, %d banned)\n",
		st.TotalSessions, st.ActiveSessions, st.WarnedSessions, st.BannedSessions)
	fmt.Printf("  Requests:  %d (%d allowed, %d blocked, %.1f%% block rate)\n",
		st.TotalRequests, st.TotalAllowed, st.TotalBlocked, st.BlockRate)
	fmt.Printf("  Spent:     %s\n", formatMoney(st.TotalSpent))
	fmt.Printf("  Saved:     %s%s%s\n", colorGreen, formatMoney(st.TotalSaved), colorReset)
	if b.Settings().PanicMode() {
		printWarn("Panic mode is ON")
	}
	return nil
}

func runHistoryCommand(b *bouncer.Bouncer, args []string) error {
	limit := 20
	var sessionID string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-n", "--limit":
			if i+1 >= len(args) {
				return printUsage("bouncer history [SESSION] [-n N]")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid limit %q", args[i+1])
			}
			limit = n
			i++
		default:
			sessionID = args[i]
		}
	}

	q := b.Query()
	entries := q.RecentHistory(limit)
	if sessionID != "" {
		entries = q.History(sessionID, limit)
	}
	if len(entries) == 0 {
		printInfo("No attempts recorded")
		return nil
	}
	for _, h := range entries {
		status := colorGreen + string(h.Status) + colorReset
		if h.Status != ledger.StatusAllowed {
			status = colorRed + string(h.Status) + colorReset
		}
		fmt.Printf("  %s  %-8s %s/%s %s\n", h.Timestamp.Local().Format("01-02 15:04:05"),
			status, h.Provider, h.Model, formatMoney(h.EstimatedCost))
		if h.Reason != "" {
			fmt.Printf("      %s\n", h.Reason)
		}
		if h.PromptPreview != "" {
			fmt.Printf("      %s%q%s\n", colorDim, h.PromptPreview, colorReset)
		}
	}
	return nil
}
