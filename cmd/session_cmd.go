package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/compresr/apibouncer/internal/bouncer"
	"github.com/compresr/apibouncer/internal/policy"
	"github.com/compresr/apibouncer/internal/session"
)

var sessionUsage = []string{
	"bouncer session create NAME [POLICY FLAGS]",
	"bouncer session list",
	"bouncer session show ID",
	"bouncer session policy ID POLICY FLAGS",
	"bouncer session ban ID [REASON]",
	"bouncer session unban|warn|reset|delete|clear-history ID",
	"",
	"Policy flags:",
	"  --models a,b         allowed models (prefix wildcard: gpt-image*)",
	"  --ban-models a,b     banned models",
	"  --any-model          do not require the model whitelist",
	"  --whitelist          require the model whitelist (default)",
	"  --qualities a,b      allowed qualities",
	"  --ban-qualities a,b  banned qualities",
	"  --max-duration SEC   longest media duration, 0 = unlimited",
	"  --rate N             requests per period, 0 = unlimited",
	"  --period SEC         rate limit period (default 3600)",
	"  --providers a,b      allowed providers",
	"  --keys a,b           vault keys the session may use",
	"  --budget USD         spending cap, 0 = unlimited",
	"  --barrier MODE       on, off or inherit",
}

func runSessionCommand(b *bouncer.Bouncer, args []string) error {
	if len(args) == 0 {
		return printUsage(sessionUsage...)
	}
	ctx := context.Background()
	e := b.Engine()
	sub, rest := args[0], args[1:]

	switch sub {
	case "create":
		apply, pos, err := parsePolicyFlags(rest)
		if err != nil {
			return err
		}
		if len(pos) == 0 {
			return printUsage(sessionUsage[0])
		}
		s, err := e.CreateSession(ctx, strings.Join(pos, " "), apply)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Created session %q", s.Name))
		fmt.Printf("  ID: %s%s%s\n", colorBold, s.ID, colorReset)
		return nil

	case "list":
		return listSessions(b)

	case "show":
		id, err := oneID(rest, sessionUsage[2])
		if err != nil {
			return err
		}
		return showSession(b, id)

	case "policy":
		if len(rest) == 0 {
			return printUsage(sessionUsage[3])
		}
		apply, pos, err := parsePolicyFlags(rest[1:])
		if err != nil {
			return err
		}
		if len(pos) > 0 {
			return fmt.Errorf("unexpected argument %q", pos[0])
		}
		if _, err := e.UpdatePolicy(ctx, rest[0], apply); err != nil {
			return err
		}
		printSuccess("Policy updated")
		return showSession(b, rest[0])

	case "ban":
		if len(rest) == 0 {
			return printUsage(sessionUsage[4])
		}
		s, err := e.BanSession(ctx, rest[0], strings.Join(rest[1:], " "))
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Banned %s: %s", s.ID, s.BanReason))
		return nil

	case "unban", "warn", "reset", "delete", "clear-history":
		id, err := oneID(rest, sessionUsage[5])
		if err != nil {
			return err
		}
		return sessionAction(ctx, e, sub, id)
	}

	printError(fmt.Sprintf("unknown session command: %s", sub))
	return printUsage(sessionUsage...)
}

func sessionAction(ctx context.Context, e *policy.Engine, action, id string) error {
	var err error
	switch action {
	case "unban":
		_, err = e.UnbanSession(ctx, id)
	case "warn":
		_, err = e.WarnSession(ctx, id)
	case "reset":
		_, err = e.ResetSessionStats(ctx, id)
	case "delete":
		err = e.DeleteSession(ctx, id)
	case "clear-history":
		var n int
		n, err = e.ClearSessionHistory(ctx, id)
		if err == nil {
			printSuccess(fmt.Sprintf("Removed %d attempts of %s", n, id))
			return nil
		}
	}
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("%s: %s done", id, action))
	return nil
}

func oneID(args []string, usage string) (string, error) {
	if len(args) != 1 {
		return "", printUsage(usage)
	}
	return args[0], nil
}

func listSessions(b *bouncer.Bouncer) error {
	sessions := b.Query().Sessions()
	if len(sessions) == 0 {
		printInfo("No sessions. Create one with: bouncer session create NAME")
		return nil
	}
	printHeader("Sessions")
	for _, s := range sessions {
		fmt.Printf("  %s%s%s  %-20s %s\n", colorBold, s.ID, colorReset, s.Name, statusLabel(s.Status))
		fmt.Printf("      requests %d (blocked %d)  budget %s  last %s\n",
			s.TotalRequests, s.BlockedRequests, formatBudget(s.Budget), formatAge(s.LastActivity.Time))
	}
	return nil
}

func showSession(b *bouncer.Bouncer, id string) error {
	s, err := b.Query().SessionInfo(id)
	if err != nil {
		return err
	}
	printHeader(s.Name)
	fmt.Printf("  ID:            %s\n", s.ID)
	fmt.Printf("  Status:        %s", statusLabel(s.Status))
	if s.BanReason != "" {
		fmt.Printf(" (%s)", s.BanReason)
	}
	fmt.Println()
	fmt.Printf("  Created:       %s\n", s.Created.Local().Format("2006-01-02 15:04"))
	fmt.Printf("  Last activity: %s\n", formatAge(s.LastActivity.Time))
	fmt.Println()
	fmt.Printf("  Models:        %s", formatList(s.AllowedModels))
	if !s.RequireModelWhitelist {
		fmt.Printf(" %s(whitelist off)%s", colorDim, colorReset)
	}
	fmt.Println()
	fmt.Printf("  Banned models: %s\n", formatList(s.BannedModels))
	fmt.Printf("  Qualities:     %s (banned: %s)\n", formatList(s.AllowedQualities), formatList(s.BannedQualities))
	fmt.Printf("  Providers:     %s\n", formatList(s.AllowedProviders))
	fmt.Printf("  Keys:          %s\n", formatList(s.AllowedKeys))
	if s.MaxDuration > 0 {
		fmt.Printf("  Max duration:  %gs\n", s.MaxDuration)
	}
	if s.RateLimit > 0 {
		fmt.Printf("  Rate limit:    %d per %ds\n", s.RateLimit, s.RateLimitPeriod)
	}
	fmt.Printf("  Budget:        %s\n", formatBudget(s.Budget))
	fmt.Printf("  Barrier:       %s\n", barrierLabel(s.BarrierMode, s.BarrierActive))
	fmt.Println()
	fmt.Printf("  Requests:      %d total, %d allowed, %d blocked\n", s.TotalRequests, s.AllowedRequests, s.BlockedRequests)
	fmt.Printf("  Spent:         %s   Saved: %s   Warnings: %d\n", formatMoney(s.TotalCost), formatMoney(s.BlockedCost), s.WarningCount)
	return nil
}

func barrierLabel(override *bool, active bool) string {
	state := "off"
	if active {
		state = "on"
	}
	if override == nil {
		return state + " (inherited)"
	}
	return state
}

// parsePolicyFlags turns policy flags into a policy mutation. Arguments
// that are not flags are returned as positionals.
func parsePolicyFlags(args []string) (func(*session.Policy), []string, error) {
	var (
		edits []func(*session.Policy)
		pos   []string
	)

	value := func(i int) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", args[i])
		}
		return args[i+1], nil
	}

	for i := 0; i < len(args); i++ {
		flag := args[i]
		if !strings.HasPrefix(flag, "--") {
			pos = append(pos, flag)
			continue
		}

		switch flag {
		case "--any-model":
			edits = append(edits, func(p *session.Policy) { p.RequireModelWhitelist = false })
			continue
		case "--whitelist":
			edits = append(edits, func(p *session.Policy) { p.RequireModelWhitelist = true })
			continue
		}

		raw, err := value(i)
		if err != nil {
			return nil, nil, err
		}
		i++

		switch flag {
		case "--models":
			list := splitList(raw)
			edits = append(edits, func(p *session.Policy) { p.AllowedModels = list })
		case "--ban-models":
			list := splitList(raw)
			edits = append(edits, func(p *session.Policy) { p.BannedModels = list })
		case "--qualities":
			list := splitList(raw)
			edits = append(edits, func(p *session.Policy) { p.AllowedQualities = list })
		case "--ban-qualities":
			list := splitList(raw)
			edits = append(edits, func(p *session.Policy) { p.BannedQualities = list })
		case "--providers":
			list := splitList(raw)
			edits = append(edits, func(p *session.Policy) { p.AllowedProviders = list })
		case "--keys":
			list := splitList(raw)
			edits = append(edits, func(p *session.Policy) { p.AllowedKeys = list })
		case "--max-duration":
			v, err := parseNonNegative(flag, raw)
			if err != nil {
				return nil, nil, err
			}
			edits = append(edits, func(p *session.Policy) { p.MaxDuration = v })
		case "--budget":
			v, err := parseNonNegative(flag, raw)
			if err != nil {
				return nil, nil, err
			}
			edits = append(edits, func(p *session.Policy) { p.BudgetLimit = v })
		case "--rate":
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return nil, nil, fmt.Errorf("--rate must be a non-negative integer, got %q", raw)
			}
			edits = append(edits, func(p *session.Policy) { p.RateLimit = n })
		case "--period":
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return nil, nil, fmt.Errorf("--period must be a positive number of seconds, got %q", raw)
			}
			edits = append(edits, func(p *session.Policy) { p.RateLimitPeriod = n })
		case "--barrier":
			mode, err := parseTriState(raw)
			if err != nil {
				return nil, nil, err
			}
			edits = append(edits, func(p *session.Policy) { p.BarrierMode = mode })
		default:
			return nil, nil, fmt.Errorf("unknown flag: %s", flag)
		}
	}

	return func(p *session.Policy) {
		for _, edit := range edits {
			edit(p)
		}
	}, pos, nil
}

func parseNonNegative(flag, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number, got %q", flag, raw)
	}
	return v, nil
}

func parseTriState(raw string) (*bool, error) {
	switch strings.ToLower(raw) {
	case "on", "true", "yes":
		v := true
		return &v, nil
	case "off", "false", "no":
		v := false
		return &v, nil
	case "inherit", "default", "":
		return nil, nil
	}
	return nil, fmt.Errorf("barrier mode must be on, off or inherit, got %q", raw)
}

func parseOnOff(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", raw)
}
