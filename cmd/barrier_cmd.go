package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/compresr/apibouncer/internal/barrier"
	"github.com/compresr/apibouncer/internal/bouncer"
)

var barrierUsage = []string{
	"bouncer barrier list",
	"bouncer barrier approve ID | --all",
	"bouncer barrier deny ID | --all",
	"bouncer barrier watch [--interactive]",
	"bouncer barrier purge",
	"bouncer barrier mode [on|off]",
}

func runBarrierCommand(b *bouncer.Bouncer, args []string) error {
	if len(args) == 0 {
		return printUsage(barrierUsage...)
	}
	ctx := context.Background()
	q := b.Queue()

	switch args[0] {
	case "list":
		pending, err := q.Pending(ctx)
		if err != nil {
			return err
		}
		printPending(pending)
		return nil

	case "approve", "deny":
		approve := args[0] == "approve"
		if len(args) != 2 {
			return printUsage(barrierUsage[1], barrierUsage[2])
		}
		if args[1] == "--all" {
			n, err := q.DecideAll(ctx, approve)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("%s %d pending request(s)", verb(approve), n))
			return nil
		}
		return decideOne(ctx, q, args[1], approve)

	case "watch":
		interactive := len(args) > 1 && (args[1] == "--interactive" || args[1] == "-i")
		return watchQueue(b, interactive)

	case "purge":
		n, err := q.Purge(ctx)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Purged %d decided request(s)", n))
		return nil

	case "mode":
		if len(args) == 1 {
			printInfo(fmt.Sprintf("Global barrier mode: %s", onOff(b.Settings().BarrierMode())))
			return nil
		}
		on, err := parseOnOff(args[1])
		if err != nil {
			return err
		}
		if err := b.Engine().SetBarrierMode(ctx, on); err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Global barrier mode %s", onOff(on)))
		return nil
	}

	printError(fmt.Sprintf("unknown barrier command: %s", args[0]))
	return printUsage(barrierUsage...)
}

func decideOne(ctx context.Context, q barrier.Queue, id string, approve bool) error {
	changed, err := q.Decide(ctx, id, approve)
	if err != nil {
		return err
	}
	if !changed {
		state, err := q.Status(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("request %s is %s, nothing to decide", id, state)
	}
	printSuccess(fmt.Sprintf("%s %s", verb(approve), id))
	return nil
}

func printPending(pending []barrier.Request) {
	if len(pending) == 0 {
		printInfo("No pending requests")
		return
	}
	printHeader(fmt.Sprintf("%d pending request(s)", len(pending)))
	for _, r := range pending {
		printTicket(r)
	}
}

func printTicket(r barrier.Request) {
	name := r.SessionName
	if name == "" {
		name = r.SessionID
	}
	fmt.Printf("  %s%s%s  %s\n", colorBold, r.ID, colorReset, formatAge(r.Timestamp.Time))
	fmt.Printf("      %s  %s/%s  %s\n", name, r.Provider, r.Model, formatMoney(r.EstimatedCost))
	if r.PromptPreview != "" {
		fmt.Printf("      %s%q%s\n", colorDim, r.PromptPreview, colorReset)
	}
}

// watchQueue re-lists pending requests whenever the queue file changes. In
// interactive mode each new request is approved or denied from stdin.
func watchQueue(b *bouncer.Bouncer, interactive bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q := b.Queue()
	w := barrier.NewWatcher(q.Path())
	if err := w.Start(ctx); err != nil {
		return err
	}
	printInfo(fmt.Sprintf("Watching %s (Ctrl+C to stop)", q.Path()))

	in := bufio.NewReader(os.Stdin)
	seen := map[string]bool{}
	for {
		pending, err := q.Pending(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			printWarn(err.Error())
		case err == nil:
			for _, r := range unseenTickets(seen, pending) {
				printTicket(r)
				if interactive {
					promptDecision(ctx, q, in, r)
				}
			}
		}

		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-w.Changes():
		}
	}
}

// unseenTickets returns the pending tickets not shown yet and forgets ids
// that are no longer pending, so seen stays bounded by the queue size.
func unseenTickets(seen map[string]bool, pending []barrier.Request) []barrier.Request {
	current := make(map[string]bool, len(pending))
	var fresh []barrier.Request
	for _, r := range pending {
		current[r.ID] = true
		if !seen[r.ID] {
			seen[r.ID] = true
			fresh = append(fresh, r)
		}
	}
	for id := range seen {
		if !current[id] {
			delete(seen, id)
		}
	}
	return fresh
}

func promptDecision(ctx context.Context, q barrier.Queue, in *bufio.Reader, r barrier.Request) {
	fmt.Printf("      %sApprove? [y/N]%s ", colorYellow, colorReset)
	answer, err := in.ReadString('\n')
	if err != nil {
		return
	}
	approve := strings.EqualFold(strings.TrimSpace(answer), "y")
	if err := decideOne(ctx, q, r.ID, approve); err != nil {
		printWarn(err.Error())
	}
}

func verb(approve bool) string {
	if approve {
		return "Approved"
	}
	return "Denied"
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
