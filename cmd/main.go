// Package main is the bouncer CLI: session administration, the credential
// vault, the human approval queue, the panic switch and the dashboard server.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/compresr/apibouncer/internal/bouncer"
	"github.com/compresr/apibouncer/internal/config"
	"github.com/compresr/apibouncer/internal/monitoring"
)

// Version is set at build time via ldflags.
var Version = "v0.1.0"

// errUsage marks errors already explained by a usage message.
var errUsage = errors.New("invalid usage")

// command is a subcommand entry point.
type command func(b *bouncer.Bouncer, args []string) error

var commands = map[string]command{
	"session":  runSessionCommand,
	"vault":    runVaultCommand,
	"barrier":  runBarrierCommand,
	"panic":    runPanicCommand,
	"settings": runSettingsCommand,
	"prices":   runPricesCommand,
	"stats":    runStatsCommand,
	"history":  runHistoryCommand,
	"serve":    runServeCommand,
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run parses global options, builds the process context and dispatches.
func run(args []string) int {
	var (
		configFlag string
		debugFlag  bool
	)

	i := 0
parseLoop:
	for i < len(args) {
		switch args[i] {
		case "-h", "--help", "help":
			printHelp()
			return 0
		case "-v", "--version", "version":
			fmt.Println("bouncer", Version)
			return 0
		case "-c", "--config":
			if i+1 >= len(args) {
				printError("--config requires a value")
				return 2
			}
			configFlag = args[i+1]
			i += 2
		case "-d", "--debug":
			debugFlag = true
			i++
		default:
			break parseLoop
		}
	}
	args = args[i:]
	if len(args) == 0 {
		printHelp()
		return 2
	}

	cmd, ok := commands[args[0]]
	if !ok {
		printError(fmt.Sprintf("unknown command: %s", args[0]))
		printHelp()
		return 2
	}

	b, closer, err := setup(configFlag, debugFlag)
	if err != nil {
		printError(err.Error())
		return 1
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("bouncer: close failed")
		}
		_ = closer.Close()
	}()

	if err := cmd(b, args[1:]); err != nil {
		if !errors.Is(err, errUsage) {
			printError(err.Error())
		}
		return 1
	}
	return 0
}

// setup loads .env files and bouncer.yaml, configures logging and opens
// every component.
func setup(configPath string, debug bool) (*bouncer.Bouncer, io.Closer, error) {
	config.LoadEnvFiles()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	closer, err := monitoring.SetupLogging(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("setup logging: %w", err)
	}

	b, err := bouncer.New(cfg)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return b, closer, nil
}

func printHelp() {
	fmt.Println("API Bouncer - spending and policy guard for paid API calls")
	fmt.Println()
	fmt.Println("Usage: bouncer [OPTIONS] COMMAND [ARGS...]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -c, --config FILE    bouncer.yaml (default: <data dir>/bouncer.yaml)")
	fmt.Println("  -d, --debug          Enable debug logging")
	fmt.Println("  -v, --version        Print version")
	fmt.Println("  -h, --help           Show this help")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  session    create, list, show, policy, ban, unban, warn, reset, delete, clear-history")
	fmt.Println("  vault      set, list, has, delete provider credentials")
	fmt.Println("  barrier    list, approve, deny, watch, purge, mode")
	fmt.Println("  panic      on, off, status")
	fmt.Println("  settings   show, set")
	fmt.Println("  prices     show the effective price table")
	fmt.Println("  stats      totals across sessions")
	fmt.Println("  history    recent attempts")
	fmt.Println("  serve      cost dashboard and Prometheus metrics")
	fmt.Println()
	fmt.Println("Data directory: $APIBOUNCER_HOME, else <user config dir>/apibouncer")
}
