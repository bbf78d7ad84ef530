package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/compresr/apibouncer/internal/bouncer"
	"github.com/compresr/apibouncer/internal/utils"
)

var vaultUsage = []string{
	"bouncer vault set PROVIDER      (prompts for the key, or reads it from stdin)",
	"bouncer vault list",
	"bouncer vault has PROVIDER",
	"bouncer vault delete PROVIDER",
}

func runVaultCommand(b *bouncer.Bouncer, args []string) error {
	if len(args) == 0 {
		return printUsage(vaultUsage...)
	}
	v, err := b.Vault()
	if err != nil {
		return err
	}

	switch args[0] {
	case "set":
		provider, err := oneID(args[1:], vaultUsage[0])
		if err != nil {
			return err
		}
		key, err := readSecret(fmt.Sprintf("API key for %s: ", provider), os.Stdin)
		if err != nil {
			return err
		}
		if err := v.SetKey(provider, key); err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Stored key for %s (%s)", provider, utils.MaskKeyShort(key)))
		return nil

	case "list":
		providers := v.ListProviders()
		if len(providers) == 0 {
			printInfo("Vault is empty. Add a key with: bouncer vault set PROVIDER")
			return nil
		}
		printHeader("Stored keys")
		for _, p := range providers {
			key, _ := v.GetKey(p)
			fmt.Printf("  %-12s %s%s%s\n", p, colorDim, utils.MaskKeyShort(key), colorReset)
		}
		return nil

	case "has":
		provider, err := oneID(args[1:], vaultUsage[2])
		if err != nil {
			return err
		}
		if !v.HasKey(provider) {
			return fmt.Errorf("no key stored for %s", provider)
		}
		printSuccess(fmt.Sprintf("Key stored for %s", provider))
		return nil

	case "delete":
		provider, err := oneID(args[1:], vaultUsage[3])
		if err != nil {
			return err
		}
		deleted, err := v.DeleteKey(provider)
		if err != nil {
			return err
		}
		if !deleted {
			printWarn(fmt.Sprintf("No key stored for %s", provider))
			return nil
		}
		printSuccess(fmt.Sprintf("Deleted key for %s", provider))
		return nil
	}

	printError(fmt.Sprintf("unknown vault command: %s", args[0]))
	return printUsage(vaultUsage...)
}

// readSecret prompts without echo on a terminal; otherwise it reads the
// first line of in so keys can be piped.
func readSecret(prompt string, in *os.File) (string, error) {
	var (
		raw string
		err error
	)
	if fd := int(in.Fd()); term.IsTerminal(fd) {
		fmt.Print(prompt)
		var b []byte
		b, err = term.ReadPassword(fd)
		fmt.Println()
		raw = string(b)
	} else {
		raw, err = readLine(in)
	}
	if err != nil {
		return "", fmt.Errorf("read key: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty key")
	}
	return raw, nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return line, nil
}
