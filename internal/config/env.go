package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// LoadEnvFiles loads .env files without overriding variables already set.
// With no arguments it tries ./.env and then <data dir>/.env, in that order,
// so APIBOUNCER_HOME may itself come from ./.env. Returns the loaded paths.
func LoadEnvFiles(paths ...string) []string {
	defaults := len(paths) == 0
	if defaults {
		paths = []string{".env"}
	}

	var loaded []string
	load := func(p string) {
		if _, err := os.Stat(p); err != nil {
			return
		}
		if err := godotenv.Load(p); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("config: failed to load env file")
			return
		}
		loaded = append(loaded, p)
	}

	for _, p := range paths {
		load(p)
	}
	if defaults {
		load(filepath.Join(DataDir(), ".env"))
	}
	return loaded
}
