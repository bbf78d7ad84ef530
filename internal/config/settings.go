package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/apibouncer/internal/utils"
)

// Settings is the policy-wide document stored in settings.json.
type Settings struct {
	AutoBanThreshold   int        `json:"auto_ban_threshold"`
	WarningThreshold   int        `json:"warning_threshold"`
	MaxHistory         int        `json:"max_history"`
	PanicMode          bool       `json:"panic_mode"`
	BarrierMode        bool       `json:"barrier_mode"`
	GlobalBannedModels []string   `json:"global_banned_models"`
	Prices             PriceTable `json:"prices,omitempty"`
}

// DefaultSettings returns the settings used when settings.json is absent.
func DefaultSettings() Settings {
	return Settings{
		AutoBanThreshold:   DefaultAutoBanThreshold,
		WarningThreshold:   DefaultWarningThreshold,
		MaxHistory:         DefaultMaxHistory,
		GlobalBannedModels: []string{},
	}
}

func (s *Settings) normalize() {
	if s.AutoBanThreshold <= 0 {
		s.AutoBanThreshold = DefaultAutoBanThreshold
	}
	if s.WarningThreshold <= 0 {
		s.WarningThreshold = DefaultWarningThreshold
	}
	if s.MaxHistory <= 0 {
		s.MaxHistory = DefaultMaxHistory
	}
	if s.GlobalBannedModels == nil {
		s.GlobalBannedModels = []string{}
	}
}

// SettingsStore owns settings.json. Writes are merged into the existing
// document so keys written by other tools survive.
type SettingsStore struct {
	path string

	mu     sync.Mutex
	cached Settings
}

// OpenSettings loads settings.json. A missing or unreadable document degrades
// to defaults with a warning.
func OpenSettings(path string) *SettingsStore {
	s := &SettingsStore{path: path, cached: DefaultSettings()}
	s.Reload()
	return s
}

// Path returns the backing file.
func (s *SettingsStore) Path() string { return s.path }

// Snapshot returns the cached settings.
func (s *SettingsStore) Snapshot() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached
}

// Reload re-reads settings.json and returns the result.
func (s *SettingsStore) Reload() Settings {
	loaded := DefaultSettings()
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		log.Warn().Err(err).Str("path", s.path).Msg("settings: read failed, using defaults")
	default:
		if err := json.Unmarshal(data, &loaded); err != nil {
			log.Warn().Err(err).Str("path", s.path).Msg("settings: corrupt document, using defaults")
			loaded = DefaultSettings()
		}
	}
	loaded.normalize()

	s.mu.Lock()
	s.cached = loaded
	s.mu.Unlock()
	return loaded
}

// PanicMode reads the panic flag from disk so a switch made by another
// process is seen on the next check. Falls back to the cached value.
func (s *SettingsStore) PanicMode() bool {
	return s.readFlag("panic_mode", func(st *Settings) *bool { return &st.PanicMode })
}

// BarrierMode reads the global barrier flag from disk.
func (s *SettingsStore) BarrierMode() bool {
	return s.readFlag("barrier_mode", func(st *Settings) *bool { return &st.BarrierMode })
}

// SetPanicMode persists the panic flag.
func (s *SettingsStore) SetPanicMode(on bool) error {
	return s.setFlag("panic_mode", on, func(st *Settings) *bool { return &st.PanicMode })
}

// SetBarrierMode persists the global barrier flag.
func (s *SettingsStore) SetBarrierMode(on bool) error {
	return s.setFlag("barrier_mode", on, func(st *Settings) *bool { return &st.BarrierMode })
}

// Update applies fn to a fresh copy of the settings and persists every
// field it knows about.
func (s *SettingsStore) Update(fn func(*Settings)) error {
	next := s.Reload()
	fn(&next)
	next.normalize()

	fields, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.readDocLocked()
	var setErr error
	gjson.ParseBytes(fields).ForEach(func(key, value gjson.Result) bool {
		doc, setErr = sjson.SetRawBytes(doc, key.String(), []byte(value.Raw))
		return setErr == nil
	})
	if setErr != nil {
		return fmt.Errorf("merge settings: %w", setErr)
	}
	if err := s.writeDocLocked(doc); err != nil {
		return err
	}
	s.cached = next
	return nil
}

func (s *SettingsStore) readFlag(key string, field func(*Settings) *bool) bool {
	data, err := os.ReadFile(s.path)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case errors.Is(err, os.ErrNotExist):
		return false
	case err != nil || !gjson.ValidBytes(data):
		return *field(&s.cached)
	}
	v := gjson.GetBytes(data, key).Bool()
	*field(&s.cached) = v
	return v
}

func (s *SettingsStore) setFlag(key string, on bool, field func(*Settings) *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := sjson.SetBytes(s.readDocLocked(), key, on)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	if err := s.writeDocLocked(doc); err != nil {
		return err
	}
	*field(&s.cached) = on
	return nil
}

// readDocLocked returns the current document bytes, or "{}" when the file
// is missing or not valid JSON.
func (s *SettingsStore) readDocLocked() []byte {
	data, err := os.ReadFile(s.path)
	if err != nil || !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return []byte("{}")
	}
	return data
}

func (s *SettingsStore) writeDocLocked(doc []byte) error {
	pretty := gjson.Get(string(doc), "@pretty").Raw
	if err := utils.WriteFileAtomic(s.path, []byte(pretty), 0600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
