// Package vault keeps provider credentials encrypted at rest.
//
// DESIGN: A random 16-byte salt is created once (.salt). The key is
// PBKDF2-HMAC-SHA256(fingerprint, salt, 100000 iterations, 32 bytes) where
// the fingerprint hashes local machine identifiers. The whole provider->key
// map is one AES-256-GCM blob (.keys.enc, nonce prefixed). A blob that fails
// to decrypt (corruption, another machine) loads as an empty vault.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"

	"github.com/compresr/apibouncer/internal/config"
	"github.com/compresr/apibouncer/internal/utils"
)

const (
	saltSize   = 16
	keySize    = 32
	iterations = 100000
)

// ErrUnavailable means the vault directory or salt cannot be used.
var ErrUnavailable = errors.New("vault unavailable")

// Vault is an encrypted provider -> credential map.
type Vault struct {
	saltPath string
	keysPath string
	aead     cipher.AEAD

	mu   sync.Mutex
	keys map[string]string
}

// Option configures Open.
type Option func(*options)

type options struct {
	fingerprint string
}

// WithFingerprint replaces the machine fingerprint (tests, migrations).
func WithFingerprint(fp string) Option {
	return func(o *options) { o.fingerprint = fp }
}

// Open loads the vault stored in dir, creating the salt on first use.
func Open(dir string, opts ...Option) (*Vault, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fingerprint == "" {
		o.fingerprint = Fingerprint()
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: create dir: %w", ErrUnavailable, err)
	}

	v := &Vault{
		saltPath: filepath.Join(dir, config.VaultSaltFileName),
		keysPath: filepath.Join(dir, config.VaultKeysFileName),
		keys:     map[string]string{},
	}

	salt, err := loadOrCreateSalt(v.saltPath)
	if err != nil {
		return nil, err
	}
	key := pbkdf2.Key([]byte(o.fingerprint), salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: create cipher: %w", ErrUnavailable, err)
	}
	v.aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: create gcm: %w", ErrUnavailable, err)
	}

	v.load()
	return v, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	switch {
	case err == nil && len(salt) > 0:
		return salt, nil
	case err == nil:
		return nil, fmt.Errorf("%w: empty salt file %s", ErrUnavailable, path)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: read salt: %w", ErrUnavailable, err)
	}

	salt = make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("%w: generate salt: %w", ErrUnavailable, err)
	}
	if err := utils.WriteFileAtomic(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("%w: write salt: %w", ErrUnavailable, err)
	}
	return salt, nil
}

// load decrypts .keys.enc. Any failure leaves the vault empty.
func (v *Vault) load() {
	data, err := os.ReadFile(v.keysPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", v.keysPath).Msg("vault: read failed, no keys loaded")
		}
		return
	}
	plain, err := v.decrypt(data)
	if err != nil {
		log.Warn().Err(err).Str("path", v.keysPath).Msg("vault: cannot decrypt keys, re-provision them")
		return
	}
	keys := map[string]string{}
	if err := json.Unmarshal(plain, &keys); err != nil {
		log.Warn().Err(err).Str("path", v.keysPath).Msg("vault: corrupt key map, re-provision keys")
		return
	}
	v.keys = keys
}

// Reload re-reads the ciphertext, picking up keys set by another process.
func (v *Vault) Reload() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys = map[string]string{}
	v.load()
}

// SetKey stores a credential and rewrites the vault.
func (v *Vault) SetKey(provider, key string) error {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return errors.New("vault: provider name is required")
	}
	if key == "" {
		return errors.New("vault: key is empty")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.keys[provider] = key
	if err := v.saveLocked(); err != nil {
		return err
	}
	log.Info().Str("provider", provider).Str("key", utils.MaskKeyShort(key)).Msg("vault: key stored")
	return nil
}

// GetKey returns the credential for provider.
func (v *Vault) GetKey(provider string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	key, ok := v.keys[strings.TrimSpace(provider)]
	return key, ok
}

// HasKey reports whether a credential exists for provider.
func (v *Vault) HasKey(provider string) bool {
	_, ok := v.GetKey(provider)
	return ok
}

// DeleteKey removes a credential. Returns false when none existed.
func (v *Vault) DeleteKey(provider string) (bool, error) {
	provider = strings.TrimSpace(provider)

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.keys[provider]; !ok {
		return false, nil
	}
	delete(v.keys, provider)
	if err := v.saveLocked(); err != nil {
		return true, err
	}
	log.Info().Str("provider", provider).Msg("vault: key deleted")
	return true, nil
}

// ListProviders returns the providers with a stored key, sorted.
func (v *Vault) ListProviders() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	names := make([]string, 0, len(v.keys))
	for name := range v.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v *Vault) saveLocked() error {
	plain, err := json.Marshal(v.keys)
	if err != nil {
		return fmt.Errorf("vault: marshal keys: %w", err)
	}
	blob, err := v.encrypt(plain)
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(v.keysPath, blob, 0600); err != nil {
		return fmt.Errorf("vault: write keys: %w", err)
	}
	return nil
}

// encrypt seals plaintext with a random nonce prepended.
func (v *Vault) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *Vault) decrypt(data []byte) ([]byte, error) {
	n := v.aead.NonceSize()
	if len(data) < n {
		return nil, errors.New("ciphertext too short")
	}
	nonce, sealed := data[:n], data[n:]
	return v.aead.Open(nil, nonce, sealed, nil)
}
