package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/apibouncer/internal/config"
)

const testFingerprint = "test-machine|tester|testhost"

func openTest(t *testing.T, dir string) *Vault {
	t.Helper()
	v, err := Open(dir, WithFingerprint(testFingerprint))
	require.NoError(t, err)
	return v
}

func TestVault_RoundTripAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	v := openTest(t, dir)
	require.NoError(t, v.SetKey("openai", "sk-abc"))
	require.NoError(t, v.SetKey("fal", "fal-123"))

	restarted := openTest(t, dir)
	key, ok := restarted.GetKey("openai")
	require.True(t, ok)
	assert.Equal(t, "sk-abc", key)
	assert.Equal(t, []string{"fal", "openai"}, restarted.ListProviders())
	assert.True(t, restarted.HasKey("fal"))
	assert.False(t, restarted.HasKey("anthropic"))
}

func TestVault_FilesArePrivateAndOpaque(t *testing.T) {
	dir := t.TempDir()
	v := openTest(t, dir)
	require.NoError(t, v.SetKey("openai", "sk-secret-value"))

	salt, err := os.ReadFile(filepath.Join(dir, config.VaultSaltFileName))
	require.NoError(t, err)
	assert.Len(t, salt, 16)

	blob, err := os.ReadFile(filepath.Join(dir, config.VaultKeysFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "sk-secret-value")

	for _, name := range []string{config.VaultSaltFileName, config.VaultKeysFileName} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), name)
	}
}

func TestVault_CorruptCiphertextYieldsNoKeys(t *testing.T) {
	dir := t.TempDir()
	v := openTest(t, dir)
	require.NoError(t, v.SetKey("openai", "sk-abc"))

	path := filepath.Join(dir, config.VaultKeysFileName)
	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, blob, 0600))

	reloaded := openTest(t, dir)
	assert.Empty(t, reloaded.ListProviders())

	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
	assert.Empty(t, openTest(t, dir).ListProviders())
}

func TestVault_OtherMachineYieldsNoKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, openTest(t, dir).SetKey("openai", "sk-abc"))

	other, err := Open(dir, WithFingerprint("another-machine"))
	require.NoError(t, err)
	assert.Empty(t, other.ListProviders())
}

func TestVault_DeleteKey(t *testing.T) {
	dir := t.TempDir()
	v := openTest(t, dir)
	require.NoError(t, v.SetKey("openai", "sk-abc"))

	deleted, err := v.DeleteKey("openai")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = v.DeleteKey("openai")
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.Empty(t, openTest(t, dir).ListProviders())
}

func TestVault_RejectsEmptyInput(t *testing.T) {
	v := openTest(t, t.TempDir())
	assert.Error(t, v.SetKey(" ", "sk"))
	assert.Error(t, v.SetKey("openai", ""))
}

func TestVault_UnavailableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	_, err := Open(filepath.Join(blocker, "vault"), WithFingerprint(testFingerprint))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestVault_ReloadSeesOtherProcess(t *testing.T) {
	dir := t.TempDir()
	a := openTest(t, dir)
	b := openTest(t, dir)

	require.NoError(t, b.SetKey("google", "g-key"))
	assert.False(t, a.HasKey("google"))
	a.Reload()
	assert.True(t, a.HasKey("google"))
}

func TestFingerprint_Stable(t *testing.T) {
	assert.Equal(t, Fingerprint(), Fingerprint())
	assert.Len(t, Fingerprint(), 64)
}
