package bouncer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/compresr/apibouncer/internal/policy"
	"github.com/compresr/apibouncer/internal/session"
)

// ArtifactKind selects the directory a saved artifact goes to.
type ArtifactKind string

const (
	ArtifactImage ArtifactKind = "images"
	ArtifactVideo ArtifactKind = "videos"
	ArtifactAudio ArtifactKind = "audio"
)

var defaultExt = map[ArtifactKind]string{
	ArtifactImage: "png",
	ArtifactVideo: "mp4",
	ArtifactAudio: "mp3",
}

// CredentialFor returns the vault key for provider, provided the session
// exists, is not banned and lists provider in allowed_keys (empty = all).
// The key is handed to provider clients only; it never appears in logs or
// query results.
func (b *Bouncer) CredentialFor(sessionID, provider string) (string, error) {
	info, err := b.Query().SessionInfo(sessionID)
	if err != nil {
		return "", err
	}
	if info.Status == session.StatusBanned {
		return "", &policy.Denial{
			Kind:      policy.KindSessionBanned,
			SessionID: sessionID,
			Message:   fmt.Sprintf("Session banned: %s", info.BanReason),
		}
	}
	if len(info.AllowedKeys) > 0 && !session.ContainsFold(info.AllowedKeys, provider) {
		return "", &policy.Denial{
			Kind:      policy.KindProviderNotAllowed,
			SessionID: sessionID,
			Message:   fmt.Sprintf("Session may not use the %s key", provider),
		}
	}

	v, err := b.Vault()
	if err != nil {
		return "", err
	}
	v.Reload()
	key, ok := v.GetKey(provider)
	if !ok {
		return "", fmt.Errorf("%w: no key configured for %q", policy.ErrVaultUnavailable, provider)
	}
	return key, nil
}

// ArtifactPath returns a fresh path for a generated artifact, creating its
// directory: <data>/<kind>/<prefix>_<YYYYmmdd_HHMMSS>_<id8>.<ext>. The
// prefix is the first random block of the session id.
func (b *Bouncer) ArtifactPath(kind ArtifactKind, sessionID, ext string) (string, error) {
	if _, ok := defaultExt[kind]; !ok {
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = defaultExt[kind]
	}

	dir := b.cfg.Path(string(kind))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create %s dir: %w", kind, err)
	}
	name := fmt.Sprintf("%s_%s_%s.%s",
		sessionPrefix(sessionID),
		b.now().Format("20060102_150405"),
		uuid.NewString()[:8],
		ext)
	return filepath.Join(dir, name), nil
}

func sessionPrefix(id string) string {
	if parts := strings.Split(id, "-"); len(parts) > 1 && parts[1] != "" {
		return parts[1]
	}
	if len(id) > 4 {
		return id[:4]
	}
	return id
}
