package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/user"
	"strings"

	"github.com/denisbrodbeck/machineid"
)

// Fingerprint hashes the machine id (when available), the user name and
// the host name. It is stable for one user on one machine.
func Fingerprint() string {
	var parts []string
	if id, err := machineid.ID(); err == nil && id != "" {
		parts = append(parts, strings.TrimSpace(id))
	}
	parts = append(parts, userName(), hostName())

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func userName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	for _, env := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return "user"
}

func hostName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "computer"
}
