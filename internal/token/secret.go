package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/crypto/hkdf"

	"botgate/internal/platform/config"
)

const (
	// SecretKey is the configuration key holding the master secret
	// (BOTGATE_SECRET in the environment).
	SecretKey = "secret"

	minSecretLen = 16
	subkeyLen    = 32
	hkdfInfo     = "botgate token v1 "
)

// LoadSecret reads the master secret from p. A value prefixed "base64:" is
// decoded; anything else is used as raw bytes. When no secret is configured
// a random 32-byte secret is generated: tokens it signs are only verifiable
// by this process.
func LoadSecret(p config.Provider, logger *slog.Logger) ([]byte, error) {
	if v := config.String(p, SecretKey, ""); v != "" {
		if enc, ok := strings.CutPrefix(v, "base64:"); ok {
			secret, err := base64.StdEncoding.DecodeString(enc)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", SecretKey, err)
			}
			return secret, nil
		}
		return []byte(v), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate ephemeral secret: %w", err)
	}
	if logger != nil {
		logger.Warn("no signing secret configured, using an ephemeral per-process secret",
			"event", "token_ephemeral_secret")
	}
	return secret, nil
}

func deriveKey(secret []byte, typ Type) ([]byte, error) {
	key := make([]byte, subkeyLen)
	r := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo+string(typ)))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", typ, err)
	}
	return key, nil
}
