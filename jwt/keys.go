package jwtkit

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPinnedKeysPath is where External Secrets mounts provisioned keys.
	DefaultPinnedKeysPath = "/vault/auth"
	pinnedKeysFile        = "keys.json"
)

// LoadPinnedKeys collects provisioned RSA public keys used as a degraded
// fallback when the issuer's key set cannot be fetched. Sources, highest
// priority first:
//
//  1. envJSON: a JSON map of key IDs to PEM-encoded public keys
//  2. dir/keys.json with a "public_keys" map of the same shape
//
// Returns (nil, nil) when neither source is present. Individual keys that fail
// to parse are skipped with a warning; a malformed document is an error.
//
// Example envJSON:
//
//	{"key-123": "-----BEGIN PUBLIC KEY-----\n...", "key-124": "-----BEGIN PUBLIC KEY-----\n..."}
func LoadPinnedKeys(envJSON, dir string, log logrus.FieldLogger) (map[string]*rsa.PublicKey, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if raw := strings.TrimSpace(envJSON); raw != "" {
		var pemByKid map[string]string
		if err := json.Unmarshal([]byte(raw), &pemByKid); err != nil {
			return nil, fmt.Errorf("failed to parse PINNED_PUBLIC_KEYS JSON: %w", err)
		}
		return parsePublicKeys(pemByKid, log), nil
	}
	return tryLoadFromFilesystem(dir, log)
}

// tryLoadFromFilesystem reads dir/keys.json.
// Returns (nil, nil) if the directory or file doesn't exist (not an error).
func tryLoadFromFilesystem(dir string, log logrus.FieldLogger) (map[string]*rsa.PublicKey, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, pinnedKeysFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", pinnedKeysFile, err)
	}
	var doc struct {
		PublicKeys map[string]string `json:"public_keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", pinnedKeysFile, err)
	}
	if len(doc.PublicKeys) == 0 {
		return nil, fmt.Errorf("%s has no public_keys", pinnedKeysFile)
	}
	return parsePublicKeys(doc.PublicKeys, log), nil
}

func parsePublicKeys(pemByKid map[string]string, log logrus.FieldLogger) map[string]*rsa.PublicKey {
	out := make(map[string]*rsa.PublicKey, len(pemByKid))
	for kid, pemStr := range pemByKid {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemStr))
		if err != nil {
			log.WithError(err).WithField("kid", kid).Warn("skipping unparsable pinned public key")
			continue
		}
		out[kid] = pub
	}
	return out
}
