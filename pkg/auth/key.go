package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/storage"
)

const (
	// KeyPrefix identifies OLD API keys
	KeyPrefix = "old_"
	// KeyLength is the total length of random bytes (32 bytes = 256 bits)
	KeyLength = 32
)

// GenerateKey creates a new API key.
// Format: old_<base64url(32 random bytes)>
func GenerateKey() (key string, keyHash string, err error) {
	randomBytes := make([]byte, KeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	key = KeyPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return key, HashKey(key), nil
}

// HashKey computes the SHA256 hash of a key for storage and lookup. Only the
// hash is ever persisted.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// ValidateKeyFormat checks if a key has the correct format
func ValidateKeyFormat(key string) error {
	if !strings.HasPrefix(key, KeyPrefix) {
		return fmt.Errorf("key must start with %q", KeyPrefix)
	}

	encodedPart := strings.TrimPrefix(key, KeyPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("key is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid key encoding: %w", err)
	}

	return nil
}

// ExtractPrefix extracts the display prefix from a key. Full keys never
// appear in logs or listings.
func ExtractPrefix(key string) string {
	if !strings.HasPrefix(key, KeyPrefix) {
		return ""
	}

	encodedPart := strings.TrimPrefix(key, KeyPrefix)
	if len(encodedPart) >= 8 {
		return KeyPrefix + encodedPart[:8]
	}

	return key
}

// KeyManager issues and validates per-user API keys against the store.
type KeyManager struct {
	store  *storage.Store
	logger *logrus.Logger
}

// NewKeyManager creates a new key manager
func NewKeyManager(store *storage.Store, logger *logrus.Logger) *KeyManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &KeyManager{store: store, logger: logger}
}

// IssueKey generates a fresh API key for the user and stores its hash,
// replacing any previously issued key. The plaintext key is returned once.
func (km *KeyManager) IssueKey(ctx context.Context, userID int) (string, error) {
	key, hash, err := GenerateKey()
	if err != nil {
		return "", err
	}
	if err := km.store.SetUserAPIKey(ctx, userID, hash); err != nil {
		return "", err
	}
	km.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"key_prefix": ExtractPrefix(key),
	}).Info("issued API key")
	return key, nil
}

// RevokeKey invalidates the user's current API key.
func (km *KeyManager) RevokeKey(ctx context.Context, userID int) error {
	if err := km.store.SetUserAPIKey(ctx, userID, ""); err != nil {
		return err
	}
	km.logger.WithField("user_id", userID).Info("revoked API key")
	return nil
}

// Authenticate resolves an API key to its user and computes the
// restricted-visibility decision from the current application settings.
// An unknown or malformed key yields model.ErrUnauthenticated.
func (km *KeyManager) Authenticate(ctx context.Context, key string) (*AuthContext, error) {
	if err := ValidateKeyFormat(key); err != nil {
		return nil, model.ErrUnauthenticated
	}

	user, err := km.store.UserByAPIKeyHash(ctx, HashKey(key))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.ErrUnauthenticated
	}

	settings, err := km.store.ApplicationSettings(ctx)
	if err != nil {
		return nil, err
	}

	return &AuthContext{
		User:         user,
		Unrestricted: settings.IsUnrestricted(user),
	}, nil
}
