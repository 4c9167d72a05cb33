package history

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

type settingsStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// EnsureAuthToken returns the API bearer token, generating and storing one
// on first use.
func EnsureAuthToken(ctx context.Context, repo settingsStore) (string, error) {
	existing, err := repo.GetConfig(ctx, ConfigAuthToken)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, ConfigAuthToken, token); err != nil {
		return "", fmt.Errorf("failed to store auth token: %w", err)
	}
	return token, nil
}
