package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SealedCredentialResolver opens the credential payload stored on a
// connection with a SecretProvider.
type SealedCredentialResolver struct {
	Secrets SecretProvider
}

func NewSealedCredentialResolver(secrets SecretProvider) SealedCredentialResolver {
	return SealedCredentialResolver{Secrets: secrets}
}

func (r SealedCredentialResolver) Resolve(ctx context.Context, conn ConnectionConfig) (Credentials, error) {
	if len(conn.CredentialRef) == 0 {
		return Credentials{}, nil
	}
	if r.Secrets == nil {
		return Credentials{}, ErrCredentialResolverUnavailable
	}
	plaintext, err := r.Secrets.Decrypt(ctx, conn.CredentialRef)
	if err != nil {
		return Credentials{}, fmt.Errorf("core: open credentials for connection %q: %w", conn.ID, err)
	}
	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, fmt.Errorf("core: decode credentials for connection %q: %w", conn.ID, err)
	}
	creds.ClientID = strings.TrimSpace(creds.ClientID)
	creds.ClientSecret = strings.TrimSpace(creds.ClientSecret)
	creds.APIKey = strings.TrimSpace(creds.APIKey)
	return creds, nil
}

// SealCredentials encodes and encrypts credentials for storage on a connection.
func SealCredentials(ctx context.Context, secrets SecretProvider, creds Credentials) ([]byte, error) {
	if secrets == nil {
		return nil, fmt.Errorf("core: secret provider is required to store credentials")
	}
	payload, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("core: encode credentials: %w", err)
	}
	return secrets.Encrypt(ctx, payload)
}

var _ CredentialResolver = SealedCredentialResolver{}
