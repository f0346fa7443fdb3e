// Package keychain stores the bot token in the operating system keychain.
package keychain

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	serviceName  = "pelican"
	tokenAccount = "telegram-bot-token"
)

// ErrNotFound is returned when no token is stored.
var ErrNotFound = errors.New("keychain: no token stored")

// Token retrieves the bot token.
func Token() (string, error) {
	token, err := keyring.Get(serviceName, tokenAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keychain: get: %w", err)
	}
	return token, nil
}

// SetToken stores the bot token, replacing any previous one.
func SetToken(token string) error {
	if token == "" {
		return errors.New("keychain: empty token")
	}
	if err := keyring.Set(serviceName, tokenAccount, token); err != nil {
		return fmt.Errorf("keychain: set: %w", err)
	}
	return nil
}

// DeleteToken removes the stored token.
func DeleteToken() error {
	err := keyring.Delete(serviceName, tokenAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("keychain: delete: %w", err)
	}
	return nil
}
