package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	accountBackend = "backend"
	keyToken       = "token"
)

// ErrNoToken is returned when no backend token has been saved.
var ErrNoToken = errors.New("prefs: no backend token")

// KeyringStore keeps the backend token in the OS keychain with an optional
// file fallback for environments without a system keyring.
type KeyringStore struct {
	service      string
	fallbackPath string
	mu           sync.Mutex
}

// NewKeyringStore creates a keyring wrapper.
func NewKeyringStore(serviceName, fallbackPath string) *KeyringStore {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "zklabubu-desktop"
	}
	return &KeyringStore{
		service:      serviceName,
		fallbackPath: fallbackPath,
	}
}

func (k *KeyringStore) key(part string) string {
	return accountBackend + "/" + part
}

// SetToken saves the backend token.
func (k *KeyringStore) SetToken(value string) error {
	err := keyring.Set(k.service, k.key(keyToken), value)
	if err == nil {
		return nil
	}
	if !isKeyringUnavailable(err) {
		return fmt.Errorf("prefs: keyring set token: %w", err)
	}
	return k.setFallback(keyToken, value)
}

// Token returns the saved backend token or ErrNoToken.
func (k *KeyringStore) Token() (string, error) {
	val, err := keyring.Get(k.service, k.key(keyToken))
	if err == nil {
		return val, nil
	}
	if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("prefs: keyring get token: %w", err)
	}

	fallback, ferr := k.getFallback(keyToken)
	if ferr == nil {
		return fallback, nil
	}
	if errors.Is(ferr, ErrNoToken) || errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoToken
	}
	return "", ferr
}

// DeleteToken removes the backend token from the keyring and the fallback.
func (k *KeyringStore) DeleteToken() error {
	kerr := keyring.Delete(k.service, k.key(keyToken))
	ferr := k.deleteFallback(keyToken)
	if kerr != nil && !errors.Is(kerr, keyring.ErrNotFound) && !isKeyringUnavailable(kerr) {
		return fmt.Errorf("prefs: keyring delete token: %w", kerr)
	}
	return ferr
}

func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available")
}

type fallbackSecrets map[string]string

func (k *KeyringStore) setFallback(part, value string) error {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return fmt.Errorf("prefs: keyring unavailable and no fallback path configured")
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return err
	}
	data[part] = value
	return k.writeFallbackUnlocked(data)
}

func (k *KeyringStore) getFallback(part string) (string, error) {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return "", ErrNoToken
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return "", err
	}
	val, ok := data[part]
	if !ok {
		return "", ErrNoToken
	}
	return val, nil
}

func (k *KeyringStore) deleteFallback(part string) error {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return err
	}
	if _, ok := data[part]; !ok {
		return nil
	}
	delete(data, part)
	return k.writeFallbackUnlocked(data)
}

func (k *KeyringStore) readFallbackUnlocked() (fallbackSecrets, error) {
	out := fallbackSecrets{}
	raw, err := os.ReadFile(k.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("prefs: read fallback secrets: %w", err)
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("prefs: decode fallback secrets: %w", err)
	}
	return out, nil
}

func (k *KeyringStore) writeFallbackUnlocked(data fallbackSecrets) error {
	if err := os.MkdirAll(filepath.Dir(k.fallbackPath), 0o700); err != nil {
		return fmt.Errorf("prefs: mkdir fallback dir: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("prefs: encode fallback secrets: %w", err)
	}
	if err := os.WriteFile(k.fallbackPath, raw, 0o600); err != nil {
		return fmt.Errorf("prefs: write fallback secrets: %w", err)
	}
	return nil
}
