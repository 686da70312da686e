// Package auth keeps the upstream access token and its expiry. Obtaining a
// token (the broker login flow) happens elsewhere; this package only stores,
// persists and hands it out.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// ExpiryBuffer is subtracted from a token's lifetime so it is never used in
// its last minutes.
const ExpiryBuffer = 5 * time.Minute

// DefaultExpiresIn is the lifetime assumed when the issuer gives none.
const DefaultExpiresIn = 24 * time.Hour

// ErrNoToken is returned when no unexpired token is available.
var ErrNoToken = errors.New("auth: no valid access token, login required")

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenManager holds the current access token. Safe for concurrent use.
type TokenManager struct {
	mu      sync.RWMutex
	token   string
	expiry  time.Time
	path    string
	nowFunc func() time.Time
}

// NewTokenManager creates a manager persisting to path. An empty path keeps
// the token in memory only.
func NewTokenManager(path string) *TokenManager {
	return &TokenManager{path: path, nowFunc: time.Now}
}

// Get returns the token if it has not expired, falling back to the token
// file. ErrNoToken means the user must log in again.
func (m *TokenManager) Get() (string, error) {
	m.mu.RLock()
	tok, exp := m.token, m.expiry
	m.mu.RUnlock()
	if tok != "" && m.nowFunc().Before(exp) {
		return tok, nil
	}
	if err := m.Load(); err != nil {
		if !errors.Is(err, ErrNoToken) {
			log.Printf("[auth] reading token file: %v", err)
		}
		return "", ErrNoToken
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, nil
}

// Set stores the token in memory. expiresIn <= 0 means DefaultExpiresIn.
func (m *TokenManager) Set(token string, expiresIn time.Duration) {
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}
	m.mu.Lock()
	m.token = token
	m.expiry = m.nowFunc().Add(expiresIn - ExpiryBuffer)
	m.mu.Unlock()
	log.Printf("[auth] token set, expires at %s", m.Expiry().Format(time.RFC3339))
}

// Save stores the token in memory and writes it to the token file.
func (m *TokenManager) Save(token string, expiresIn time.Duration) error {
	m.Set(token, expiresIn)
	if m.path == "" {
		return nil
	}
	m.mu.RLock()
	data, err := json.Marshal(tokenFile{AccessToken: m.token, ExpiresAt: m.expiry})
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("auth: encode token: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("auth: write %s: %w", m.path, err)
	}
	return nil
}

// Load reads the token file. An expired or missing file yields ErrNoToken.
func (m *TokenManager) Load() error {
	if m.path == "" {
		return ErrNoToken
	}
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoToken
	}
	if err != nil {
		return fmt.Errorf("auth: read %s: %w", m.path, err)
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("auth: decode %s: %w", m.path, err)
	}
	if tf.AccessToken == "" || !m.nowFunc().Before(tf.ExpiresAt) {
		log.Printf("[auth] stored token has expired")
		return ErrNoToken
	}
	m.mu.Lock()
	m.token, m.expiry = tf.AccessToken, tf.ExpiresAt
	m.mu.Unlock()
	return nil
}

// Clear forgets the token and removes the token file.
func (m *TokenManager) Clear() error {
	m.mu.Lock()
	m.token, m.expiry = "", time.Time{}
	m.mu.Unlock()
	if m.path == "" {
		return nil
	}
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("auth: remove %s: %w", m.path, err)
	}
	return nil
}

// Expiry returns when the current token stops being handed out.
func (m *TokenManager) Expiry() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiry
}
