package config

import "sync"

const (
	secretService = "ocrdesk"
	tokenAccount  = "auth_token"
)

// TokenStore persists the bearer token. Only the API client writes to it;
// everything else observes the token through the client.
type TokenStore interface {
	Token() (string, error)
	SetToken(token string) error
	ClearToken() error
}

// NewTokenStore returns the platform secret store: the login Keychain on
// macOS, a 0600 secrets file elsewhere.
func NewTokenStore() TokenStore {
	return secretTokenStore{}
}

type secretTokenStore struct{}

func (secretTokenStore) Token() (string, error) {
	v, ok, err := secretGet(secretService, tokenAccount)
	if err != nil || !ok {
		return "", err
	}
	return v, nil
}

func (secretTokenStore) SetToken(token string) error {
	return secretSet(secretService, tokenAccount, token)
}

func (secretTokenStore) ClearToken() error {
	return secretDelete(secretService, tokenAccount)
}

// MemoryTokenStore keeps the token in process memory.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

func NewMemoryTokenStore(token string) *MemoryTokenStore {
	return &MemoryTokenStore{token: token}
}

func (m *MemoryTokenStore) Token() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryTokenStore) SetToken(token string) error {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokenStore) ClearToken() error {
	return m.SetToken("")
}
