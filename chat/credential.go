package chat

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ErrNoIdentity is returned when a credential is requested but no identity
// address is available.
var ErrNoIdentity = errors.New("chat: no identity available")

// ErrNoIssuer is returned when a fresh credential is needed but the session
// was configured without an auth service.
var ErrNoIssuer = errors.New("chat: no token issuer configured")

const defaultCredentialTTL = time.Hour

// Credential is a bearer token plus its expiry and owning identity.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Address   string    `json:"address"`
}

// usable reports whether the credential can authenticate the given identity
// right now.
func (c *Credential) usable(now time.Time, address string) bool {
	return c != nil &&
		c.Token != "" &&
		address != "" &&
		strings.EqualFold(c.Address, address) &&
		now.Before(c.ExpiresAt)
}

// tokenExpiry recovers an expiry for a token whose issuance response carried
// none: the JWT exp claim when the token is one, otherwise a default TTL.
// The claims are not verified here; the server remains the authority and an
// expired token is simply rejected on connect.
func tokenExpiry(token string, now time.Time) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return now.Add(defaultCredentialTTL)
}

// CredentialStore persists one credential per identity address across
// process restarts.
type CredentialStore interface {
	Load(address string) (*Credential, error)
	Save(cred *Credential) error
	Delete(address string) error
}

// CredentialCache hands out a usable credential for the active identity,
// minting a fresh one through the issuer when the cached copy is missing,
// expired, or issued for a different identity.
type CredentialCache struct {
	issuer *Issuer
	store  CredentialStore
	logger *zap.SugaredLogger

	mu   sync.Mutex
	cred *Credential
}

// NewCredentialCache creates a cache backed by the given issuer and store. A
// nil issuer means credentials can only come from the store; a nil store
// disables persistence.
func NewCredentialCache(issuer *Issuer, store CredentialStore, logger *zap.SugaredLogger) *CredentialCache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if store == nil {
		store = newMemoryStore()
	}
	return &CredentialCache{issuer: issuer, store: store, logger: logger}
}

// Get returns a credential usable for the signer's identity. Unless force is
// set, an unexpired cached or persisted credential is reused without a new
// challenge/response round trip.
func (c *CredentialCache) Get(ctx context.Context, signer Signer, force bool) (*Credential, error) {
	if signer == nil {
		return nil, ErrNoIdentity
	}
	address := signer.Address()
	if address == "" {
		return nil, ErrNoIdentity
	}

	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !force {
		if c.cred.usable(now, address) {
			return c.cred, nil
		}
		if stored, err := c.store.Load(address); err != nil {
			c.logger.Warnw("failed to read persisted credential", "error", err)
		} else if stored.usable(now, address) {
			c.cred = stored
			return stored, nil
		}
	}

	if c.issuer == nil {
		return nil, ErrNoIssuer
	}

	cred, err := c.issuer.Issue(ctx, signer)
	if err != nil {
		return nil, err
	}

	if err := c.store.Save(cred); err != nil {
		c.logger.Warnw("failed to persist credential", "error", err)
	}
	c.cred = cred
	return cred, nil
}

// Invalidate drops the cached credential, both in memory and on disk. Called
// after an authentication rejection so the next attempt mints a fresh token.
func (c *CredentialCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cred == nil {
		return
	}
	if err := c.store.Delete(c.cred.Address); err != nil {
		c.logger.Warnw("failed to clear persisted credential", "error", err)
	}
	c.cred = nil
}

// FileCredentialStore keeps credentials in a JSON file inside a config
// directory, keyed by lowercased identity address.
type FileCredentialStore struct {
	mu   sync.Mutex
	path string
}

const credentialFileName = "credentials.json"

// NewFileCredentialStore creates a store rooted at dir. The directory is
// created on first save.
func NewFileCredentialStore(dir string) *FileCredentialStore {
	return &FileCredentialStore{path: filepath.Join(dir, credentialFileName)}
}

func (s *FileCredentialStore) readAll() (map[string]Credential, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Credential{}, nil
	}
	if err != nil {
		return nil, err
	}
	creds := map[string]Credential{}
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return creds, nil
}

func (s *FileCredentialStore) writeAll(creds map[string]Credential) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// Load returns the persisted credential for address, or nil when absent.
func (s *FileCredentialStore) Load(address string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.readAll()
	if err != nil {
		return nil, err
	}
	cred, ok := creds[strings.ToLower(address)]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

// Save persists the credential under its identity address.
func (s *FileCredentialStore) Save(cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.readAll()
	if err != nil {
		return err
	}
	creds[strings.ToLower(cred.Address)] = *cred
	return s.writeAll(creds)
}

// Delete removes the persisted credential for address.
func (s *FileCredentialStore) Delete(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.readAll()
	if err != nil {
		return err
	}
	delete(creds, strings.ToLower(address))
	return s.writeAll(creds)
}

// memoryStore is the no-persistence fallback.
type memoryStore struct {
	mu    sync.Mutex
	creds map[string]Credential
}

func newMemoryStore() *memoryStore {
	return &memoryStore{creds: map[string]Credential{}}
}

func (m *memoryStore) Load(address string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[strings.ToLower(address)]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (m *memoryStore) Save(cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[strings.ToLower(cred.Address)] = *cred
	return nil
}

func (m *memoryStore) Delete(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, strings.ToLower(address))
	return nil
}
