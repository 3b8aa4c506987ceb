// Package keystore persists API keys encrypted at rest and answers the
// authorization checks behind the HTTP gate.
package keystore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/logharbor/logharbor/internal/pkg/security"
)

// Key grants producers and readers access to the API. An empty Projects
// list means the key is valid for every project.
type Key struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Secret    string     `json:"secret"`
	Projects  []string   `json:"projects,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the key has an expiry in the past.
func (k Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// allows reports whether the key covers the project. The empty project
// matches any valid key, so unscoped reads work with every key.
func (k Key) allows(project string) bool {
	if len(k.Projects) == 0 || project == "" {
		return true
	}
	for _, p := range k.Projects {
		if p == project {
			return true
		}
	}
	return false
}

type fileData struct {
	AdminHash string `json:"admin_password_hash,omitempty"`
	Keys      []Key  `json:"keys"`
}

// Store holds the keys in memory and mirrors every change to an
// encrypted file. The file never contains plaintext secrets.
type Store struct {
	path   string
	cipher *security.Cipher
	now    func() time.Time

	mu   sync.RWMutex
	data fileData
}

// Open loads the key store at path, decrypting it with cipher. A missing
// file yields an empty store; the file appears on the first change.
func Open(path string, cipher *security.Cipher) (*Store, error) {
	s := &Store{path: path, cipher: cipher, now: time.Now}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading key store: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}

	plain, err := cipher.Decrypt(raw)
	if err != nil {
		return nil, fmt.Errorf("decrypting key store (wrong master key or corrupted file): %w", err)
	}
	if err := json.Unmarshal(plain, &s.data); err != nil {
		return nil, fmt.Errorf("parsing key store: %w", err)
	}
	return s, nil
}

// Create mints a new key. ttlDays zero means the key never expires;
// an empty projects list covers every project.
func (s *Store) Create(name string, projects []string, ttlDays int) (Key, error) {
	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		return Key{}, err
	}

	k := Key{
		ID:        uuid.NewString(),
		Name:      name,
		Secret:    "lh-" + hex.EncodeToString(secret),
		Projects:  projects,
		CreatedAt: s.now().UTC(),
	}
	if ttlDays > 0 {
		exp := k.CreatedAt.Add(time.Duration(ttlDays) * 24 * time.Hour)
		k.ExpiresAt = &exp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Keys = append(s.data.Keys, k)
	if err := s.saveLocked(); err != nil {
		s.data.Keys = s.data.Keys[:len(s.data.Keys)-1]
		return Key{}, err
	}
	return k, nil
}

// Delete removes a key by id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, k := range s.data.Keys {
		if k.ID == id {
			s.data.Keys = append(s.data.Keys[:i], s.data.Keys[i+1:]...)
			return s.saveLocked()
		}
	}
	return os.ErrNotExist
}

// List returns a copy of every key.
func (s *Store) List() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, len(s.data.Keys))
	copy(keys, s.data.Keys)
	return keys
}

// Authorize reports whether secret identifies a live key covering the
// project. Expired keys and project mismatches are refused.
func (s *Store) Authorize(secret, project string) bool {
	if secret == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, k := range s.data.Keys {
		if k.Secret != secret {
			continue
		}
		if k.Expired(s.now()) {
			return false
		}
		return k.allows(project)
	}
	return false
}

// SetAdminPassword stores a bcrypt hash of the admin password.
func (s *Store) SetAdminPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.AdminHash = string(hash)
	return s.saveLocked()
}

// HasAdminPassword reports whether an admin password has been set.
func (s *Store) HasAdminPassword() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.AdminHash != ""
}

// CheckAdminPassword verifies the admin password. A store without a
// password refuses every attempt.
func (s *Store) CheckAdminPassword(password string) bool {
	s.mu.RLock()
	hash := s.data.AdminHash
	s.mu.RUnlock()

	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// saveLocked writes the encrypted store. Callers hold s.mu.
func (s *Store) saveLocked() error {
	plain, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	sealed, err := s.cipher.Encrypt(plain)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, sealed, 0600)
}
