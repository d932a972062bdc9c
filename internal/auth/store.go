package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrUnknownUser is returned by a CredentialStore when no account matches.
var ErrUnknownUser = errors.New("unknown user")

// CredentialStore resolves a normalized username to its bcrypt password hash.
type CredentialStore interface {
	// Lookup returns the stored hash, ErrUnknownUser, or a backend error.
	Lookup(ctx context.Context, username string) (string, error)
}

// NormalizeUsername trims surrounding whitespace and lower-cases name.
func NormalizeUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// MemoryStore is an in-process CredentialStore.
type MemoryStore struct {
	cost int

	mu     sync.RWMutex
	hashes map[string]string
}

// NewMemoryStore creates an empty store that hashes added passwords at the given bcrypt cost.
func NewMemoryStore(cost int) *MemoryStore {
	return &MemoryStore{cost: cost, hashes: make(map[string]string)}
}

// Add hashes password and stores it under the normalized username, replacing any previous entry.
//
// Precondition: username and password must be non-empty.
func (s *MemoryStore) Add(username, password string) error {
	hash, err := HashPasswordCost(password, s.cost)
	if err != nil {
		return fmt.Errorf("hashing password for %q: %w", username, err)
	}
	s.AddHash(username, hash)
	return nil
}

// AddHash stores an existing bcrypt hash under the normalized username.
func (s *MemoryStore) AddHash(username, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[NormalizeUsername(username)] = hash
}

// Lookup implements CredentialStore.
func (s *MemoryStore) Lookup(_ context.Context, username string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.hashes[username]
	if !ok {
		return "", ErrUnknownUser
	}
	return hash, nil
}

// Len returns the number of stored accounts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hashes)
}

type usersFile struct {
	Users []userEntry `yaml:"users"`
}

type userEntry struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Password     string `yaml:"password"`
}

// LoadFileStore reads a YAML credentials file into a MemoryStore.
//
// Each entry carries either password_hash (bcrypt) or password (plaintext,
// hashed at load with cost).
//
// Postcondition: Returns a populated store, or an error naming the first bad entry.
func LoadFileStore(path string, cost int) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading users file: %w", err)
	}
	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing users file %s: %w", path, err)
	}

	store := NewMemoryStore(cost)
	for i, u := range f.Users {
		name := NormalizeUsername(u.Username)
		if name == "" {
			return nil, fmt.Errorf("users file %s: entry %d has no username", path, i)
		}
		switch {
		case u.PasswordHash != "":
			store.AddHash(name, u.PasswordHash)
		case u.Password != "":
			if err := store.Add(name, u.Password); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("users file %s: user %q has neither password nor password_hash", path, name)
		}
	}
	return store, nil
}
