// Package credential owns the creator secret-phrase record. No other
// component reads or writes it.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

var ErrEmptyPhrase = errors.New("secret phrase must not be empty")

const (
	saltSize = 16

	// argon2id parameters.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

type record struct {
	SecretPhraseHash string    `json:"secret_phrase_hash"`
	Salt             string    `json:"salt"`
	CreatedAt        time.Time `json:"created_at"`
}

// FileStore persists a single salted phrase hash in a local JSON file.
// Absence of the file means authentication is not yet configured.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: strings.TrimSpace(path)}
}

// Configured reports whether a secret phrase has been set up.
func (s *FileStore) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.load()
	return err == nil
}

// SetSecret hashes the phrase with a fresh random salt and persists it,
// replacing any prior credential.
func (s *FileStore) SetSecret(phrase string) error {
	if strings.TrimSpace(phrase) == "" {
		return ErrEmptyPhrase
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	rec := record{
		SecretPhraseHash: hex.EncodeToString(hashPhrase(phrase, salt)),
		Salt:             hex.EncodeToString(salt),
		CreatedAt:        time.Now().UTC(),
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}

// Verify compares the phrase against the stored hash in constant time.
// It fails closed: an unconfigured or unreadable credential means false.
func (s *FileStore) Verify(phrase string) bool {
	if phrase == "" {
		return false
	}

	s.mu.Lock()
	rec, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return false
	}

	salt, err := hex.DecodeString(rec.Salt)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(rec.SecretPhraseHash)
	if err != nil {
		return false
	}

	got := hashPhrase(phrase, salt)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// Reset deletes the stored credential, returning the store to the
// not-configured first-run state. Resetting an unconfigured store is a no-op.
func (s *FileStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}

func (s *FileStore) load() (record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return record{}, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("decode credential file: %w", err)
	}
	if rec.SecretPhraseHash == "" || rec.Salt == "" {
		return record{}, errors.New("credential record incomplete")
	}
	return rec, nil
}

func hashPhrase(phrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(phrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
