package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

const (
	keyFileName = "policy.key"
	keySize     = 32 // 256-bit SQLCipher key

	// KeyEnvVar supplies the database key from the environment.
	KeyEnvVar = "APPGUARD_DB_KEY"
)

// ErrKeyReadOnly is returned when storing into a provider that cannot persist.
var ErrKeyReadOnly = errors.New("key provider is read-only")

// FileKeyProvider implements domain.KeyProvider with a hex-encoded key file
// readable only by its owner.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{
		keyPath: filepath.Join(dataDir, keyFileName),
	}
}

// GetKey reads the key, refusing files that others can read.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	info, err := os.Stat(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat key file: %w", err)
	}
	if info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("key file %s has permissions %v, want 0600", p.keyPath, info.Mode().Perm())
	}

	encoded, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return decodeKey(string(encoded))
}

// StoreKey writes the key with 0600 permissions, creating the directory.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := renameio.WriteFile(p.keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// KeyExists checks if the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// EnvKeyProvider reads a hex key from an environment variable.
type EnvKeyProvider struct {
	name string
}

// NewEnvKeyProvider creates a provider reading KeyEnvVar.
func NewEnvKeyProvider() *EnvKeyProvider {
	return &EnvKeyProvider{name: KeyEnvVar}
}

// GetKey decodes the variable.
func (p *EnvKeyProvider) GetKey() ([]byte, error) {
	value, ok := os.LookupEnv(p.name)
	if !ok {
		return nil, fmt.Errorf("%s is not set", p.name)
	}
	return decodeKey(value)
}

// StoreKey always fails; environment keys are managed outside the process.
func (p *EnvKeyProvider) StoreKey([]byte) error {
	return ErrKeyReadOnly
}

// KeyExists reports whether the variable is set.
func (p *EnvKeyProvider) KeyExists() bool {
	_, ok := os.LookupEnv(p.name)
	return ok
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// GenerateKey creates a new random 256-bit encryption key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the provider's key, generating and storing one first
// if none exists.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Ensure the providers implement domain.KeyProvider.
var (
	_ domain.KeyProvider = (*FileKeyProvider)(nil)
	_ domain.KeyProvider = (*EnvKeyProvider)(nil)
)
