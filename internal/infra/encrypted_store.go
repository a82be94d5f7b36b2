package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	// Registers the "sqlite3" SQLCipher driver.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/policy"
)

const (
	policyDBName = "policy.db"
)

// EncryptedPolicyStore implements domain.PolicyStore on a SQLCipher
// database. Reads are served from an in-memory policy.State; writes go to
// the database first and then to memory.
type EncryptedPolicyStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
	state  *policy.State
}

// NewEncryptedPolicyStore opens (or creates) the encrypted policy database
// and loads the blocked set. The key is used as the SQLCipher passphrase.
func NewEncryptedPolicyStore(dataDir string, key []byte) (*EncryptedPolicyStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, policyDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	store := &EncryptedPolicyStore{
		db:     db,
		dbPath: dbPath,
		state:  policy.NewState(),
	}

	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := store.Reload(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *EncryptedPolicyStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blocked_apps (
		package TEXT PRIMARY KEY,
		added_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Contains reports whether the package is blocked.
func (s *EncryptedPolicyStore) Contains(packageID string) (bool, error) {
	if s.isClosed() {
		return false, domain.ErrStoreClosed
	}
	return s.state.Contains(packageID)
}

// Add blocks a package. Adding a blocked package is a no-op.
func (s *EncryptedPolicyStore) Add(packageID string) error {
	packageID = strings.TrimSpace(packageID)
	if packageID == "" {
		return domain.ErrEmptyPackageID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return domain.ErrStoreClosed
	}

	_, err := s.db.Exec(`INSERT OR IGNORE INTO blocked_apps (package, added_at) VALUES (?, ?)`,
		packageID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to block %s: %w", packageID, err)
	}
	return s.state.Add(packageID)
}

// Remove unblocks a package. Removing an unknown package is a no-op.
func (s *EncryptedPolicyStore) Remove(packageID string) error {
	packageID = strings.TrimSpace(packageID)
	if packageID == "" {
		return domain.ErrEmptyPackageID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return domain.ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM blocked_apps WHERE package = ?`, packageID); err != nil {
		return fmt.Errorf("failed to unblock %s: %w", packageID, err)
	}
	return s.state.Remove(packageID)
}

// List returns all blocked packages, sorted.
func (s *EncryptedPolicyStore) List() ([]string, error) {
	if s.isClosed() {
		return nil, domain.ErrStoreClosed
	}
	return s.state.List()
}

// Reload replaces the in-memory set with the database contents, picking up
// changes made by another process (e.g. the CLI).
func (s *EncryptedPolicyStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return domain.ErrStoreClosed
	}

	rows, err := s.db.Query(`SELECT package FROM blocked_apps ORDER BY package`)
	if err != nil {
		return fmt.Errorf("failed to read blocked apps: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan blocked app: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read blocked apps: %w", err)
	}

	s.state.Replace(ids)
	return nil
}

// GetStorePath returns the database file path.
func (s *EncryptedPolicyStore) GetStorePath() string {
	return s.dbPath
}

func (s *EncryptedPolicyStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db == nil
}

// Close releases the database connection. It is safe to call twice.
func (s *EncryptedPolicyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Ensure EncryptedPolicyStore implements domain.PolicyStore.
var _ domain.PolicyStore = (*EncryptedPolicyStore)(nil)
