package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record keys. Everything the planner persists is a plain serializable
// record under one of these keys.
const (
	KeySettings      = "settings"
	KeyOAuthPending  = "oauth/pending"
	KeyVaultSalt     = "vault/salt"
	sessionKeyPrefix = "session/"
	eventsKeyPrefix  = "events/"
)

// SessionKey is the record key of a provider's token session.
func SessionKey(provider string) string {
	return sessionKeyPrefix + provider
}

// EventsKey is the record key of a source's event partition.
func EventsKey(source string) string {
	return eventsKeyPrefix + source
}

// Records is the key/value surface the planner persists through.
type Records interface {
	// Get loads the raw value under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Apply performs all mutations atomically.
	Apply(ctx context.Context, mutations ...Mutation) error
	// Keys lists the keys that start with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Mutation is a single write in an atomic batch.
type Mutation struct {
	Key    string
	Value  []byte // ignored when Delete is set
	Delete bool
}

// Put builds a write mutation.
func Put(key string, value []byte) Mutation {
	return Mutation{Key: key, Value: value}
}

// PutJSON builds a write mutation for a JSON-encoded value.
func PutJSON(key string, v interface{}) (Mutation, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Mutation{}, fmt.Errorf("encode %s: %w", key, err)
	}
	return Put(key, data), nil
}

// Delete builds a delete mutation.
func Delete(key string) Mutation {
	return Mutation{Key: key, Delete: true}
}

// GetJSON loads and decodes the record under key into dst.
func GetJSON(ctx context.Context, r Records, key string, dst interface{}) (bool, error) {
	data, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// -----------------------------------------------------------------------------
// SQLite-backed records
// -----------------------------------------------------------------------------

// RecordStore persists records in the records table
type RecordStore struct {
	db *DB
}

// NewRecordStore creates a new record store
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

// Get retrieves a record
func (s *RecordStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.conn.QueryRowContext(ctx, `SELECT value FROM records WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query record %s: %w", key, err)
	}
	return value, true, nil
}

// Apply writes all mutations in one transaction
func (s *RecordStore) Apply(ctx context.Context, mutations ...Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	return s.db.TransactionContext(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, m := range mutations {
			if m.Delete {
				if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, m.Key); err != nil {
					return fmt.Errorf("delete record %s: %w", m.Key, err)
				}
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO records (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
			`, m.Key, m.Value, now)
			if err != nil {
				return fmt.Errorf("write record %s: %w", m.Key, err)
			}
		}
		return nil
	})
}

// Keys lists record keys with the given prefix
func (s *RecordStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT key FROM records WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// -----------------------------------------------------------------------------
// In-memory records (tests and dry runs)
// -----------------------------------------------------------------------------

// MemoryRecords keeps records in a map
type MemoryRecords struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailApply, when set, makes Apply fail with this error.
	FailApply error
}

// NewMemoryRecords creates an empty in-memory record set
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{data: make(map[string][]byte)}
}

// Get retrieves a record
func (m *MemoryRecords) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Apply writes all mutations under one lock
func (m *MemoryRecords) Apply(ctx context.Context, mutations ...Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailApply != nil {
		return m.FailApply
	}
	for _, mut := range mutations {
		if mut.Delete {
			delete(m.data, mut.Key)
			continue
		}
		v := make([]byte, len(mut.Value))
		copy(v, mut.Value)
		m.data[mut.Key] = v
	}
	return nil
}

// Keys lists record keys with the given prefix
func (m *MemoryRecords) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
