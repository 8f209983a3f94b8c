package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"shelfsync/internal/domain"
)

// Bucket names
var (
	bucketAliases   = []byte("aliases")
	bucketSnapshots = []byte("snapshots")
	bucketState     = []byte("state")
)

const (
	aliasKeyPrefix   = "reserved_copy_ids_"
	snapshotCacheKey = "status_sync_cache"
	notifSeenKey     = "notifications_last_seen_at"
)

// StatusStore implements domain.AliasStore, domain.SnapshotCache, and
// domain.StateStore using BoltDB with an in-memory promotion cache.
//
// Alias reads always degrade to the empty set on missing or corrupt data:
// this store papers over backend gaps and must never be the reason a screen
// fails to render.
type StatusStore struct {
	db *bolt.DB

	mu    sync.RWMutex
	cache map[string][]byte
}

// NewStatusStore opens (or creates) the store under dir. An empty dir gives
// a memory-only store with no persistence, used by tests and previews.
func NewStatusStore(dir string) (*StatusStore, error) {
	if dir == "" {
		return &StatusStore{cache: make(map[string][]byte)}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "shelfsync.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAliases, bucketSnapshots, bucketState} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &StatusStore{db: db, cache: make(map[string][]byte)}, nil
}

func (s *StatusStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Generic helpers ===

func (s *StatusStore) get(bucket []byte, key string, dest any) bool {
	cacheKey := string(bucket) + ":" + key

	s.mu.RLock()
	if data, ok := s.cache[cacheKey]; ok {
		s.mu.RUnlock()
		return json.Unmarshal(data, dest) == nil
	}
	s.mu.RUnlock()

	if s.db == nil {
		return false
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})

	if data == nil {
		return false
	}

	// Promote to memory cache
	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()

	return json.Unmarshal(data, dest) == nil
}

func (s *StatusStore) set(bucket []byte, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	cacheKey := string(bucket) + ":" + key

	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()

	if s.db == nil {
		return nil // Memory-only mode
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.Put([]byte(key), data)
	})
}

// === Alias records (domain.AliasStore) ===

// AddCopyAliases unions the computed alias set for copy into the record for
// bookID. The read-modify-write runs under the store lock, so two concurrent
// UI actions on the same book cannot lose each other's aliases.
func (s *StatusStore) AddCopyAliases(bookID string, copy domain.BookCopy) error {
	aliases := domain.CopyAliases(copy)
	if aliases.Len() == 0 {
		return nil
	}
	return s.mergeAliases(bookID, aliases)
}

// SeedAlias records one best-effort alias for a book. Used when the backend
// confirms a reservation exists but omits the copy identifier; the caller is
// responsible for logging that this is a guess.
func (s *StatusStore) SeedAlias(bookID, alias string) error {
	if alias == "" {
		return nil
	}
	return s.mergeAliases(bookID, domain.NewIDSet(alias))
}

func (s *StatusStore) mergeAliases(bookID string, add domain.IDSet) error {
	key := aliasKeyPrefix + bookID

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.loadAliasesLocked(key)
	before := current.Len()
	current.Union(add)
	if current.Len() == before {
		return nil // Idempotent: nothing new
	}

	return s.storeAliasesLocked(key, current)
}

// RemoveAlias deletes one alias from a book's record
func (s *StatusStore) RemoveAlias(bookID, alias string) error {
	key := aliasKeyPrefix + bookID

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.loadAliasesLocked(key)
	if !current.Has(alias) {
		return nil
	}
	current.Remove(alias)

	return s.storeAliasesLocked(key, current)
}

// Aliases returns the recorded alias set for bookID, empty on any failure
func (s *StatusStore) Aliases(bookID string) domain.IDSet {
	key := aliasKeyPrefix + bookID

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAliasesLocked(key)
}

// AliasBookIDs lists every book id with a non-empty alias record, merging
// promoted in-memory entries with a prefix scan over the aliases bucket
func (s *StatusStore) AliasBookIDs() []string {
	ids := domain.NewIDSet()

	s.mu.RLock()
	cachePrefix := string(bucketAliases) + ":" + aliasKeyPrefix
	for key, data := range s.cache {
		if strings.HasPrefix(key, cachePrefix) && decodeAliases(data).Len() > 0 {
			ids.Add(strings.TrimPrefix(key, cachePrefix))
		}
	}
	s.mu.RUnlock()

	if s.db != nil {
		s.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketAliases)
			if b == nil {
				return nil
			}
			c := b.Cursor()
			prefix := []byte(aliasKeyPrefix)
			for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), aliasKeyPrefix); k, v = c.Next() {
				if decodeAliases(v).Len() > 0 {
					ids.Add(strings.TrimPrefix(string(k), aliasKeyPrefix))
				}
			}
			return nil
		})
	}

	return ids.Values()
}

// loadAliasesLocked reads and promotes an alias record; corrupt or missing
// data yields an empty set
func (s *StatusStore) loadAliasesLocked(key string) domain.IDSet {
	cacheKey := string(bucketAliases) + ":" + key
	if data, ok := s.cache[cacheKey]; ok {
		return decodeAliases(data)
	}

	if s.db == nil {
		return domain.NewIDSet()
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAliases)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})

	if data == nil {
		return domain.NewIDSet()
	}
	s.cache[cacheKey] = data
	return decodeAliases(data)
}

func (s *StatusStore) storeAliasesLocked(key string, aliases domain.IDSet) error {
	data, err := json.Marshal(aliases)
	if err != nil {
		return err
	}
	s.cache[string(bucketAliases)+":"+key] = data

	if s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAliases).Put([]byte(key), data)
	})
}

func decodeAliases(data []byte) domain.IDSet {
	var aliases domain.IDSet
	if err := json.Unmarshal(data, &aliases); err != nil || aliases == nil {
		return domain.NewIDSet()
	}
	return aliases
}

// === Snapshot cache (domain.SnapshotCache) ===

// SaveSnapshot persists the last reconciled snapshot for cold-start display
func (s *StatusStore) SaveSnapshot(snap *domain.Snapshot) error {
	return s.set(bucketSnapshots, snapshotCacheKey, snap)
}

// LastSnapshot returns the most recently persisted snapshot, if any
func (s *StatusStore) LastSnapshot() (*domain.Snapshot, bool) {
	var snap domain.Snapshot
	if !s.get(bucketSnapshots, snapshotCacheKey, &snap) {
		return nil, false
	}
	return &snap, true
}

// === App state (domain.StateStore) ===

func (s *StatusStore) NotificationsLastSeen() (time.Time, bool) {
	var stamp string
	if !s.get(bucketState, notifSeenKey, &stamp) {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (s *StatusStore) SetNotificationsLastSeen(t time.Time) error {
	return s.set(bucketState, notifSeenKey, t.UTC().Format(time.RFC3339))
}
