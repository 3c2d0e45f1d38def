// Package filestore tracks uploaded files: id to on-disk location, owning
// room, size and content hash. Records live in memory only; the startup
// orphan scan reconciles the upload directory against whatever a previous
// process left behind.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"roomdrop/internal/server/metrics"
)

// DeleteReason says why a record was removed. Logged and counted only.
type DeleteReason string

const (
	ReasonManual           DeleteReason = "manual"
	ReasonRoomDestroyed    DeleteReason = "room_destroyed"
	ReasonRetentionExpired DeleteReason = "retention_expired"
)

// Record is one tracked file.
type Record struct {
	ID          string
	DisplayName string
	StoragePath string
	OwnerRoom   string
	UploadedAt  time.Time
	SizeBytes   int64
	ContentHash string // hex SHA-256; empty until computed
}

// Store owns all file records. Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	root      string
	retention time.Duration
	metrics   *metrics.Metrics // may be nil in tests

	byID   map[string]*Record
	byRoom map[string]map[string]struct{}
	byHash map[string][]string

	deletedFiles int64
	deletedBytes int64
}

// NewStore creates a store rooted at the upload directory. m may be nil.
func NewStore(root string, retention time.Duration, m *metrics.Metrics) *Store {
	return &Store{
		root:      root,
		retention: retention,
		metrics:   m,
		byID:      make(map[string]*Record),
		byRoom:    make(map[string]map[string]struct{}),
		byHash:    make(map[string][]string),
	}
}

// Root returns the configured upload directory.
func (s *Store) Root() string {
	return s.root
}

// EnsureDir creates the upload directory if it doesn't exist.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory %s: %w", s.root, err)
	}
	return nil
}

// HashFile streams the file at path through SHA-256 without loading it into
// memory and returns the hex digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Add tracks a new record. A missing ID gets a generated one and a zero
// UploadedAt becomes now. Returns the stored snapshot.
func (s *Store) Add(rec Record) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec
	s.byID[rec.ID] = &stored

	if rec.OwnerRoom != "" {
		room, ok := s.byRoom[rec.OwnerRoom]
		if !ok {
			room = make(map[string]struct{})
			s.byRoom[rec.OwnerRoom] = room
		}
		room[rec.ID] = struct{}{}
	}

	if rec.ContentHash != "" {
		s.byHash[rec.ContentHash] = append(s.byHash[rec.ContentHash], rec.ID)
	}

	return stored
}

// Get returns a snapshot of the record.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// FindByHash returns the first still-existing file id for the digest,
// pruning stale mappings opportunistically.
func (s *Store) FindByHash(digest string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.byHash[digest]
	if !ok {
		return "", false
	}

	live := ids[:0]
	for _, id := range ids {
		if _, exists := s.byID[id]; exists {
			live = append(live, id)
		}
	}
	if len(live) == 0 {
		delete(s.byHash, digest)
		return "", false
	}
	s.byHash[digest] = live
	return live[0], true
}

// ListByRoom returns snapshots of every record owned by the room.
func (s *Store) ListByRoom(room string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for id := range s.byRoom[room] {
		if rec, ok := s.byID[id]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// Delete untracks the record and removes the on-disk file. The unlink is
// best-effort: tracking is dropped even when it fails, so a wedged filesystem
// cannot grow the maps without bound.
func (s *Store) Delete(id string, reason DeleteReason) (Record, bool) {
	s.mu.Lock()
	rec, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return Record{}, false
	}
	snapshot := *rec
	s.removeLocked(rec)
	s.mu.Unlock()

	if err := os.Remove(snapshot.StoragePath); err != nil && !os.IsNotExist(err) {
		slog.Error("failed to unlink file",
			"file_id", snapshot.ID,
			"path", snapshot.StoragePath,
			"error", err,
		)
	}

	slog.Info("file deleted",
		"file_id", snapshot.ID,
		"name", snapshot.DisplayName,
		"room", snapshot.OwnerRoom,
		"size", snapshot.SizeBytes,
		"reason", reason,
	)
	return snapshot, true
}

// removeLocked drops all indices for rec and bumps the deletion counters.
// Must be called with s.mu held.
func (s *Store) removeLocked(rec *Record) {
	delete(s.byID, rec.ID)

	if room, ok := s.byRoom[rec.OwnerRoom]; ok {
		delete(room, rec.ID)
		if len(room) == 0 {
			delete(s.byRoom, rec.OwnerRoom)
		}
	}

	// byHash entries are pruned lazily by FindByHash.

	s.deletedFiles++
	s.deletedBytes += rec.SizeBytes
	if s.metrics != nil {
		s.metrics.FilesDeleted.Inc()
		s.metrics.BytesDeleted.Add(float64(rec.SizeBytes))
	}
}

// DeleteRoom removes every record owned by the room, e.g. when the room is
// torn down. Returns the number of files removed.
func (s *Store) DeleteRoom(room string) int {
	s.mu.Lock()
	var ids []string
	for id := range s.byRoom[room] {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Delete(id, ReasonRoomDestroyed)
	}
	return len(ids)
}

// SweepExpired deletes every record older than the retention window.
// Returns the number of records removed.
func (s *Store) SweepExpired() int {
	cutoff := time.Now().Add(-s.retention)

	s.mu.Lock()
	var expired []string
	for id, rec := range s.byID {
		if rec.UploadedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.Delete(id, ReasonRetentionExpired)
	}
	return len(expired)
}

// OrphanScan lists the upload directory and deletes on-disk files that are
// past the retention window but have no in-memory record. Covers files left
// behind by a previous process. Run once at startup.
func (s *Store) OrphanScan() (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("failed to list upload directory: %w", err)
	}

	tracked := make(map[string]struct{})
	s.mu.Lock()
	for _, rec := range s.byID {
		tracked[filepath.Clean(rec.StoragePath)] = struct{}{}
	}
	s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention)
	var removed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.root, entry.Name())
		if _, ok := tracked[filepath.Clean(path)]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Error("failed to remove orphan file", "path", path, "error", err)
			continue
		}
		removed++
		slog.Info("removed orphan file", "path", path, "mod_time", info.ModTime())
	}
	return removed, nil
}

// Stats summarizes the store for the stats endpoint.
type Stats struct {
	TrackedFiles int
	TrackedBytes int64
	DeletedFiles int64
	DeletedBytes int64
}

// Summary returns aggregate counters.
func (s *Store) Summary() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		TrackedFiles: len(s.byID),
		DeletedFiles: s.deletedFiles,
		DeletedBytes: s.deletedBytes,
	}
	for _, rec := range s.byID {
		st.TrackedBytes += rec.SizeBytes
	}
	return st
}
