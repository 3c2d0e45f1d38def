// Package share owns share links: creation, validation, revocation, password
// verification and the advisory per-share access log. All state is in-memory
// and intentionally lost on restart; shares are as ephemeral as the files
// they point at.
package share

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Sentinel errors for the registry.
var (
	ErrNotFound      = errors.New("share not found")
	ErrNotOwner      = errors.New("requester is not the share creator")
	ErrInvalidExpiry = errors.New("expiresInDays must be between 1 and 30")
)

// Auth is the authentication requirement attached to a share.
// Exactly one of the two variants applies to any share.
type Auth interface {
	isAuth()
}

// AuthNone marks a share as freely downloadable.
type AuthNone struct{}

// AuthPassword marks a share as password-protected. Only the bcrypt hash is
// retained; the plaintext is returned to the creator exactly once.
type AuthPassword struct {
	Hash string
}

func (AuthNone) isAuth()     {}
func (AuthPassword) isAuth() {}

// Link is a public share link for one tracked file.
type Link struct {
	ID             string
	FileID         string
	CreatedBy      string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Auth           Auth
	AccessCount    uint64
	LastAccessedAt time.Time // zero when never accessed
	Active         bool
}

// HasPassword reports whether the link requires a password.
func (l *Link) HasPassword() bool {
	_, ok := l.Auth.(AuthPassword)
	return ok
}

// Usable reports whether the link admits downloads at time now.
func (l *Link) Usable(now time.Time) bool {
	return l.Active && !now.After(l.ExpiresAt)
}

// ErrorCode labels a failed access in the log. Internal only; responses to
// clients stay uniform.
type ErrorCode string

const (
	CodeInvalidShare  ErrorCode = "invalid_share"
	CodeShareExpired  ErrorCode = "share_expired"
	CodeShareRevoked  ErrorCode = "share_revoked"
	CodeWrongPassword ErrorCode = "wrong_password"
	CodeFileNotFound  ErrorCode = "file_not_found"
	CodeBandwidth     ErrorCode = "bandwidth_limit_exceeded"
)

// AccessEntry is one row of a share's advisory access log.
type AccessEntry struct {
	ShareID          string
	Timestamp        time.Time
	IPAddress        string
	UserAgent        string
	Success          bool
	ErrorCode        ErrorCode
	BytesTransferred int64
}

// AccessSink receives a copy of every logged access, e.g. for archival in
// Postgres. Implementations must not block the caller.
type AccessSink interface {
	Record(entry AccessEntry)
}

// Status is the outcome of validating a share id.
type Status string

const (
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Validation is the result of Validate. Link is a snapshot copy and is only
// set when the share exists (including revoked/expired shares).
type Validation struct {
	Status Status
	Link   *Link
}

// Options configures a Registry. Zero values pick the defaults.
type Options struct {
	IDLength       int           // 8..10, default 9
	PasswordLength int           // default 6
	LogRetention   time.Duration // default 30 days
	Sink           AccessSink    // optional archive
}

// Registry is the authority over share links. Safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	idLength       int
	passwordLength int
	logRetention   time.Duration
	sink           AccessSink

	shares map[string]*Link
	logs   map[string][]AccessEntry
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.IDLength < 8 || opts.IDLength > 10 {
		opts.IDLength = 9
	}
	if opts.PasswordLength <= 0 {
		opts.PasswordLength = 6
	}
	if opts.LogRetention <= 0 {
		opts.LogRetention = 30 * 24 * time.Hour
	}
	return &Registry{
		idLength:       opts.IDLength,
		passwordLength: opts.PasswordLength,
		logRetention:   opts.LogRetention,
		sink:           opts.Sink,
		shares:         make(map[string]*Link),
		logs:           make(map[string][]AccessEntry),
	}
}

// Create mints a share link for fileID. expiresInDays must be within [1,30].
// When withPassword is set, the generated plaintext password is returned
// alongside the link; it is never derivable again.
func (r *Registry) Create(fileID, createdBy string, expiresInDays int, withPassword bool) (Link, string, error) {
	if expiresInDays < 1 || expiresInDays > 30 {
		return Link{}, "", ErrInvalidExpiry
	}
	expiresAt := time.Now().Add(time.Duration(expiresInDays) * 24 * time.Hour)
	return r.CreateWithExpiry(fileID, createdBy, expiresAt, withPassword)
}

// CreateWithExpiry mints a share link with an explicit expiry instant. Used
// by callers that bind a share's lifetime to an external event, such as a
// room being torn down.
func (r *Registry) CreateWithExpiry(fileID, createdBy string, expiresAt time.Time, withPassword bool) (Link, string, error) {
	var auth Auth = AuthNone{}
	var plaintext string
	if withPassword {
		pw, err := randomString(passwordAlphabet, r.passwordLength)
		if err != nil {
			return Link{}, "", err
		}
		hash, err := HashPassword(pw)
		if err != nil {
			return Link{}, "", err
		}
		auth = AuthPassword{Hash: hash}
		plaintext = pw
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.uniqueID()
	if err != nil {
		return Link{}, "", err
	}

	link := &Link{
		ID:        id,
		FileID:    fileID,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
		Auth:      auth,
		Active:    true,
	}
	r.shares[id] = link

	slog.Info("share created",
		"share_id", id,
		"file_id", fileID,
		"created_by", createdBy,
		"expires_at", link.ExpiresAt,
		"has_password", withPassword,
	)

	return *link, plaintext, nil
}

// uniqueID generates an unused share id. Must be called with r.mu held.
func (r *Registry) uniqueID() (string, error) {
	for {
		id, err := randomString(base62Alphabet, r.idLength)
		if err != nil {
			return "", err
		}
		if _, taken := r.shares[id]; !taken {
			return id, nil
		}
	}
}

// Validate is the single authority for "is this link usable". Expiry is
// evaluated lazily here and flips Active as a side effect (idempotent).
func (r *Registry) Validate(id string) Validation {
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.shares[id]
	if !ok {
		return Validation{Status: StatusInvalid}
	}
	if !link.Active {
		snapshot := *link
		return Validation{Status: StatusRevoked, Link: &snapshot}
	}
	if time.Now().After(link.ExpiresAt) {
		link.Active = false
		snapshot := *link
		return Validation{Status: StatusExpired, Link: &snapshot}
	}
	snapshot := *link
	return Validation{Status: StatusValid, Link: &snapshot}
}

// Get returns a snapshot of the share, expired or not.
func (r *Registry) Get(id string) (Link, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.shares[id]
	if !ok {
		return Link{}, false
	}
	return *link, true
}

// List returns snapshots filtered by creator and status. createdBy "" matches
// every creator; status is one of "active", "expired" or "all". Results are
// ordered newest-first for stable pagination.
func (r *Registry) List(createdBy, status string) []Link {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var out []Link
	for _, link := range r.shares {
		if createdBy != "" && link.CreatedBy != createdBy {
			continue
		}
		usable := link.Usable(now)
		switch status {
		case "active":
			if !usable {
				continue
			}
		case "expired":
			if usable {
				continue
			}
		}
		out = append(out, *link)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Revoke deactivates a share. Only the creator may revoke; revoking an
// already-inactive share is an idempotent success.
func (r *Registry) Revoke(id, requester string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.shares[id]
	if !ok {
		return ErrNotFound
	}
	if link.CreatedBy != requester {
		return ErrNotOwner
	}

	link.Active = false
	slog.Info("share revoked", "share_id", id, "requester", requester)
	return nil
}

// Delete permanently removes a share and its access log. Owner-only.
func (r *Registry) Delete(id, requester string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.shares[id]
	if !ok {
		return ErrNotFound
	}
	if link.CreatedBy != requester {
		return ErrNotOwner
	}

	delete(r.shares, id)
	delete(r.logs, id)
	slog.Info("share deleted", "share_id", id, "requester", requester)
	return nil
}

// RecordAccess bumps the advisory access counter after a successful download.
func (r *Registry) RecordAccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if link, ok := r.shares[id]; ok {
		link.AccessCount++
		link.LastAccessedAt = time.Now()
	}
}

// LogAccess appends an entry to the share's access log and forwards it to the
// archive sink when one is configured.
func (r *Registry) LogAccess(entry AccessEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	r.mu.Lock()
	r.logs[entry.ShareID] = append(r.logs[entry.ShareID], entry)
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		sink.Record(entry)
	}
}

// AccessLogs returns the most recent entries in insertion order. limit <= 0
// returns everything.
func (r *Registry) AccessLogs(id string, limit int) []AccessEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.logs[id]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]AccessEntry, len(entries))
	copy(out, entries)
	return out
}

// Stats summarizes the registry for the stats endpoint.
type Stats struct {
	TotalShares   int
	ActiveShares  int
	TotalAccesses uint64
}

// Summary returns aggregate counters.
func (r *Registry) Summary() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	s := Stats{TotalShares: len(r.shares)}
	for _, link := range r.shares {
		if link.Usable(now) {
			s.ActiveShares++
		}
		s.TotalAccesses += link.AccessCount
	}
	return s
}

// Sweep removes shares that are expired or revoked, drops log entries older
// than the log retention window, and frees empty per-share logs.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var removedShares, removedEntries int

	for id, link := range r.shares {
		if !link.Usable(now) {
			delete(r.shares, id)
			delete(r.logs, id)
			removedShares++
		}
	}

	cutoff := now.Add(-r.logRetention)
	for id, entries := range r.logs {
		kept := entries[:0]
		for _, e := range entries {
			if e.Timestamp.After(cutoff) {
				kept = append(kept, e)
			}
		}
		removedEntries += len(entries) - len(kept)
		if len(kept) == 0 {
			delete(r.logs, id)
			continue
		}
		r.logs[id] = kept
	}

	if removedShares > 0 || removedEntries > 0 {
		slog.Info("share registry swept",
			"removed_shares", removedShares,
			"removed_log_entries", removedEntries,
		)
	}
}
