// Package download implements the hardened share download pipeline. Every
// request runs an ordered sequence of admission and integrity checks before a
// byte stream is opened, and every exit path releases exactly the resources
// it acquired.
package download

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"roomdrop/internal/server/filestore"
	"roomdrop/internal/server/limits"
	"roomdrop/internal/server/metrics"
	"roomdrop/internal/server/share"
)

// shareIDPattern is enforced before any lookup. Anything else is treated the
// same as an unknown share.
var shareIDPattern = regexp.MustCompile(`^[0-9A-Za-z]{8,10}$`)

// Rejection codes surfaced to clients. Everything security-sensitive
// collapses into CodeNotFound; only admission control and the password
// challenge are distinguishable.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeRateLimited  = "RATE_LIMITED"
	CodeServerBusy   = "SERVER_BUSY"
	CodeTimeout      = "TIMEOUT"
)

// Rejection is a refused download. Reason is internal detail for logs and
// metrics and must never reach a response body.
type Rejection struct {
	Status     int
	Code       string
	Reason     string
	RetryAfter time.Duration
	Challenge  bool // respond with a Basic auth challenge
}

func (r *Rejection) Error() string {
	return r.Reason
}

func notFound(reason string) *Rejection {
	return &Rejection{Status: http.StatusNotFound, Code: CodeNotFound, Reason: reason}
}

// Download is an admitted, already-open stream. Close releases the
// concurrency slot, the stream slot and the descriptor; it is safe to call
// more than once and must be called on every path once Open succeeds.
type Download struct {
	File        *os.File
	FileName    string
	Size        int64
	ContentType string
	ShareID     string

	once    sync.Once
	release func()
}

// Close releases all resources held by the download.
func (d *Download) Close() error {
	var err error
	d.once.Do(func() {
		err = d.File.Close()
		d.release()
	})
	return err
}

// Request is one download attempt.
type Request struct {
	ShareID       string
	ClientIP      string
	UserAgent     string
	Authorization string // raw Authorization header, may be empty
}

// Pipeline wires the registry, the record store and the abuse trackers into
// the ordered check sequence. It is the only component that knows all of them.
type Pipeline struct {
	shares      *share.Registry
	files       *filestore.Store
	concurrency *limits.Concurrency
	bandwidth   *limits.Bandwidth
	streams     *limits.Streams
	maxFileSize int64
	metrics     *metrics.Metrics // may be nil
}

// NewPipeline creates a download pipeline.
func NewPipeline(
	shares *share.Registry,
	files *filestore.Store,
	concurrency *limits.Concurrency,
	bandwidth *limits.Bandwidth,
	streams *limits.Streams,
	maxFileSize int64,
	m *metrics.Metrics,
) *Pipeline {
	return &Pipeline{
		shares:      shares,
		files:       files,
		concurrency: concurrency,
		bandwidth:   bandwidth,
		streams:     streams,
		maxFileSize: maxFileSize,
		metrics:     m,
	}
}

// Open runs the admission sequence and returns an open stream on success.
// A non-nil error is always a *Rejection. On error, every counter touched on
// the way has already been released; on success the caller owns the Download
// and must Close it.
func (p *Pipeline) Open(ctx context.Context, req Request) (*Download, error) {
	// 1. Format validation. Malformed ids get the same answer as unknown ones.
	if !shareIDPattern.MatchString(req.ShareID) {
		return nil, p.refuse(req, notFound("malformed share id"), "")
	}

	// 2. Concurrency admission. Nothing else has been touched yet.
	if !p.concurrency.Increment(req.ClientIP) {
		return nil, p.refuse(req, &Rejection{
			Status:     http.StatusTooManyRequests,
			Code:       CodeRateLimited,
			Reason:     "per-ip concurrency ceiling",
			RetryAfter: time.Second,
		}, "")
	}

	// Every failure from here on must give the slot back.
	fail := func(rej *Rejection, code share.ErrorCode) (*Download, error) {
		p.concurrency.Decrement(req.ClientIP)
		return nil, p.refuse(req, rej, code)
	}

	// 3. Share validation.
	v := p.shares.Validate(req.ShareID)
	if v.Status != share.StatusValid {
		return fail(notFound("share "+string(v.Status)), logCodeFor(v.Status))
	}
	link := v.Link

	// 4. Password challenge.
	switch auth := link.Auth.(type) {
	case share.AuthNone:
	case share.AuthPassword:
		pw, ok := basicAuthPassword(req.Authorization)
		if !ok {
			return fail(&Rejection{
				Status:    http.StatusUnauthorized,
				Code:      CodeUnauthorized,
				Reason:    "missing or malformed credential",
				Challenge: true,
			}, share.CodeWrongPassword)
		}
		if !share.ComparePassword(pw, auth.Hash) {
			return fail(&Rejection{
				Status:    http.StatusUnauthorized,
				Code:      CodeUnauthorized,
				Reason:    "wrong password",
				Challenge: true,
			}, share.CodeWrongPassword)
		}
	}

	// Password verification is the one CPU-heavy step; a request that timed
	// out while hashing is answered as a timeout, not served.
	if ctx.Err() != nil {
		return fail(&Rejection{
			Status: http.StatusRequestTimeout,
			Code:   CodeTimeout,
			Reason: "request deadline passed during admission",
		}, "")
	}

	// 5. File resolution.
	rec, ok := p.files.Get(link.FileID)
	if !ok {
		return fail(notFound("file record missing"), share.CodeFileNotFound)
	}

	// 6. Path containment. Lexical check against the upload root.
	path, ok := containedPath(p.files.Root(), rec.StoragePath)
	if !ok {
		return fail(notFound("path escapes upload root"), "")
	}

	// 7. Existence + symlink check. Lstat does not follow links.
	fi, err := os.Lstat(path)
	if err != nil {
		return fail(notFound("file missing on disk"), share.CodeFileNotFound)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return fail(notFound("storage path is a symlink"), "")
	}

	// 8. Hardlink check. More than one name for the inode means the bytes can
	// be swapped out from under us.
	if linkCount(fi) != 1 {
		return fail(notFound("storage path has extra hardlinks"), "")
	}

	// 9. Size ceiling. Over-limit collapses into not-found to avoid an oracle.
	if rec.SizeBytes > p.maxFileSize {
		return fail(notFound("record exceeds max file size"), "")
	}

	// 10. Bandwidth admission.
	if !p.bandwidth.CheckAndIncrement(req.ClientIP, rec.SizeBytes) {
		return fail(&Rejection{
			Status:     http.StatusTooManyRequests,
			Code:       CodeRateLimited,
			Reason:     "per-ip bandwidth budget exhausted",
			RetryAfter: p.bandwidth.RetryAfter(req.ClientIP),
		}, share.CodeBandwidth)
	}

	// 11. Stream admission.
	if !p.streams.Acquire() {
		return fail(&Rejection{
			Status:     http.StatusServiceUnavailable,
			Code:       CodeServerBusy,
			Reason:     "global stream ceiling",
			RetryAfter: time.Second,
		}, "")
	}
	if p.metrics != nil {
		p.metrics.ActiveStreams.Inc()
	}

	failStream := func(rej *Rejection, code share.ErrorCode) (*Download, error) {
		p.streams.Release()
		if p.metrics != nil {
			p.metrics.ActiveStreams.Dec()
		}
		return fail(rej, code)
	}

	// 12. TOCTOU-safe open: open by path once, then trust only the descriptor.
	// Re-stat the descriptor and require the link count and size recorded at
	// validation time; any mismatch means the file changed between checks.
	f, err := os.Open(path)
	if err != nil {
		return failStream(notFound("open failed"), share.CodeFileNotFound)
	}
	st, err := f.Stat()
	if err != nil || st.Size() != rec.SizeBytes || linkCount(st) != 1 {
		f.Close()
		return failStream(notFound("descriptor re-stat mismatch"), "")
	}

	contentType, err := sniffContentType(f, rec.DisplayName)
	if err != nil {
		f.Close()
		return failStream(notFound("content sniff failed"), "")
	}

	// 13. Admitted. Log the access and hand the open descriptor to the caller.
	p.shares.RecordAccess(link.ID)
	p.shares.LogAccess(share.AccessEntry{
		ShareID:          link.ID,
		IPAddress:        req.ClientIP,
		UserAgent:        req.UserAgent,
		Success:          true,
		BytesTransferred: rec.SizeBytes,
	})
	if p.metrics != nil {
		p.metrics.DownloadsTotal.WithLabelValues("200").Inc()
		p.metrics.BytesServed.Add(float64(rec.SizeBytes))
	}

	ip := req.ClientIP
	return &Download{
		File:        f,
		FileName:    rec.DisplayName,
		Size:        rec.SizeBytes,
		ContentType: contentType,
		ShareID:     link.ID,
		release: func() {
			p.concurrency.Decrement(ip)
			p.streams.Release()
			if p.metrics != nil {
				p.metrics.ActiveStreams.Dec()
			}
		},
	}, nil
}

// refuse logs and counts a rejection, optionally appending a failed entry to
// the share's access log, and returns rej for the caller to propagate.
func (p *Pipeline) refuse(req Request, rej *Rejection, code share.ErrorCode) *Rejection {
	slog.Warn("download rejected",
		"share_id", req.ShareID,
		"ip", req.ClientIP,
		"status", rej.Status,
		"reason", rej.Reason,
	)
	if p.metrics != nil {
		p.metrics.RejectionsTotal.WithLabelValues(metricReason(rej.Reason)).Inc()
		p.metrics.DownloadsTotal.WithLabelValues(strconv.Itoa(rej.Status)).Inc()
	}
	if code != "" {
		p.shares.LogAccess(share.AccessEntry{
			ShareID:   req.ShareID,
			IPAddress: req.ClientIP,
			UserAgent: req.UserAgent,
			Success:   false,
			ErrorCode: code,
		})
	}
	return rej
}

func logCodeFor(status share.Status) share.ErrorCode {
	switch status {
	case share.StatusRevoked:
		return share.CodeShareRevoked
	case share.StatusExpired:
		return share.CodeShareExpired
	default:
		return share.CodeInvalidShare
	}
}

// metricReason turns a free-form reason into a low-cardinality label.
func metricReason(reason string) string {
	return strings.ReplaceAll(reason, " ", "_")
}

// basicAuthPassword extracts the password from a Basic credential. The
// username portion is ignored.
func basicAuthPassword(header string) (string, bool) {
	const prefix = "Basic "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", false
	}
	_, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", false
	}
	return password, true
}

// containedPath normalizes p and reports whether it is lexically contained
// within root, returning the absolute path when it is.
func containedPath(root, p string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}

// sniffContentType detects the content type from the file's leading bytes,
// falling back to the filename extension, and rewinds the descriptor.
func sniffContentType(f *os.File, name string) (string, error) {
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return "", err
	}

	ct := http.DetectContentType(buf[:n])
	if ct == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
			ct = byExt
		}
	}
	return ct, nil
}
