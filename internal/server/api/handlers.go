package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"roomdrop/internal/server/config"
	"roomdrop/internal/server/database"
	"roomdrop/internal/server/download"
	"roomdrop/internal/server/filestore"
	"roomdrop/internal/server/limits"
	"roomdrop/internal/server/metrics"
	"roomdrop/internal/server/share"
)

// Handler contains the HTTP handlers for the share API.
type Handler struct {
	cfg      *config.Config
	shares   *share.Registry
	files    *filestore.Store
	pipeline *download.Pipeline
	streams  *limits.Streams
	archive  *database.Archive // nil when no DATABASE_URL is configured
	metrics  *metrics.Metrics  // nil in tests
}

// NewHandler creates a handler with its dependencies.
func NewHandler(
	cfg *config.Config,
	shares *share.Registry,
	files *filestore.Store,
	pipeline *download.Pipeline,
	streams *limits.Streams,
	archive *database.Archive,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		cfg:      cfg,
		shares:   shares,
		files:    files,
		pipeline: pipeline,
		streams:  streams,
		archive:  archive,
		metrics:  m,
	}
}

type createShareRequest struct {
	FileID        string `json:"fileId"`
	CreatedBy     string `json:"createdBy"`
	ExpiresInDays *int   `json:"expiresInDays"`
	Password      string `json:"password"`
}

type shareResponse struct {
	ShareID        string     `json:"shareId"`
	FileID         string     `json:"fileId"`
	CreatedBy      string     `json:"createdBy"`
	URL            string     `json:"url"`
	Password       string     `json:"password,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	HasPassword    bool       `json:"hasPassword"`
	AccessCount    uint64     `json:"accessCount"`
	LastAccessedAt *time.Time `json:"lastAccessedAt,omitempty"`
	Status         string     `json:"status"`
}

func (h *Handler) shareResponse(link share.Link, password string) shareResponse {
	status := "active"
	if !link.Usable(time.Now()) {
		status = "expired"
	}
	resp := shareResponse{
		ShareID:     link.ID,
		FileID:      link.FileID,
		CreatedBy:   link.CreatedBy,
		URL:         fmt.Sprintf("%s/share/%s/download", h.cfg.BaseURL, link.ID),
		Password:    password,
		CreatedAt:   link.CreatedAt,
		ExpiresAt:   link.ExpiresAt,
		HasPassword: link.HasPassword(),
		AccessCount: link.AccessCount,
		Status:      status,
	}
	if !link.LastAccessedAt.IsZero() {
		t := link.LastAccessedAt
		resp.LastAccessedAt = &t
	}
	return resp
}

// HandleCreateShare handles POST /share.
func (h *Handler) HandleCreateShare(c echo.Context) error {
	var req createShareRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, "VALIDATION", "invalid request body")
	}

	if req.FileID == "" {
		return respondError(c, http.StatusBadRequest, "VALIDATION", "fileId is required")
	}

	// Passwords are never client-chosen; the only accepted request is for a
	// server-generated one.
	withPassword := false
	switch req.Password {
	case "":
	case "auto-generate":
		withPassword = true
	default:
		return respondError(c, http.StatusBadRequest, "VALIDATION",
			`password must be "auto-generate" or omitted`)
	}

	days := h.cfg.ShareExpiryDays
	if req.ExpiresInDays != nil {
		days = *req.ExpiresInDays
	}
	if days < 1 || days > 30 {
		return respondError(c, http.StatusBadRequest, "VALIDATION",
			"expiresInDays must be between 1 and 30")
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = "anonymous"
	}

	if _, ok := h.files.Get(req.FileID); !ok {
		return respondNotFound(c)
	}

	link, password, err := h.shares.Create(req.FileID, createdBy, days, withPassword)
	if err != nil {
		if errors.Is(err, share.ErrInvalidExpiry) {
			return respondError(c, http.StatusBadRequest, "VALIDATION", err.Error())
		}
		return respondError(c, http.StatusInternalServerError, "INTERNAL", "failed to create share")
	}
	if h.metrics != nil {
		h.metrics.SharesCreated.Inc()
	}

	return respondData(c, http.StatusCreated, h.shareResponse(link, password))
}

// HandleListShares handles GET /share.
func (h *Handler) HandleListShares(c echo.Context) error {
	status := c.QueryParam("status")
	if status == "" {
		status = "all"
	}
	switch status {
	case "active", "expired", "all":
	default:
		return respondError(c, http.StatusBadRequest, "VALIDATION",
			"status must be active, expired or all")
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return respondError(c, http.StatusBadRequest, "VALIDATION", "limit must be a positive integer")
		}
		limit = min(n, 100)
	}
	offset := 0
	if raw := c.QueryParam("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return respondError(c, http.StatusBadRequest, "VALIDATION", "offset must be a non-negative integer")
		}
		offset = n
	}

	all := h.shares.List(c.QueryParam("userId"), status)
	total := len(all)

	page := all[min(offset, total):]
	if len(page) > limit {
		page = page[:limit]
	}

	shares := make([]shareResponse, 0, len(page))
	for _, link := range page {
		shares = append(shares, h.shareResponse(link, ""))
	}

	return respondData(c, http.StatusOK, echo.Map{
		"shares": shares,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// HandleGetShare handles GET /share/:shareId.
func (h *Handler) HandleGetShare(c echo.Context) error {
	link, ok := h.shares.Get(c.Param("shareId"))
	if !ok {
		return respondNotFound(c)
	}
	return respondData(c, http.StatusOK, h.shareResponse(link, ""))
}

type ownershipRequest struct {
	UserID string `json:"userId"`
}

// HandleRevokeShare handles DELETE /share/:shareId. Owner-only; the share
// record stays visible with status "expired".
func (h *Handler) HandleRevokeShare(c echo.Context) error {
	var req ownershipRequest
	if err := c.Bind(&req); err != nil || req.UserID == "" {
		return respondError(c, http.StatusBadRequest, "VALIDATION", "userId is required")
	}

	if err := h.shares.Revoke(c.Param("shareId"), req.UserID); err != nil {
		return h.mapOwnershipError(c, err)
	}
	if h.metrics != nil {
		h.metrics.SharesRevoked.Inc()
	}
	return respondMessage(c, http.StatusOK, "share revoked")
}

// HandleDeleteShare handles POST /share/:shareId/permanent-delete.
func (h *Handler) HandleDeleteShare(c echo.Context) error {
	var req ownershipRequest
	if err := c.Bind(&req); err != nil || req.UserID == "" {
		return respondError(c, http.StatusBadRequest, "VALIDATION", "userId is required")
	}

	if err := h.shares.Delete(c.Param("shareId"), req.UserID); err != nil {
		return h.mapOwnershipError(c, err)
	}
	return respondMessage(c, http.StatusOK, "share deleted")
}

// mapOwnershipError translates registry errors for revoke/delete. An
// ownership failure terminates the request here; nothing runs after it.
func (h *Handler) mapOwnershipError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, share.ErrNotFound):
		return respondNotFound(c)
	case errors.Is(err, share.ErrNotOwner):
		return respondError(c, http.StatusForbidden, "FORBIDDEN", "only the share creator may do this")
	default:
		return respondError(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

type accessLogResponse struct {
	Timestamp        time.Time `json:"timestamp"`
	IPAddress        string    `json:"ipAddress"`
	UserAgent        string    `json:"userAgent,omitempty"`
	Success          bool      `json:"success"`
	ErrorCode        string    `json:"errorCode,omitempty"`
	BytesTransferred int64     `json:"bytesTransferred,omitempty"`
}

// HandleAccessLog handles GET /share/:shareId/access.
func (h *Handler) HandleAccessLog(c echo.Context) error {
	shareID := c.Param("shareId")
	if _, ok := h.shares.Get(shareID); !ok {
		return respondNotFound(c)
	}

	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return respondError(c, http.StatusBadRequest, "VALIDATION", "limit must be a positive integer")
		}
		limit = n
	}

	entries := h.shares.AccessLogs(shareID, limit)
	logs := make([]accessLogResponse, 0, len(entries))
	for _, e := range entries {
		logs = append(logs, accessLogResponse{
			Timestamp:        e.Timestamp,
			IPAddress:        e.IPAddress,
			UserAgent:        e.UserAgent,
			Success:          e.Success,
			ErrorCode:        string(e.ErrorCode),
			BytesTransferred: e.BytesTransferred,
		})
	}

	return respondData(c, http.StatusOK, echo.Map{
		"shareId": shareID,
		"logs":    logs,
	})
}

// HandleDownload handles GET /share/:shareId/download, running the full
// admission pipeline before streaming from the descriptor it opened.
func (h *Handler) HandleDownload(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.cfg.DownloadTimeout)
	defer cancel()

	dl, err := h.pipeline.Open(ctx, download.Request{
		ShareID:       c.Param("shareId"),
		ClientIP:      c.RealIP(),
		UserAgent:     c.Request().UserAgent(),
		Authorization: c.Request().Header.Get(echo.HeaderAuthorization),
	})
	if err != nil {
		return h.writeRejection(c, err)
	}
	defer dl.Close()

	res := c.Response()
	header := res.Header()
	header.Set(echo.HeaderContentType, dl.ContentType)
	header.Set(echo.HeaderContentLength, strconv.FormatInt(dl.Size, 10))
	header.Set("Content-Disposition", attachmentDisposition(dl.FileName))
	header.Set("Cache-Control", "no-store")
	header.Set("X-Content-Type-Options", "nosniff")
	res.WriteHeader(http.StatusOK)

	// Chunked copy so a fired deadline or a vanished client stops the stream;
	// the deferred Close releases every counter either way.
	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			break
		}
		n, rerr := dl.File.Read(buf)
		if n > 0 {
			if _, werr := res.Write(buf[:n]); werr != nil {
				break
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				slog.Error("stream read failed", "share_id", dl.ShareID, "error", rerr)
			}
			break
		}
	}

	return nil
}

// writeRejection maps a pipeline rejection onto the wire. Security-sensitive
// codes collapse into the uniform not-found body.
func (h *Handler) writeRejection(c echo.Context, err error) error {
	var rej *download.Rejection
	if !errors.As(err, &rej) {
		return respondError(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}

	if rej.Challenge {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Basic realm="share", charset="UTF-8"`)
	}
	setRetryAfter(c, rej.RetryAfter)

	switch rej.Code {
	case download.CodeNotFound:
		return respondNotFound(c)
	case download.CodeUnauthorized:
		return respondError(c, rej.Status, rej.Code, "password required")
	case download.CodeRateLimited:
		return respondError(c, rej.Status, rej.Code, "Too many requests, try again later")
	case download.CodeServerBusy:
		return respondError(c, rej.Status, rej.Code, "Server is busy, try again later")
	case download.CodeTimeout:
		return respondError(c, rej.Status, rej.Code, "download timed out")
	default:
		return respondError(c, rej.Status, rej.Code, "request refused")
	}
}

// attachmentDisposition builds a Content-Disposition header carrying both an
// ASCII fallback and the RFC 5987 percent-encoded filename.
func attachmentDisposition(name string) string {
	fallback := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		fallback, url.PathEscape(name))
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	archiveStatus := "disabled"

	if h.archive != nil {
		archiveStatus = "connected"
		if err := h.archive.HealthCheck(c.Request().Context()); err != nil {
			status = "degraded"
			archiveStatus = fmt.Sprintf("error: %v", err)
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":  status,
		"archive": archiveStatus,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	files := h.files.Summary()
	shares := h.shares.Summary()

	return respondData(c, http.StatusOK, echo.Map{
		"tracked_files":  files.TrackedFiles,
		"tracked_bytes":  files.TrackedBytes,
		"tracked_human":  humanizeBytes(files.TrackedBytes),
		"deleted_files":  files.DeletedFiles,
		"deleted_bytes":  files.DeletedBytes,
		"total_shares":   shares.TotalShares,
		"active_shares":  shares.ActiveShares,
		"total_accesses": shares.TotalAccesses,
		"active_streams": h.streams.Active(),
	})
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
