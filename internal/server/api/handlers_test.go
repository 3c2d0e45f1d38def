package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"roomdrop/internal/server/config"
	"roomdrop/internal/server/download"
	"roomdrop/internal/server/filestore"
	"roomdrop/internal/server/limits"
	"roomdrop/internal/server/share"
)

type testServer struct {
	cfg    *config.Config
	shares *share.Registry
	files  *filestore.Store
	echo   *echo.Echo
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()

	cfg := &config.Config{
		BaseURL:                "http://localhost:8080",
		UploadDir:              t.TempDir(),
		MaxFileSize:            1 << 20,
		FileRetention:          time.Hour,
		MaxConcurrentDownloads: 5,
		MaxActiveStreams:       10,
		DownloadTimeout:        5 * time.Second,
		BandwidthWindow:        time.Minute,
		MaxBandwidthBytes:      10 << 20,
		RateWindow:             time.Minute,
		CreateLimit:            100,
		ListLimit:              100,
		RevokeLimit:            100,
		AccessLogLimit:         100,
		DownloadLimit:          100,
		ShareExpiryDays:        7,
		ShareIDLength:          9,
		PasswordLength:         6,
	}
	if mutate != nil {
		mutate(cfg)
	}

	shares := share.NewRegistry(share.Options{
		IDLength:       cfg.ShareIDLength,
		PasswordLength: cfg.PasswordLength,
	})
	files := filestore.NewStore(cfg.UploadDir, cfg.FileRetention, nil)

	streams := limits.NewStreams(cfg.MaxActiveStreams)
	pipeline := download.NewPipeline(
		shares,
		files,
		limits.NewConcurrency(cfg.MaxConcurrentDownloads),
		limits.NewBandwidth(cfg.BandwidthWindow, cfg.MaxBandwidthBytes),
		streams,
		cfg.MaxFileSize,
		nil,
	)

	h := NewHandler(cfg, shares, files, pipeline, streams, nil, nil)
	return &testServer{
		cfg:    cfg,
		shares: shares,
		files:  files,
		echo:   NewRouter(h, NewLimiters(cfg)),
	}
}

func (ts *testServer) addFile(t *testing.T, name, content string) filestore.Record {
	t.Helper()
	path := filepath.Join(ts.cfg.UploadDir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return ts.files.Add(filestore.Record{
		DisplayName: name,
		StoragePath: path,
		OwnerRoom:   "room-1",
		UploadedAt:  time.Now(),
		SizeBytes:   int64(len(content)),
	})
}

func (ts *testServer) request(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return body
}

func dataField(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := decode(t, rec)
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("response has no data object: %q", rec.Body.String())
	}
	return data
}

const uniformNotFound = `{"error":"NOT_FOUND","message":"The requested resource was not found","success":false}`

func expectUniform404(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != uniformNotFound {
		t.Fatalf("body = %q, want %q", got, uniformNotFound)
	}
}

func TestCreateShare(t *testing.T) {
	ts := newTestServer(t, nil)
	rec1 := ts.addFile(t, "report.pdf", "pdf bytes")

	t.Run("basic", func(t *testing.T) {
		rec := ts.request(http.MethodPost, "/share",
			fmt.Sprintf(`{"fileId":%q,"createdBy":"alice"}`, rec1.ID))
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		data := dataField(t, rec)
		id, _ := data["shareId"].(string)
		if len(id) != 9 {
			t.Errorf("shareId = %q, want 9 chars", id)
		}
		wantURL := "http://localhost:8080/share/" + id + "/download"
		if data["url"] != wantURL {
			t.Errorf("url = %v, want %s", data["url"], wantURL)
		}
		if data["hasPassword"] != false {
			t.Errorf("hasPassword = %v, want false", data["hasPassword"])
		}
		if _, present := data["password"]; present {
			t.Error("password field should be omitted for unprotected shares")
		}
	})

	t.Run("with generated password", func(t *testing.T) {
		rec := ts.request(http.MethodPost, "/share",
			fmt.Sprintf(`{"fileId":%q,"createdBy":"alice","password":"auto-generate"}`, rec1.ID))
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		data := dataField(t, rec)
		pw, _ := data["password"].(string)
		if len(pw) != 6 {
			t.Errorf("password = %q, want 6 chars", pw)
		}
		if data["hasPassword"] != true {
			t.Error("hasPassword should be true")
		}
	})

	t.Run("client-chosen password rejected", func(t *testing.T) {
		rec := ts.request(http.MethodPost, "/share",
			fmt.Sprintf(`{"fileId":%q,"password":"hunter2"}`, rec1.ID))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing fileId", func(t *testing.T) {
		rec := ts.request(http.MethodPost, "/share", `{"createdBy":"alice"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("expiry out of range", func(t *testing.T) {
		for _, days := range []int{0, 31, -5} {
			rec := ts.request(http.MethodPost, "/share",
				fmt.Sprintf(`{"fileId":%q,"expiresInDays":%d}`, rec1.ID, days))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("days=%d: status = %d, want 400", days, rec.Code)
			}
		}
	})

	t.Run("unknown file looks like any other 404", func(t *testing.T) {
		rec := ts.request(http.MethodPost, "/share", `{"fileId":"no-such-file"}`)
		expectUniform404(t, rec)
	})
}

func TestListShares(t *testing.T) {
	ts := newTestServer(t, nil)
	f := ts.addFile(t, "doc.txt", "contents")

	for i := 0; i < 5; i++ {
		owner := "alice"
		if i%2 == 1 {
			owner = "bob"
		}
		rec := ts.request(http.MethodPost, "/share",
			fmt.Sprintf(`{"fileId":%q,"createdBy":%q}`, f.ID, owner))
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %d: status = %d", i, rec.Code)
		}
	}

	t.Run("all", func(t *testing.T) {
		data := dataField(t, ts.request(http.MethodGet, "/share", ""))
		if data["total"] != float64(5) {
			t.Errorf("total = %v, want 5", data["total"])
		}
	})

	t.Run("by user", func(t *testing.T) {
		data := dataField(t, ts.request(http.MethodGet, "/share?userId=alice", ""))
		if data["total"] != float64(3) {
			t.Errorf("total = %v, want 3", data["total"])
		}
	})

	t.Run("pagination", func(t *testing.T) {
		data := dataField(t, ts.request(http.MethodGet, "/share?limit=2&offset=4", ""))
		shares := data["shares"].([]any)
		if len(shares) != 1 {
			t.Errorf("len(shares) = %d, want 1", len(shares))
		}
		if data["total"] != float64(5) {
			t.Errorf("total = %v, want 5", data["total"])
		}
	})

	t.Run("bad status", func(t *testing.T) {
		rec := ts.request(http.MethodGet, "/share?status=banana", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestRevokeShare(t *testing.T) {
	ts := newTestServer(t, nil)
	f := ts.addFile(t, "doc.txt", "contents")
	link, _, err := ts.shares.Create(f.ID, "alice", 7, false)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("wrong owner", func(t *testing.T) {
		rec := ts.request(http.MethodDelete, "/share/"+link.ID, `{"userId":"mallory"}`)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("missing userId", func(t *testing.T) {
		rec := ts.request(http.MethodDelete, "/share/"+link.ID, `{}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown share", func(t *testing.T) {
		rec := ts.request(http.MethodDelete, "/share/AAAAAAAAA", `{"userId":"alice"}`)
		expectUniform404(t, rec)
	})

	t.Run("owner revokes, twice", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			rec := ts.request(http.MethodDelete, "/share/"+link.ID, `{"userId":"alice"}`)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
		}
		data := dataField(t, ts.request(http.MethodGet, "/share/"+link.ID, ""))
		if data["status"] != "expired" {
			t.Errorf("status after revoke = %v, want expired", data["status"])
		}
	})
}

func TestDeleteShare(t *testing.T) {
	ts := newTestServer(t, nil)
	f := ts.addFile(t, "doc.txt", "contents")
	link, _, err := ts.shares.Create(f.ID, "alice", 7, false)
	if err != nil {
		t.Fatal(err)
	}

	rec := ts.request(http.MethodPost, "/share/"+link.ID+"/permanent-delete", `{"userId":"alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	expectUniform404(t, ts.request(http.MethodGet, "/share/"+link.ID, ""))
}

func TestDownloadEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	f := ts.addFile(t, "héllo répört.txt", "hello download")

	link, _, err := ts.shares.Create(f.ID, "alice", 7, false)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("success", func(t *testing.T) {
		rec := ts.request(http.MethodGet, "/share/"+link.ID+"/download", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		if got := rec.Body.String(); got != "hello download" {
			t.Errorf("body = %q", got)
		}
		if got := rec.Header().Get("Cache-Control"); got != "no-store" {
			t.Errorf("Cache-Control = %q", got)
		}
		if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
			t.Errorf("X-Content-Type-Options = %q", got)
		}
		cd := rec.Header().Get("Content-Disposition")
		if !strings.HasPrefix(cd, "attachment;") || !strings.Contains(cd, "filename*=UTF-8''") {
			t.Errorf("Content-Disposition = %q", cd)
		}
		if got := rec.Header().Get(echo.HeaderContentLength); got != "14" {
			t.Errorf("Content-Length = %q, want 14", got)
		}
	})

	t.Run("unknown and revoked are indistinguishable", func(t *testing.T) {
		revoked, _, err := ts.shares.Create(f.ID, "alice", 7, false)
		if err != nil {
			t.Fatal(err)
		}
		if err := ts.shares.Revoke(revoked.ID, "alice"); err != nil {
			t.Fatal(err)
		}

		unknown := ts.request(http.MethodGet, "/share/ZZZZZZZZZ/download", "")
		rev := ts.request(http.MethodGet, "/share/"+revoked.ID+"/download", "")

		expectUniform404(t, unknown)
		expectUniform404(t, rev)
		if unknown.Body.String() != rev.Body.String() {
			t.Error("unknown and revoked shares returned different bodies")
		}
	})

	t.Run("password flow", func(t *testing.T) {
		protected, password, err := ts.shares.Create(f.ID, "alice", 7, true)
		if err != nil {
			t.Fatal(err)
		}
		target := "/share/" + protected.ID + "/download"

		rec := ts.request(http.MethodGet, target, "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("no auth: status = %d, want 401", rec.Code)
		}
		if got := rec.Header().Get(echo.HeaderWWWAuthenticate); !strings.HasPrefix(got, "Basic ") {
			t.Errorf("WWW-Authenticate = %q", got)
		}

		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set(echo.HeaderAuthorization,
			"Basic "+base64.StdEncoding.EncodeToString([]byte(":"+password)))
		res := httptest.NewRecorder()
		ts.echo.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("with auth: status = %d, body = %s", res.Code, res.Body.String())
		}
		if res.Body.String() != "hello download" {
			t.Errorf("body = %q", res.Body.String())
		}
	})
}

func TestAccessLogEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	f := ts.addFile(t, "doc.txt", "contents")
	link, _, err := ts.shares.Create(f.ID, "alice", 7, false)
	if err != nil {
		t.Fatal(err)
	}

	if rec := ts.request(http.MethodGet, "/share/"+link.ID+"/download", ""); rec.Code != http.StatusOK {
		t.Fatalf("download: status = %d", rec.Code)
	}

	data := dataField(t, ts.request(http.MethodGet, "/share/"+link.ID+"/access", ""))
	logs, ok := data["logs"].([]any)
	if !ok || len(logs) != 1 {
		t.Fatalf("logs = %v, want one entry", data["logs"])
	}
	entry := logs[0].(map[string]any)
	if entry["success"] != true {
		t.Errorf("success = %v, want true", entry["success"])
	}
	if entry["bytesTransferred"] != float64(len("contents")) {
		t.Errorf("bytesTransferred = %v, want %d", entry["bytesTransferred"], len("contents"))
	}

	expectUniform404(t, ts.request(http.MethodGet, "/share/XXXXXXXX/access", ""))
}

func TestRateLimitMiddleware(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.ListLimit = 2
	})

	for i := 0; i < 2; i++ {
		if rec := ts.request(http.MethodGet, "/share", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}

	rec := ts.request(http.MethodGet, "/share", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	body := decode(t, rec)
	if body["error"] != "RATE_LIMITED" {
		t.Errorf("error = %v, want RATE_LIMITED", body["error"])
	}
}

func TestExpiredShareOnWire(t *testing.T) {
	ts := newTestServer(t, nil)
	f := ts.addFile(t, "doc.txt", "contents")

	link, _, err := ts.shares.CreateWithExpiry(f.ID, "alice", time.Now().Add(-time.Minute), false)
	if err != nil {
		t.Fatal(err)
	}

	expectUniform404(t, ts.request(http.MethodGet, "/share/"+link.ID+"/download", ""))

	data := dataField(t, ts.request(http.MethodGet, "/share/"+link.ID, ""))
	if data["status"] != "expired" {
		t.Errorf("status = %v, want expired", data["status"])
	}
}

func TestHealthAndStats(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.addFile(t, "doc.txt", "0123456789")

	rec := ts.request(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: status = %d", rec.Code)
	}
	health := decode(t, rec)
	if health["archive"] != "disabled" {
		t.Errorf("archive = %v, want disabled", health["archive"])
	}

	data := dataField(t, ts.request(http.MethodGet, "/api/stats", ""))
	if data["tracked_files"] != float64(1) {
		t.Errorf("tracked_files = %v, want 1", data["tracked_files"])
	}
	if data["tracked_bytes"] != float64(10) {
		t.Errorf("tracked_bytes = %v, want 10", data["tracked_bytes"])
	}
}

func TestAttachmentDisposition(t *testing.T) {
	got := attachmentDisposition(`naïve "quote".txt`)
	if !strings.Contains(got, `filename="na_ve _quote_.txt"`) {
		t.Errorf("fallback not sanitized: %q", got)
	}
	if !strings.Contains(got, "filename*=UTF-8''na%C3%AFve%20%22quote%22.txt") {
		t.Errorf("extended filename wrong: %q", got)
	}
}
