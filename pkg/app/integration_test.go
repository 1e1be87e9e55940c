package app

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"

	_ "github.com/osvaldoandrade/ebookpdf/pkg/auth/static"
	"github.com/osvaldoandrade/ebookpdf/pkg/config"
	"github.com/osvaldoandrade/ebookpdf/pkg/domain"

	"github.com/alicebob/miniredis/v2"
)

const fakeConverterScript = `#!/bin/sh
# cookie url workspace pages workspace output
echo "cookie: $(cat "$1")"
echo "pages: $4"
[ "$2" = "https://example.com/fail" ] && exit 1
printf '%%PDF-1.4 fake' > "$6"
echo "done"
`

type testServer struct {
	srv    *httptest.Server
	app    *Application
	cfg    *config.Config
	wsRoot string
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	binDir := t.TempDir()
	bin := filepath.Join(binDir, "sapebook2pdf")
	if err := os.WriteFile(bin, []byte(fakeConverterScript), 0o755); err != nil {
		t.Fatalf("write converter: %v", err)
	}
	public := t.TempDir()
	if err := os.WriteFile(filepath.Join(public, "index.html"), []byte("<html>upload</html>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.ConverterBin = bin
	cfg.PublicDir = public
	cfg.WorkspaceRoot = t.TempDir()
	cfg.Env = "test"
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	application, err := NewApplication(cfg, WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	SetupMappings(application)
	srv := httptest.NewServer(application.Engine)
	t.Cleanup(func() {
		srv.Close()
		_ = application.Close()
	})
	return &testServer{srv: srv, app: application, cfg: cfg, wsRoot: cfg.WorkspaceRoot}
}

func (s *testServer) create(t *testing.T, cookie *string, baseURL, pages string, header http.Header) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if cookie != nil {
		fw, _ := mw.CreateFormFile("cookies", "cookies.txt")
		_, _ = fw.Write([]byte(*cookie))
	}
	_ = mw.WriteField("baseUrl", baseURL)
	_ = mw.WriteField("pages", pages)
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, s.srv.URL+"/create", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /create: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func strPtr(s string) *string { return &s }

var downloadLine = regexp.MustCompile(`\nDownload at: (http://[^/]+)/(pdfs/[0-9a-z]{6}\.pdf)$`)

func TestHTTPIntegrationFlow(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.JobHistoryPublic = true })

	resp := s.create(t, strPtr("sess=abc"), "https://example.com/book", "1-3", nil)
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("Content-Type = %q", ct)
	}
	jobID := resp.Header.Get("X-Job-Id")
	if jobID == "" {
		t.Fatal("missing X-Job-Id")
	}
	if !strings.HasPrefix(body, "cookie: sess=abc\npages: 1,2,3\ndone\n") {
		t.Fatalf("unexpected converter output %q", body)
	}
	m := downloadLine.FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("missing download line in %q", body)
	}
	if m[1] != s.srv.URL {
		t.Fatalf("download host = %q, want %q", m[1], s.srv.URL)
	}

	entries, _ := os.ReadDir(s.wsRoot)
	if len(entries) != 0 {
		t.Fatalf("workspace left behind: %v", entries)
	}

	pdf, err := http.Get(s.srv.URL + "/" + m[2])
	if err != nil {
		t.Fatalf("GET pdf: %v", err)
	}
	if got := readBody(t, pdf); got != "%PDF-1.4 fake" {
		t.Fatalf("pdf body = %q", got)
	}

	jobResp, err := http.Get(s.srv.URL + "/v1/jobs/" + jobID)
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	var rec domain.JobRecord
	if err := json.Unmarshal([]byte(readBody(t, jobResp)), &rec); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if rec.Status != domain.StatusSucceeded || rec.DownloadPath != m[2] || rec.ExpandedPages != "1,2,3" {
		t.Fatalf("unexpected job record %+v", rec)
	}

	listResp, err := http.Get(s.srv.URL + "/v1/jobs?limit=10")
	if err != nil {
		t.Fatalf("GET jobs: %v", err)
	}
	if body := readBody(t, listResp); !strings.Contains(body, jobID) {
		t.Fatalf("job list missing %s: %s", jobID, body)
	}
}

func TestHTTPIntegrationFailure(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.create(t, strPtr("x"), "https://example.com/fail", "2", nil)
	body := readBody(t, resp)
	if strings.Contains(body, "Download at:") {
		t.Fatalf("failure must not carry a link: %q", body)
	}
	if body != "cookie: x\npages: 2\n" {
		t.Fatalf("unexpected body %q", body)
	}
	entries, _ := os.ReadDir(s.wsRoot)
	if len(entries) != 0 {
		t.Fatalf("workspace left behind: %v", entries)
	}
}

func TestHTTPIntegrationMissingUpload(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.create(t, nil, "https://example.com/book", "1", nil)
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK || body != "The file must not be empty." {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
	entries, _ := os.ReadDir(s.wsRoot)
	if len(entries) != 0 {
		t.Fatalf("no workspace should be created, found %v", entries)
	}
}

func TestHTTPIntegrationStaticAndOps(t *testing.T) {
	s := newTestServer(t, nil)

	resp, err := http.Get(s.srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	if body := readBody(t, resp); body != "<html>upload</html>" {
		t.Fatalf("index = %q", body)
	}

	s.create(t, strPtr("x"), "https://example.com/book", "1", nil).Body.Close()
	resp, err = http.Get(s.srv.URL + "/pdfs/")
	if err != nil {
		t.Fatalf("GET /pdfs/: %v", err)
	}
	if body := readBody(t, resp); strings.Contains(body, ".pdf") {
		t.Fatalf("artifact directory must not be listed: %q", body)
	}

	resp, err = http.Get(s.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	if body := readBody(t, resp); resp.StatusCode != http.StatusOK || !strings.Contains(body, `"status":"ok"`) {
		t.Fatalf("healthz = %d %s", resp.StatusCode, body)
	}

	resp, err = http.Get(s.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	if body := readBody(t, resp); !strings.Contains(body, "ebookpdf_jobs_started_total") {
		t.Fatal("metrics missing job counter")
	}
}

func TestHTTPIntegrationAuthAndRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestServer(t, func(c *config.Config) {
		c.AuthProvider = "static"
		c.AuthConfig = map[string]any{"token": "s3cret"}
		c.RedisAddr = mr.Addr()
		c.RateLimit.Create.RequestsPerMinute = 1
		c.RateLimit.Create.BurstSize = 1
	})

	resp := s.create(t, strPtr("x"), "https://example.com/book", "1", nil)
	readBody(t, resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", resp.StatusCode)
	}

	auth := http.Header{"Authorization": []string{"Bearer s3cret"}}
	resp = s.create(t, strPtr("x"), "https://example.com/book", "1", auth)
	if body := readBody(t, resp); !strings.Contains(body, "Download at:") {
		t.Fatalf("authorized request failed: %d %q", resp.StatusCode, body)
	}

	resp = s.create(t, strPtr("x"), "https://example.com/book", "1", auth)
	readBody(t, resp)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}

	resp, err := http.Get(s.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz must stay public, got %d", resp.StatusCode)
	}

	if code := s.getJobs(t, nil); code != http.StatusUnauthorized {
		t.Fatalf("history without token = %d, want 401", code)
	}
	if code := s.getJobs(t, auth); code != http.StatusOK {
		t.Fatalf("history with token = %d, want 200", code)
	}
}

func TestHTTPIntegrationHistoryClosedWithoutAuth(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.create(t, strPtr("x"), "https://example.com/private-book", "1", nil)
	if body := readBody(t, resp); !strings.Contains(body, "Download at:") {
		t.Fatalf("anonymous conversion failed: %d %q", resp.StatusCode, body)
	}
	jobID := resp.Header.Get("X-Job-Id")

	for _, path := range []string{"/v1/jobs", "/v1/jobs/" + jobID} {
		req, _ := http.NewRequest(http.MethodGet, s.srv.URL+path, nil)
		got, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body := readBody(t, got)
		if got.StatusCode != http.StatusForbidden || strings.Contains(body, "private-book") {
			t.Fatalf("GET %s = %d %s", path, got.StatusCode, body)
		}
	}
}

func TestHTTPIntegrationHistoryScope(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.AuthProvider = "static"
		c.AuthConfig = map[string]any{"token": "s3cret", "scopes": []any{"convert"}}
		c.AuthScopes.History = "jobs:read"
	})

	auth := http.Header{"Authorization": []string{"Bearer s3cret"}}
	resp := s.create(t, strPtr("x"), "https://example.com/book", "1", auth)
	if body := readBody(t, resp); !strings.Contains(body, "Download at:") {
		t.Fatalf("authorized request failed: %d %q", resp.StatusCode, body)
	}
	if code := s.getJobs(t, auth); code != http.StatusForbidden {
		t.Fatalf("history without scope = %d, want 403", code)
	}
}

func (s *testServer) getJobs(t *testing.T, header http.Header) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, s.srv.URL+"/v1/jobs", nil)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /v1/jobs: %v", err)
	}
	readBody(t, resp)
	return resp.StatusCode
}
