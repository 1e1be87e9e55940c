package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStreamOutput(t *testing.T) {
	body := "page 1\npage 2\n\nDownload at: http://localhost:5000/pdfs/ab12cd.pdf"
	var out bytes.Buffer
	link, err := streamOutput(strings.NewReader(body), &out)
	if err != nil {
		t.Fatalf("streamOutput: %v", err)
	}
	if link != "http://localhost:5000/pdfs/ab12cd.pdf" {
		t.Fatalf("link = %q", link)
	}
	if out.String() != "page 1\npage 2\n\n" {
		t.Fatalf("out = %q", out.String())
	}

	link, err = streamOutput(strings.NewReader("boom\n"), io.Discard)
	if err != nil || link != "" {
		t.Fatalf("failed job: link=%q err=%v", link, err)
	}
}

func TestRunConvert(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/create" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f, _, err := r.FormFile("cookies")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		cookie, _ := io.ReadAll(f)
		w.Header().Set("X-Job-Id", "job-1")
		_, _ = io.WriteString(w, "cookie="+string(cookie)+" url="+r.FormValue("baseUrl")+" pages="+r.FormValue("pages")+"\n")
		_, _ = io.WriteString(w, "\nDownload at: http://"+r.Host+"/pdfs/zz99yy.pdf")
	}))
	defer srv.Close()

	cookies := filepath.Join(t.TempDir(), "cookies.txt")
	if err := os.WriteFile(cookies, []byte("sess=1"), 0o600); err != nil {
		t.Fatal(err)
	}
	opts := convertOptions{cookiesPath: cookies, targetURL: "https://example.com/b", pages: "1-2"}

	var out bytes.Buffer
	res, err := runConvert(newClient(srv.URL, "tok", 0), opts, &out)
	if err != nil {
		t.Fatalf("runConvert: %v", err)
	}
	if res.jobID != "job-1" || !strings.HasSuffix(res.link, "/pdfs/zz99yy.pdf") {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.HasPrefix(out.String(), "cookie=sess=1 url=https://example.com/b pages=1-2\n") {
		t.Fatalf("out = %q", out.String())
	}

	if _, err := runConvert(newClient(srv.URL, "", 0), opts, io.Discard); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

func TestDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pdfs/ab12cd.pdf" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "%PDF-1.4")
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.pdf")
	n, err := downloadFile(newClient(srv.URL, "", 0), srv.URL+"/pdfs/ab12cd.pdf", dest, false)
	if err != nil || n != 8 {
		t.Fatalf("download: n=%d err=%v", n, err)
	}
	if b, _ := os.ReadFile(dest); string(b) != "%PDF-1.4" {
		t.Fatalf("file = %q", b)
	}

	missing := filepath.Join(t.TempDir(), "missing.pdf")
	if _, err := downloadFile(newClient(srv.URL, "", 0), srv.URL+"/pdfs/nope.pdf", missing, false); err == nil {
		t.Fatal("expected error for missing artifact")
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Fatalf("no file should be written, stat err=%v", err)
	}
}

func TestFileNameFromLink(t *testing.T) {
	if got := fileNameFromLink("http://h/pdfs/ab12cd.pdf"); got != "ab12cd.pdf" {
		t.Fatalf("got %q", got)
	}
	if got := fileNameFromLink("http://h/"); got != "ebook.pdf" {
		t.Fatalf("got %q", got)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("EBOOKPDF_CONFIG_DIR", t.TempDir())
	t.Setenv("EBOOKPDF_PROFILE", "")

	cfg, path, err := loadConfig()
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if got := resolveProfileName("", cfg); got != "default" {
		t.Fatalf("profile = %q", got)
	}
	cfg.Profiles["work"] = profile{BaseURL: "https://pdf.example.com", Token: "abcdefghijkl"}
	cfg.CurrentProfile = "work"
	if err := saveConfig(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, _, err := loadConfig()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if resolveProfileName("", loaded) != "work" || loaded.Profiles["work"].BaseURL != "https://pdf.example.com" {
		t.Fatalf("unexpected config %+v", loaded)
	}
	if got := resolveProfileName(" other ", loaded); got != "other" {
		t.Fatalf("flag profile = %q", got)
	}
}

func TestMaskToken(t *testing.T) {
	cases := map[string]string{"": "<unset>", "short": "****", "abcdefghijkl": "abcd...ijkl"}
	for in, want := range cases {
		if got := maskToken(in); got != want {
			t.Errorf("maskToken(%q) = %q, want %q", in, got, want)
		}
	}
}
