package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestLoadConfigOptional_EmptyPath tests loading when file path is empty
func TestLoadConfigOptional_EmptyPath(t *testing.T) {
	t.Setenv("PORT", "9999")

	cfg, err := LoadConfigOptional("")
	if err != nil {
		t.Fatalf("LoadConfigOptional with empty path should not error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected non-nil config")
	}
	if cfg.Port != 9999 {
		t.Errorf("Expected Port=9999 from env, got %d", cfg.Port)
	}
}

// TestLoadConfigOptional_WhitespacePath tests loading when file path is only whitespace
func TestLoadConfigOptional_WhitespacePath(t *testing.T) {
	cfg, err := LoadConfigOptional("   ")
	if err != nil {
		t.Fatalf("LoadConfigOptional with whitespace path should not error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected non-nil config")
	}
}

// TestLoadConfigOptional_FileNotExist tests loading when file does not exist
func TestLoadConfigOptional_FileNotExist(t *testing.T) {
	nonExistentPath := filepath.Join(t.TempDir(), "config-does-not-exist.yaml")

	cfg, err := LoadConfigOptional(nonExistentPath)
	if err != nil {
		t.Fatalf("LoadConfigOptional with non-existent file should not error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected non-nil config")
	}
}

func TestLoadConfigOptional_Defaults(t *testing.T) {
	cfg, err := LoadConfigOptional("")
	if err != nil {
		t.Fatalf("LoadConfigOptional: %v", err)
	}
	if cfg.Port != 5000 {
		t.Errorf("Expected default Port=5000, got %d", cfg.Port)
	}
	if cfg.ConverterBin != "../sapebook2pdf" {
		t.Errorf("Expected default ConverterBin, got %q", cfg.ConverterBin)
	}
	if cfg.PublicDir != "web" || cfg.ArtifactsSubdir != "pdfs" {
		t.Errorf("Expected web/pdfs, got %q/%q", cfg.PublicDir, cfg.ArtifactsSubdir)
	}
	if cfg.ArtifactTokenLength != 6 {
		t.Errorf("Expected token length 6, got %d", cfg.ArtifactTokenLength)
	}
	if cfg.WorkspacePrefix != "sapebook2pdf-tmp-" {
		t.Errorf("Expected default workspace prefix, got %q", cfg.WorkspacePrefix)
	}
	if cfg.JobTimeoutSeconds != 0 {
		t.Errorf("Expected timeout disabled by default, got %d", cfg.JobTimeoutSeconds)
	}
	if cfg.MaxUploadBytes != 1<<20 {
		t.Errorf("Expected MaxUploadBytes=1MiB, got %d", cfg.MaxUploadBytes)
	}
	if cfg.PersistenceProvider != "memory" {
		t.Errorf("Expected memory persistence, got %q", cfg.PersistenceProvider)
	}
	if cfg.MaxPages != 5000 {
		t.Errorf("Expected MaxPages=5000, got %d", cfg.MaxPages)
	}
	if cfg.JobHistoryPublic {
		t.Error("Expected job history to require a token by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

// TestLoadConfigOptional_InvalidYAML tests loading when file exists but has invalid YAML
func TestLoadConfigOptional_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
port: 8080
converterBin: "/usr/local/bin/sapebook2pdf"
  invalid indentation here
  more bad yaml
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	_, err := LoadConfigOptional(configPath)
	if err == nil {
		t.Fatal("Expected error when loading invalid YAML, got nil")
	}
}

// TestLoadConfigOptional_ValidConfig tests loading when file exists with valid config
func TestLoadConfigOptional_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "valid.yaml")

	validYAML := `
port: 8080
env: "test"
logLevel: "debug"
converterBin: "/opt/sapebook2pdf"
publicDir: "/srv/web"
jobTimeoutSeconds: 900
persistenceProvider: "redis"
redisAddr: "localhost:6379"
redisPassword: "secret"
rateLimit:
  create:
    requestsPerMinute: 10
    burstSize: 2
    maxConcurrentJobs: 3
authProvider: "static"
authConfig:
  token: "abc"
authScopes:
  history: "jobs:read"
corsAllowedOrigins:
  - "https://books.example.com"
`
	if err := os.WriteFile(configPath, []byte(validYAML), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	cfg, err := LoadConfigOptional(configPath)
	if err != nil {
		t.Fatalf("LoadConfigOptional with valid config should not error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Expected Port=8080, got %d", cfg.Port)
	}
	if cfg.ConverterBin != "/opt/sapebook2pdf" {
		t.Errorf("Expected ConverterBin from file, got %q", cfg.ConverterBin)
	}
	if cfg.PublicDir != "/srv/web" {
		t.Errorf("Expected PublicDir from file, got %q", cfg.PublicDir)
	}
	if cfg.JobTimeoutSeconds != 900 {
		t.Errorf("Expected JobTimeoutSeconds=900, got %d", cfg.JobTimeoutSeconds)
	}
	if cfg.RedisPassword != "secret" {
		t.Errorf("Expected RedisPassword='secret', got %q", cfg.RedisPassword)
	}
	if cfg.RateLimit.Create.RequestsPerMinute != 10 || cfg.RateLimit.Create.BurstSize != 2 || cfg.RateLimit.Create.MaxConcurrentJobs != 3 {
		t.Errorf("unexpected rate limit: %+v", cfg.RateLimit.Create)
	}
	if cfg.Env != "test" {
		t.Errorf("Expected Env='test', got %q", cfg.Env)
	}
	if cfg.AuthScopes.History != "jobs:read" || cfg.AuthScopes.Convert != "" {
		t.Errorf("unexpected auth scopes %+v", cfg.AuthScopes)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	raw, err := cfg.AuthProviderConfig()
	if err != nil {
		t.Fatalf("AuthProviderConfig: %v", err)
	}
	if string(raw) != `{"token":"abc"}` {
		t.Errorf("unexpected auth config %s", raw)
	}
	if got := string(cfg.PersistenceConfig()); got != `{"addr":"localhost:6379","password":"secret"}` {
		t.Errorf("unexpected persistence config %s", got)
	}
}

// TestLoadConfigOptional_EnvOverrides tests that environment variables override file values
func TestLoadConfigOptional_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configYAML := `
port: 8080
converterBin: "/opt/file-converter"
redisAddr: "localhost:6379"
redisPassword: "file-password"
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	t.Setenv("PORT", "9090")
	t.Setenv("CONVERTER_BIN", "/opt/env-converter")
	t.Setenv("REDIS_ADDR", "env-redis:6380")
	t.Setenv("REDIS_PASSWORD", "env-password")
	t.Setenv("JOB_TIMEOUT_SECONDS", "60")
	t.Setenv("TRUST_PROXY_HEADERS", "yes")
	t.Setenv("MAX_PAGES", "250")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("JOB_HISTORY_PUBLIC", "true")

	cfg, err := LoadConfigOptional(configPath)
	if err != nil {
		t.Fatalf("LoadConfigOptional should not error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Expected Port=9090 from env, got %d", cfg.Port)
	}
	if cfg.ConverterBin != "/opt/env-converter" {
		t.Errorf("Expected ConverterBin from env, got %q", cfg.ConverterBin)
	}
	if cfg.RedisAddr != "env-redis:6380" {
		t.Errorf("Expected RedisAddr='env-redis:6380' from env, got %q", cfg.RedisAddr)
	}
	if cfg.RedisPassword != "env-password" {
		t.Errorf("Expected RedisPassword='env-password' from env, got %q", cfg.RedisPassword)
	}
	if cfg.JobTimeoutSeconds != 60 {
		t.Errorf("Expected JobTimeoutSeconds=60 from env, got %d", cfg.JobTimeoutSeconds)
	}
	if !cfg.TrustProxyHeaders {
		t.Error("Expected TrustProxyHeaders from env")
	}
	if cfg.MaxPages != 250 || cfg.RedisDB != 2 || !cfg.JobHistoryPublic {
		t.Errorf("unexpected env overrides maxPages=%d redisDB=%d public=%v", cfg.MaxPages, cfg.RedisDB, cfg.JobHistoryPublic)
	}
}

// TestLoadConfigOptional_EnvOverridesEmptyFile tests env overrides work when file path is empty
func TestLoadConfigOptional_EnvOverridesEmptyFile(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("PERSISTENCE_PROVIDER", "redis")
	t.Setenv("REDIS_ADDR", "redis.local:6379")
	t.Setenv("AUTH_PROVIDER", "static")
	t.Setenv("AUTH_CONFIG", `{"token":"t0k"}`)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := LoadConfigOptional("")
	if err != nil {
		t.Fatalf("LoadConfigOptional with empty path should not error: %v", err)
	}

	if cfg.Port != 7070 {
		t.Errorf("Expected Port=7070 from env, got %d", cfg.Port)
	}
	if cfg.PersistenceProvider != "redis" || cfg.RedisAddr != "redis.local:6379" {
		t.Errorf("unexpected persistence %q %q", cfg.PersistenceProvider, cfg.RedisAddr)
	}
	if cfg.AuthProvider != "static" || cfg.AuthConfig["token"] != "t0k" {
		t.Errorf("unexpected auth %q %v", cfg.AuthProvider, cfg.AuthConfig)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigOptional_BadAuthConfigEnv(t *testing.T) {
	t.Setenv("AUTH_CONFIG", "{not json")
	if _, err := LoadConfigOptional(""); err == nil {
		t.Fatal("expected error for malformed AUTH_CONFIG")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"empty converter", func(c *Config) { c.ConverterBin = " " }, "converterBin"},
		{"absolute artifacts dir", func(c *Config) { c.ArtifactsSubdir = "/tmp/pdfs" }, "artifactsSubdir"},
		{"escaping artifacts dir", func(c *Config) { c.ArtifactsSubdir = "../pdfs" }, "artifactsSubdir"},
		{"negative timeout", func(c *Config) { c.JobTimeoutSeconds = -1 }, "jobTimeoutSeconds"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "logFormat"},
		{"redis without addr", func(c *Config) { c.PersistenceProvider = "redis" }, "redisAddr"},
		{"unknown persistence", func(c *Config) { c.PersistenceProvider = "dynamo" }, "persistenceProvider"},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }, "sampleRatio"},
		{"rate limit without redis", func(c *Config) { c.RateLimit.Create.RequestsPerMinute = 5 }, "rateLimit"},
		{"job cap without redis", func(c *Config) { c.RateLimit.Create.MaxConcurrentJobs = 2 }, "rateLimit"},
		{"negative job cap", func(c *Config) { c.RateLimit.Create.MaxConcurrentJobs = -1 }, "maxConcurrentJobs"},
		{"negative redis db", func(c *Config) { c.RedisDB = -1 }, "redisDB"},
		{"bad origin", func(c *Config) { c.CORSAllowedOrigins = []string{"ftp://x"} }, "corsAllowedOrigins"},
		{"wildcard origin", func(c *Config) { c.CORSAllowedOrigins = []string{"*"} }, ""},
		{"auth without config", func(c *Config) { c.AuthProvider = "jwks" }, "authConfig"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
