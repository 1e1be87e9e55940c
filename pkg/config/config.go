package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type RateLimitBucketConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
	// MaxConcurrentJobs caps the conversions one client may run at once.
	MaxConcurrentJobs int `yaml:"maxConcurrentJobs"`
}

type RateLimitConfig struct {
	Create RateLimitBucketConfig `yaml:"create"`
}

// AuthScopes names the token scope each operation requires. Empty means any
// accepted token will do.
type AuthScopes struct {
	Convert string `yaml:"convert"`
	History string `yaml:"history"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

type Config struct {
	Port      int    `yaml:"port"`
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	// Converter contract
	ConverterBin        string `yaml:"converterBin"`
	PublicDir           string `yaml:"publicDir"`
	ArtifactsSubdir     string `yaml:"artifactsSubdir"`
	ArtifactTokenLength int    `yaml:"artifactTokenLength"`
	WorkspaceRoot       string `yaml:"workspaceRoot"`
	WorkspacePrefix     string `yaml:"workspacePrefix"`
	JobTimeoutSeconds   int    `yaml:"jobTimeoutSeconds"`
	MaxUploadBytes      int64  `yaml:"maxUploadBytes"`
	MaxPages            int    `yaml:"maxPages"`
	TrustProxyHeaders   bool   `yaml:"trustProxyHeaders"`

	WorkspaceSweepIntervalSeconds int `yaml:"workspaceSweepIntervalSeconds"`
	WorkspaceMaxAgeSeconds        int `yaml:"workspaceMaxAgeSeconds"`

	// Job history
	PersistenceProvider string `yaml:"persistenceProvider"`
	RedisAddr           string `yaml:"redisAddr"`
	RedisPassword       string `yaml:"redisPassword"`
	RedisDB             int    `yaml:"redisDB"`
	JobHistoryLimit     int    `yaml:"jobHistoryLimit"`
	// JobHistoryPublic opens /v1/jobs to anonymous callers. Records carry
	// target URLs, so history stays closed unless a token is presented.
	JobHistoryPublic bool `yaml:"jobHistoryPublic"`

	Tracing   TracingConfig   `yaml:"tracing"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`

	// AuthProvider is empty (no auth), "static" or "jwks"; AuthConfig is
	// handed to the provider as JSON.
	AuthProvider string         `yaml:"authProvider"`
	AuthConfig   map[string]any `yaml:"authConfig"`
	AuthScopes   AuthScopes     `yaml:"authScopes"`

	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
}

// LoadConfig reads the YAML file at filePath, then applies environment
// overrides and defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if err := c.finish(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadConfigOptional behaves like LoadConfig but treats an empty path or a
// missing file as an empty config.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath != "" {
		if _, err := os.Stat(filePath); err == nil {
			return LoadConfig(filePath)
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	var c Config
	if err := c.finish(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) finish() error {
	if err := c.applyEnv(); err != nil {
		return err
	}
	c.applyDefaults()
	log.Printf("ebookpdf config: {Port:%d Env:%s Converter:%s Public:%s Persistence:%s Timeout:%ds}\n",
		c.Port, c.Env, c.ConverterBin, c.PublicDir, c.PersistenceProvider, c.JobTimeoutSeconds)
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("CONVERTER_BIN"); v != "" {
		c.ConverterBin = v
	}
	if v := os.Getenv("PUBLIC_DIR"); v != "" {
		c.PublicDir = v
	}
	if v := os.Getenv("WORKSPACE_ROOT"); v != "" {
		c.WorkspaceRoot = v
	}
	if v := os.Getenv("JOB_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.JobTimeoutSeconds = n
		}
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("MAX_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxPages = n
		}
	}
	if v := os.Getenv("TRUST_PROXY_HEADERS"); v != "" {
		c.TrustProxyHeaders = parseBool(v)
	}
	if v := os.Getenv("PERSISTENCE_PROVIDER"); v != "" {
		c.PersistenceProvider = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RedisDB = n
		}
	}
	if v := os.Getenv("JOB_HISTORY_PUBLIC"); v != "" {
		c.JobHistoryPublic = parseBool(v)
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		c.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("TRACING_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tracing.SampleRatio = f
		}
	}
	if v := os.Getenv("AUTH_PROVIDER"); v != "" {
		c.AuthProvider = v
	}
	if v := os.Getenv("AUTH_CONFIG"); v != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return fmt.Errorf("AUTH_CONFIG: %w", err)
		}
		c.AuthConfig = m
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = splitList(v)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 5000
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.ConverterBin == "" {
		c.ConverterBin = "../sapebook2pdf"
	}
	if c.PublicDir == "" {
		c.PublicDir = "web"
	}
	if c.ArtifactsSubdir == "" {
		c.ArtifactsSubdir = "pdfs"
	}
	if c.ArtifactTokenLength <= 0 {
		c.ArtifactTokenLength = 6
	}
	if c.WorkspacePrefix == "" {
		c.WorkspacePrefix = "sapebook2pdf-tmp-"
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 1 << 20
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 5000
	}
	if c.WorkspaceSweepIntervalSeconds <= 0 {
		c.WorkspaceSweepIntervalSeconds = 600
	}
	if c.WorkspaceMaxAgeSeconds <= 0 {
		c.WorkspaceMaxAgeSeconds = 6 * 3600
	}
	if c.PersistenceProvider == "" {
		c.PersistenceProvider = "memory"
	}
	if c.JobHistoryLimit <= 0 {
		c.JobHistoryLimit = 1000
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "ebookpdf"
	}
}

func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.ConverterBin) == "" {
		errs = append(errs, "converterBin is required")
	}
	if strings.TrimSpace(c.PublicDir) == "" {
		errs = append(errs, "publicDir is required")
	}
	sub := path.Clean(c.ArtifactsSubdir)
	if c.ArtifactsSubdir == "" || path.IsAbs(sub) || sub == "." || strings.HasPrefix(sub, "..") {
		errs = append(errs, "artifactsSubdir must be a relative path inside publicDir")
	}
	if c.JobTimeoutSeconds < 0 {
		errs = append(errs, "jobTimeoutSeconds must be >= 0")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, "logFormat must be json or text")
	}
	switch c.PersistenceProvider {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, "redisAddr is required when persistenceProvider=redis")
		}
	default:
		errs = append(errs, "persistenceProvider must be memory or redis")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sampleRatio must be within [0,1]")
	}
	create := c.RateLimit.Create
	if create.MaxConcurrentJobs < 0 {
		errs = append(errs, "rateLimit.create.maxConcurrentJobs must be >= 0")
	}
	if (create.RequestsPerMinute > 0 || create.MaxConcurrentJobs > 0) && strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, "rateLimit.create requires redisAddr")
	}
	if c.RedisDB < 0 {
		errs = append(errs, "redisDB must be >= 0")
	}
	for _, o := range c.CORSAllowedOrigins {
		if o == "*" {
			continue
		}
		u, err := url.Parse(o)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("corsAllowedOrigins: invalid origin %q", o))
		}
	}
	if c.AuthProvider != "" && len(c.AuthConfig) == 0 {
		errs = append(errs, "authConfig is required when authProvider is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AuthProviderConfig returns AuthConfig encoded for the auth registry.
func (c *Config) AuthProviderConfig() (json.RawMessage, error) {
	if len(c.AuthConfig) == 0 {
		return nil, nil
	}
	return json.Marshal(c.AuthConfig)
}

// PersistenceConfig returns the provider specific JSON config.
func (c *Config) PersistenceConfig() json.RawMessage {
	if c.PersistenceProvider != "redis" {
		return json.RawMessage(`{}`)
	}
	m := map[string]any{"addr": c.RedisAddr, "password": c.RedisPassword}
	if c.RedisDB != 0 {
		m["db"] = c.RedisDB
	}
	b, _ := json.Marshal(m)
	return b
}

func parseBool(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "true" || v == "1" || v == "yes" || v == "y" || v == "on"
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
