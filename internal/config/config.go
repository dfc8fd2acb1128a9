package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

// AutoLanguage asks the Job Service to detect the spoken language itself.
const AutoLanguage = "auto"

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken   string   `env:"AUTH_TOKEN"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`

	JobServiceURL     string        `env:"JOB_SERVICE_URL"`
	JobServiceToken   string        `env:"JOB_SERVICE_TOKEN"`
	JobServiceTimeout time.Duration `env:"JOB_SERVICE_TIMEOUT" envDefault:"10s"`

	Poll       PollConfig
	Transcribe TranscribeConfig
	Media      MediaConfig
	S3         S3Config
	Catalog    CatalogConfig

	DatabaseURL  string        `env:"DATABASE_URL"`
	JobRetention time.Duration `env:"JOB_RETENTION" envDefault:"168h"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"vidshelf"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"vidshelf"`
}

// PollConfig bounds the status polling loop of a single job.
type PollConfig struct {
	Interval    time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	MaxAttempts int           `env:"POLL_MAX_ATTEMPTS" envDefault:"120"`
}

// TranscribeConfig lists what a player may choose when submitting a job.
type TranscribeConfig struct {
	Languages       []string `env:"TRANSCRIBE_LANGUAGES" envSeparator:"," envDefault:"zh,en,ja,ko,auto"`
	Models          []string `env:"TRANSCRIBE_MODELS" envSeparator:"," envDefault:"base,distil-large-v3,large-v3,turbo"`
	DefaultLanguage string   `env:"DEFAULT_LANGUAGE" envDefault:"zh"`
	DefaultModel    string   `env:"DEFAULT_MODEL" envDefault:"distil-large-v3"`
}

// HasLanguage reports whether code is one of the selectable languages.
func (c TranscribeConfig) HasLanguage(code string) bool {
	return contains(c.Languages, code)
}

// HasModel reports whether id is one of the selectable models.
func (c TranscribeConfig) HasModel(id string) bool {
	return contains(c.Models, id)
}

// MediaConfig locates media bytes. Sources maps a source id to its root
// directory on this host; ServiceURL points at a remote Media Service.
type MediaConfig struct {
	ServiceURL string            `env:"MEDIA_SERVICE_URL"`
	Token      string            `env:"MEDIA_SERVICE_TOKEN"`
	Sources    map[string]string `env:"MEDIA_SOURCES" envSeparator:"," envKeyValSeparator:"="`
}

// S3Config configures an S3-compatible object store holding media files.
type S3Config struct {
	Bucket    string `env:"S3_BUCKET"`
	Endpoint  string `env:"S3_ENDPOINT"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Prefix    string `env:"S3_PREFIX"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// CatalogConfig controls the related-items listing.
type CatalogConfig struct {
	Limit      int      `env:"CATALOG_LIMIT" envDefault:"10"`
	Extensions []string `env:"CATALOG_EXTENSIONS" envSeparator:"," envDefault:".mp4,.mkv,.webm,.mov,.m4v"`
	Watch      bool     `env:"CATALOG_WATCH" envDefault:"true"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	DatabaseURL   string
	MQTTBrokerURL string
	JobServiceURL string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.MQTTBrokerURL != "" {
		cfg.MQTTBrokerURL = overrides.MQTTBrokerURL
	}
	if overrides.JobServiceURL != "" {
		cfg.JobServiceURL = overrides.JobServiceURL
	}

	cfg.Transcribe.Languages = trimList(cfg.Transcribe.Languages)
	cfg.Transcribe.Models = trimList(cfg.Transcribe.Models)
	cfg.Catalog.Extensions = normalizeExtensions(cfg.Catalog.Extensions)
	cfg.JobServiceURL = strings.TrimRight(cfg.JobServiceURL, "/")
	cfg.Media.ServiceURL = strings.TrimRight(cfg.Media.ServiceURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that env parsing alone cannot reject.
func (c *Config) Validate() error {
	if c.JobServiceURL == "" {
		return fmt.Errorf("JOB_SERVICE_URL is required")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.MaxAttempts < 1 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be >= 1, got %d", c.Poll.MaxAttempts)
	}
	if c.JobServiceTimeout <= 0 {
		return fmt.Errorf("JOB_SERVICE_TIMEOUT must be positive, got %s", c.JobServiceTimeout)
	}
	if len(c.Transcribe.Languages) == 0 {
		return fmt.Errorf("TRANSCRIBE_LANGUAGES is empty")
	}
	if len(c.Transcribe.Models) == 0 {
		return fmt.Errorf("TRANSCRIBE_MODELS is empty")
	}
	for _, code := range c.Transcribe.Languages {
		if code == AutoLanguage {
			continue
		}
		if _, err := language.Parse(code); err != nil {
			return fmt.Errorf("TRANSCRIBE_LANGUAGES: invalid language %q: %w", code, err)
		}
	}
	if !c.Transcribe.HasLanguage(c.Transcribe.DefaultLanguage) {
		return fmt.Errorf("DEFAULT_LANGUAGE %q is not in TRANSCRIBE_LANGUAGES", c.Transcribe.DefaultLanguage)
	}
	if !c.Transcribe.HasModel(c.Transcribe.DefaultModel) {
		return fmt.Errorf("DEFAULT_MODEL %q is not in TRANSCRIBE_MODELS", c.Transcribe.DefaultModel)
	}
	for id, root := range c.Media.Sources {
		if strings.TrimSpace(id) == "" || strings.TrimSpace(root) == "" {
			return fmt.Errorf("MEDIA_SOURCES: entry %q=%q must have both an id and a root", id, root)
		}
	}
	if c.JobRetention < 0 {
		return fmt.Errorf("JOB_RETENTION must not be negative, got %s", c.JobRetention)
	}
	if c.Catalog.Limit < 1 {
		return fmt.Errorf("CATALOG_LIMIT must be >= 1, got %d", c.Catalog.Limit)
	}
	return nil
}

func trimList(in []string) []string {
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func normalizeExtensions(in []string) []string {
	var out []string
	for _, ext := range trimList(in) {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
