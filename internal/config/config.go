// =============================================================================
// Tabular Importer - Configuration Module
// =============================================================================
//
// This module loads the session configuration: where the import service
// lives, which model and job type to drive, the field mapping, and the
// transformation rules applied while parsing.
//
// CONFIGURATION SOURCES:
//   1. Main Config (config.yaml): everything that is not a secret
//   2. Environment / .env file: client secret and object-storage keys
//
// Environment values always win over the YAML file.
//
// =============================================================================

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// Job types understood by the orchestrator.
const (
	JobTypeFact     = "fact"
	JobTypeCurrency = "currency"
)

// Authentication modes for the import service.
const (
	AuthModeCSRF  = "csrf"
	AuthModeOAuth = "oauth"
)

// Environment variables that override secrets from the YAML file.
const (
	EnvClientID       = "IMPORT_CLIENT_ID"
	EnvClientSecret   = "IMPORT_CLIENT_SECRET"
	EnvMinIOAccessKey = "MINIO_ACCESS_KEY"
	EnvMinIOSecretKey = "MINIO_SECRET_KEY"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// Config holds the whole session configuration.
type Config struct {
	Service       ServiceConfig     `yaml:"service"`
	Job           JobConfig         `yaml:"job"`
	Mapping       map[string]string `yaml:"mapping"`
	DefaultValues map[string]string `yaml:"default_values"`
	Transform     TransformConfig   `yaml:"transform"`
	CSVSettings   CSVSettings       `yaml:"csv_settings"`
	Output        OutputConfig      `yaml:"output"`
	Artifacts     ArtifactsConfig   `yaml:"artifacts"`

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `yaml:"log_level"`
}

// ServiceConfig describes the remote import service.
type ServiceConfig struct {
	// BaseURL is the tenant URL, e.g. https://tenant.example.com
	BaseURL string `yaml:"base_url"`

	// AuthMode is "csrf" (session cookie + anti-forgery token) or "oauth"
	// (client credentials). Default: "csrf"
	AuthMode string `yaml:"auth_mode"`

	// TokenURL is the OAuth token endpoint, required for "oauth".
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// Timeout bounds every single HTTP request. Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// PollInterval is the pause between job status checks. Default: 2s
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxPollAttempts caps status checks; 0 means unbounded. Default: 900
	MaxPollAttempts *int `yaml:"max_poll_attempts"`
}

// JobConfig selects what is imported where.
type JobConfig struct {
	// Type is "fact" or "currency". Default: "fact"
	Type string `yaml:"type"`

	// ModelID is the target model, required for fact jobs and for
	// loading metadata.
	ModelID string `yaml:"model_id"`

	// RateTable is the currency conversion table name for currency jobs.
	RateTable string `yaml:"rate_table"`

	// ChunkSize is the number of records per posted chunk. Default: 100000
	ChunkSize int `yaml:"chunk_size"`

	// Sheet selects the workbook sheet to import. Empty means first sheet.
	Sheet string `yaml:"sheet"`
}

// TransformConfig carries the rules applied while parsing.
type TransformConfig struct {
	ReverseSignage   bool     `yaml:"reverse_signage"`
	UseFiscalDate    bool     `yaml:"use_fiscal_date"`
	AccountDimension string   `yaml:"account_dimension"`
	Measures         []string `yaml:"measures"`
	DateDimensions   []string `yaml:"date_dimensions"`
	IncomeAccounts   []string `yaml:"income_accounts"`

	// FiscalCalendar is searched in order; the first match wins.
	FiscalCalendar []FiscalPeriod `yaml:"fiscal_calendar"`

	// LoadMetadata derives measures, dimensions, income accounts and the
	// fiscal calendar from the service before parsing.
	LoadMetadata bool `yaml:"load_metadata"`
}

// FiscalPeriod maps one fiscal period key to a calendar month key.
type FiscalPeriod struct {
	Period   string `yaml:"period"`
	CalMonth string `yaml:"cal_month"`
}

// CSVSettings contains settings for parsing delimited input.
type CSVSettings struct {
	// Delimiter is the character used to separate fields.
	// Common values: "," (comma), "|" (pipe), "\t" (tab)
	// Default: ","
	Delimiter string `yaml:"delimiter"`

	// Encoding is the character encoding of the file.
	// Supported values: "UTF-8", "ISO-8859-1", "Windows-1252"
	// Default: "UTF-8"
	Encoding string `yaml:"encoding"`
}

// OutputConfig controls local artifacts.
type OutputConfig struct {
	// Dir receives the failed records workbook. Default: "./output"
	Dir string `yaml:"dir"`

	// FailedRecordsFormat names the failed records workbook.
	// Placeholders: {uuid}, {timestamp}, {job}, {source}
	// Default: "failed_records_{timestamp}.xlsx"
	FailedRecordsFormat string `yaml:"failed_records_format"`

	// ArchiveDir receives input files after a completed run. Empty disables
	// archiving.
	ArchiveDir string `yaml:"archive_dir"`
}

// ArtifactsConfig controls remote storage of artifacts.
type ArtifactsConfig struct {
	MinIO MinIOConfig `yaml:"minio"`
}

// MinIOConfig describes the bucket that receives failed records workbooks.
type MinIOConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// =============================================================================
// CONFIGURATION ERROR
// =============================================================================

// ConfigurationError reports a missing or invalid setting. It is raised
// before any remote call is made.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// Errorf builds a ConfigurationError for field.
func Errorf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// Load reads the YAML configuration at configPath, merges secrets from the
// environment (and a .env file when present), applies defaults and
// validates the result.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	return Parse(data)
}

// Parse is Load without the file read and the .env file. Secrets still come
// from the process environment.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&cfg)

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyEnv overrides secrets with environment values when set.
func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Service.ClientID, EnvClientID)
	override(&cfg.Service.ClientSecret, EnvClientSecret)
	override(&cfg.Artifacts.MinIO.AccessKey, EnvMinIOAccessKey)
	override(&cfg.Artifacts.MinIO.SecretKey, EnvMinIOSecretKey)
}

// DefaultMaxPollAttempts caps status polling when the config leaves it unset.
const DefaultMaxPollAttempts = 900

// applyDefaults sets default values for any unset configuration options.
func applyDefaults(cfg *Config) {
	if cfg.Service.AuthMode == "" {
		cfg.Service.AuthMode = AuthModeCSRF
	}
	if cfg.Service.Timeout == 0 {
		cfg.Service.Timeout = 60 * time.Second
	}
	if cfg.Service.PollInterval == 0 {
		cfg.Service.PollInterval = 2 * time.Second
	}
	if cfg.Service.MaxPollAttempts == nil {
		n := DefaultMaxPollAttempts
		cfg.Service.MaxPollAttempts = &n
	}
	cfg.Service.BaseURL = strings.TrimRight(cfg.Service.BaseURL, "/")

	if cfg.Job.Type == "" {
		cfg.Job.Type = JobTypeFact
	}
	if cfg.Job.ChunkSize == 0 {
		cfg.Job.ChunkSize = 100000
	}

	if cfg.Mapping == nil {
		cfg.Mapping = map[string]string{}
	}
	if cfg.DefaultValues == nil {
		cfg.DefaultValues = map[string]string{}
	}

	if cfg.CSVSettings.Delimiter == "" {
		cfg.CSVSettings.Delimiter = ","
	}
	if cfg.CSVSettings.Encoding == "" {
		cfg.CSVSettings.Encoding = "UTF-8"
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "./output"
	}
	if cfg.Output.FailedRecordsFormat == "" {
		cfg.Output.FailedRecordsFormat = "failed_records_{timestamp}.xlsx"
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Validate checks the settings a job run depends on.
func Validate(cfg *Config) error {
	switch cfg.Job.Type {
	case JobTypeFact:
		if cfg.Job.ModelID == "" {
			return Errorf("job.model_id", "required for fact jobs")
		}
	case JobTypeCurrency:
		if cfg.Job.RateTable == "" {
			return Errorf("job.rate_table", "required for currency jobs")
		}
	default:
		return Errorf("job.type", "unknown job type %q", cfg.Job.Type)
	}

	if cfg.Job.ChunkSize < 0 {
		return Errorf("job.chunk_size", "must not be negative")
	}

	switch cfg.Service.AuthMode {
	case AuthModeCSRF:
	case AuthModeOAuth:
		if cfg.Service.TokenURL == "" {
			return Errorf("service.token_url", "required for oauth")
		}
		if cfg.Service.ClientID == "" || cfg.Service.ClientSecret == "" {
			return Errorf("service.client_id", "client id and secret are required for oauth (set %s / %s)", EnvClientID, EnvClientSecret)
		}
	default:
		return Errorf("service.auth_mode", "unknown auth mode %q", cfg.Service.AuthMode)
	}

	if cfg.Service.MaxPollAttempts != nil && *cfg.Service.MaxPollAttempts < 0 {
		return Errorf("service.max_poll_attempts", "must not be negative")
	}

	if cfg.Transform.LoadMetadata && cfg.Job.ModelID == "" {
		return Errorf("transform.load_metadata", "requires job.model_id")
	}
	if cfg.Transform.ReverseSignage && cfg.Transform.AccountDimension == "" && !cfg.Transform.LoadMetadata {
		return Errorf("transform.account_dimension", "required when reverse_signage is enabled")
	}

	switch strings.ToUpper(cfg.CSVSettings.Encoding) {
	case "UTF-8", "UTF8", "ISO-8859-1", "LATIN1", "WINDOWS-1252", "CP1252":
	default:
		return Errorf("csv_settings.encoding", "unsupported encoding %q", cfg.CSVSettings.Encoding)
	}

	m := cfg.Artifacts.MinIO
	if m.Enabled && (m.Endpoint == "" || m.Bucket == "") {
		return Errorf("artifacts.minio", "endpoint and bucket are required when enabled")
	}

	return nil
}

// RequireService checks the settings needed to talk to the import service.
// Offline commands skip it.
func (c *Config) RequireService() error {
	if c.Service.BaseURL == "" {
		return Errorf("service.base_url", "required")
	}
	if !strings.HasPrefix(c.Service.BaseURL, "http://") && !strings.HasPrefix(c.Service.BaseURL, "https://") {
		return Errorf("service.base_url", "must be an http or https URL")
	}
	return nil
}
