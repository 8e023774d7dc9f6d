package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

// Identity verifiers
const (
	VerifierFirebase = "firebase"
	VerifierJWKS     = "jwks"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Store      StoreConfig
	Database   DatabaseConfig
	Firebase   FirebaseConfig
	Identity   IdentityConfig
	Plaid      PlaidConfig
	Sync       SyncConfig
	Encryption EncryptionConfig
	Scheduler  SchedulerConfig
	TLS        TLSConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
	Environment  string
}

type LogConfig struct {
	Level string
}

type StoreConfig struct {
	Backend string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

type IdentityConfig struct {
	Verifier     string
	CheckRevoked bool
}

type PlaidConfig struct {
	ClientID     string
	Secret       string
	Environment  string
	ClientName   string
	WebhookURL   string
	CountryCodes []string
}

type SyncConfig struct {
	PageSize int
	LockTTL  time.Duration
	Timeout  time.Duration
}

type EncryptionConfig struct {
	Key string
}

type SchedulerConfig struct {
	Enabled       bool
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	QueueSize     int
	RunOnStartup  bool
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	OTLPInsecure bool
	MetricsPort  string
	SampleRatio  float64
}

// source resolves a key from the environment first and then from the
// optional YAML file named by CONFIG_FILE.
type source struct {
	file map[string]string
}

func newSource() (*source, error) {
	src := &source{file: map[string]string{}}

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return src, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &src.file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return src, nil
}

func Load() (*Config, error) {
	src, err := newSource()
	if err != nil {
		return nil, err
	}

	dbPort, err := src.intValue("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	pageSize, err := src.intValue("PLAID_SYNC_PAGE_SIZE", 500)
	if err != nil {
		return nil, err
	}
	lockTTL, err := src.durationValue("SYNC_LOCK_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	syncTimeout, err := src.durationValue("SYNC_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, err
	}

	schedulerWorkers, err := src.intValue("SCHEDULER_WORKERS", 5)
	if err != nil {
		return nil, err
	}
	schedulerJobDelay, err := src.durationValue("SCHEDULER_JOB_DELAY", time.Second)
	if err != nil {
		return nil, err
	}
	schedulerQueueSize, err := src.intValue("SCHEDULER_QUEUE_SIZE", 100)
	if err != nil {
		return nil, err
	}
	sampleRatio, err := src.ratioValue("OTEL_TRACE_SAMPLE_RATIO", 1)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         src.getEnv("PORT", "8080"),
			Host:         src.getEnv("HOST", "0.0.0.0"),
			AllowedHosts: src.listValue("ALLOWED_HOSTS", nil),
			Environment:  src.getEnv("APP_ENV", "production"),
		},
		Log: LogConfig{
			Level: src.getEnv("LOG_LEVEL", "info"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(src.getEnv("STORE_BACKEND", BackendFirestore)),
		},
		Database: DatabaseConfig{
			Host:     src.getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     src.getEnv("DB_USER", "juggle"),
			Password: src.getEnv("DB_PASSWORD", ""),
			DBName:   src.getEnv("DB_NAME", "juggle"),
			SSLMode:  src.getEnv("DB_SSLMODE", "disable"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       src.getEnv("FIREBASE_PROJECT_ID", ""),
			CredentialsFile: src.getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Identity: IdentityConfig{
			Verifier:     strings.ToLower(src.getEnv("IDENTITY_VERIFIER", VerifierFirebase)),
			CheckRevoked: src.getBoolEnv("IDENTITY_CHECK_REVOKED", false),
		},
		Plaid: PlaidConfig{
			ClientID:     src.getEnv("PLAID_CLIENT_ID", ""),
			Secret:       src.getEnv("PLAID_SECRET", ""),
			Environment:  strings.ToLower(src.getEnv("PLAID_ENV", "sandbox")),
			ClientName:   src.getEnv("PLAID_CLIENT_NAME", "Juggle"),
			WebhookURL:   src.getEnv("PLAID_WEBHOOK_URL", ""),
			CountryCodes: src.listValue("PLAID_COUNTRY_CODES", []string{"US"}),
		},
		Sync: SyncConfig{
			PageSize: pageSize,
			LockTTL:  lockTTL,
			Timeout:  syncTimeout,
		},
		Encryption: EncryptionConfig{
			Key: src.getEnv("ENCRYPTION_KEY", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:       src.getBoolEnv("SCHEDULER_ENABLED", false),
			ScheduleTimes: src.listValue("SCHEDULER_TIMES", []string{"05:00", "14:00"}),
			WorkerCount:   schedulerWorkers,
			JobDelay:      schedulerJobDelay,
			QueueSize:     schedulerQueueSize,
			RunOnStartup:  src.getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
		},
		TLS: TLSConfig{
			Enabled:      src.getBoolEnv("TLS_ENABLED", false),
			CertPath:     src.getEnv("TLS_CERT_PATH", ""),
			KeyPath:      src.getEnv("TLS_KEY_PATH", ""),
			RedirectHTTP: src.getBoolEnv("TLS_REDIRECT_HTTP", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:      src.getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  src.getEnv("OTEL_SERVICE_NAME", "juggle-api"),
			OTLPEndpoint: src.getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			OTLPInsecure: src.getBoolEnv("OTEL_EXPORTER_INSECURE", true),
			MetricsPort:  src.getEnv("OTEL_METRICS_PORT", "9464"),
			SampleRatio:  sampleRatio,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Plaid.ClientID == "" || c.Plaid.Secret == "" {
		return fmt.Errorf("PLAID_CLIENT_ID and PLAID_SECRET are required")
	}
	if !slices.Contains([]string{"sandbox", "development", "production"}, c.Plaid.Environment) {
		return fmt.Errorf("PLAID_ENV must be sandbox, development or production, got %q", c.Plaid.Environment)
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 500 {
		return fmt.Errorf("PLAID_SYNC_PAGE_SIZE must be between 1 and 500")
	}
	// the lease must outlive the run it guards
	if c.Sync.Timeout >= c.Sync.LockTTL {
		return fmt.Errorf("SYNC_TIMEOUT (%s) must be shorter than SYNC_LOCK_TTL (%s)", c.Sync.Timeout, c.Sync.LockTTL)
	}

	switch c.Store.Backend {
	case BackendFirestore:
		if c.Firebase.ProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required for the firestore backend")
		}
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	if c.Store.Backend != BackendMemory {
		if c.Encryption.Key == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required")
		}
		if len(c.Encryption.Key) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes")
		}
	}

	switch c.Identity.Verifier {
	case VerifierFirebase, VerifierJWKS:
		if c.Firebase.ProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required to verify ID tokens")
		}
	default:
		return fmt.Errorf("unknown IDENTITY_VERIFIER %q", c.Identity.Verifier)
	}

	if c.TLS.Enabled {
		if c.TLS.CertPath == "" {
			return fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if c.TLS.KeyPath == "" {
			return fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func (s *source) getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value := s.file[key]; value != "" {
		return value
	}
	return defaultValue
}

func (s *source) getBoolEnv(key string, defaultValue bool) bool {
	value := s.getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func (s *source) intValue(key string, defaultValue int) (int, error) {
	value := s.getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func (s *source) durationValue(key string, defaultValue time.Duration) (time.Duration, error) {
	value := s.getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

// ratioValue parses a float in [0, 1].
func (s *source) ratioValue(key string, defaultValue float64) (float64, error) {
	value := s.getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("invalid %s: must be between 0 and 1", key)
	}
	return f, nil
}

// listValue splits a comma-separated value, dropping blanks.
func (s *source) listValue(key string, defaultValue []string) []string {
	value := s.getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
