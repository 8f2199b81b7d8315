package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// IndexKind selects the embedding search backend.
type IndexKind string

const (
	IndexPgvector IndexKind = "pgvector"
	IndexHNSW     IndexKind = "hnsw"
)

type RecognitionConfig struct {
	// VerifyThreshold is the minimum cosine similarity required to accept
	// any match (enrolled person or known fingerprint) as confident.
	VerifyThreshold float64 `yaml:"verify_threshold"`
	// IdentifyMargin is the minimum gap between best and second-best
	// enrolled candidates; near-ties are rejected, not guessed.
	IdentifyMargin float64 `yaml:"identify_margin"`
	// EmbeddingDim is fixed per deployment. Queries of any other dimension
	// are a configuration error.
	EmbeddingDim    int           `yaml:"embedding_dim"`
	Index           IndexKind     `yaml:"index"`
	RebuildInterval time.Duration `yaml:"rebuild_interval"`
	ModelsDir       string        `yaml:"models_dir"`
	WorkerCount     int           `yaml:"worker_count"`
}

type AttendanceConfig struct {
	// MinDwell debounces a single pass-through so consecutive frames do not
	// register as both check-in and check-out.
	MinDwell time.Duration `yaml:"min_dwell"`
	// Timezone determines the calendar day a sighting belongs to.
	Timezone string `yaml:"timezone"`
}

// Location resolves the configured timezone. Validate has already checked it.
func (a AttendanceConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file, applies environment variable overrides,
// fills defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the matcher or ledger cannot run with.
// These are fatal at startup, never retried.
func (c *Config) Validate() error {
	r := c.Recognition
	if r.VerifyThreshold <= 0 || r.VerifyThreshold > 1 {
		return fmt.Errorf("config: verify_threshold %.3f out of range (0, 1]", r.VerifyThreshold)
	}
	if r.IdentifyMargin < 0 || r.IdentifyMargin >= 1 {
		return fmt.Errorf("config: identify_margin %.3f out of range [0, 1)", r.IdentifyMargin)
	}
	if r.EmbeddingDim <= 0 {
		return fmt.Errorf("config: embedding_dim must be positive, got %d", r.EmbeddingDim)
	}
	switch r.Index {
	case IndexPgvector, IndexHNSW:
	default:
		return fmt.Errorf("config: unknown index kind %q", r.Index)
	}
	if c.Attendance.MinDwell < 0 {
		return fmt.Errorf("config: min_dwell must not be negative")
	}
	if _, err := time.LoadLocation(c.Attendance.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Attendance.Timezone, err)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Recognition.VerifyThreshold == 0 {
		cfg.Recognition.VerifyThreshold = 0.75
	}
	if cfg.Recognition.IdentifyMargin == 0 {
		cfg.Recognition.IdentifyMargin = 0.12
	}
	if cfg.Recognition.EmbeddingDim == 0 {
		cfg.Recognition.EmbeddingDim = 512
	}
	if cfg.Recognition.Index == "" {
		cfg.Recognition.Index = IndexPgvector
	}
	if cfg.Recognition.RebuildInterval == 0 {
		cfg.Recognition.RebuildInterval = 5 * time.Minute
	}
	if cfg.Recognition.WorkerCount == 0 {
		cfg.Recognition.WorkerCount = 4
	}
	if cfg.Attendance.MinDwell == 0 {
		cfg.Attendance.MinDwell = 30 * time.Second
	}
	if cfg.Attendance.Timezone == "" {
		cfg.Attendance.Timezone = "UTC"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEREC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEREC_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACEREC_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEREC_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEREC_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEREC_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEREC_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEREC_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEREC_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEREC_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEREC_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEREC_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEREC_VERIFY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recognition.VerifyThreshold = f
		}
	}
	if v := os.Getenv("FACEREC_IDENTIFY_MARGIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recognition.IdentifyMargin = f
		}
	}
	if v := os.Getenv("FACEREC_EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Recognition.EmbeddingDim = n
		}
	}
	if v := os.Getenv("FACEREC_MODELS_DIR"); v != "" {
		cfg.Recognition.ModelsDir = v
	}
	if v := os.Getenv("FACEREC_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Recognition.WorkerCount = n
		}
	}
	if v := os.Getenv("FACEREC_MIN_DWELL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Attendance.MinDwell = d
		}
	}
	if v := os.Getenv("FACEREC_TIMEZONE"); v != "" {
		cfg.Attendance.Timezone = v
	}
}
