package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Provider ProviderConfig `yaml:"provider"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	Match    MatchConfig    `yaml:"match"`
	Worker   WorkerConfig   `yaml:"worker"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port           int    `yaml:"port"`
	APIKey         string `yaml:"api_key"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type DatabaseConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Name      string `yaml:"name"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	MaxConns  int    `yaml:"max_conns"`
	TxRetries int    `yaml:"tx_retries"` // serialization failures retried before giving up
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// StorageConfig selects the persistence backends. "memory" keeps records
// and blobs in process and needs neither Postgres nor MinIO.
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

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

type ProviderConfig struct {
	Kind    string        `yaml:"kind"` // baidu or local
	Timeout time.Duration `yaml:"timeout"`
	Baidu   BaiduConfig   `yaml:"baidu"`
	Local   LocalConfig   `yaml:"local"`
}

type BaiduConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	TokenURL  string `yaml:"token_url"`
	DetectURL string `yaml:"detect_url"`
}

type LocalConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
}

type DedupeConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// MaxHamming bounds the fingerprint distance of near-duplicate
	// candidates. Unset or negative disables the prefilter.
	MaxHamming     *int `yaml:"max_hamming"`
	CandidateLimit int  `yaml:"candidate_limit"`
}

func (d DedupeConfig) HammingLimit() int {
	if d.MaxHamming == nil {
		return -1
	}
	return *d.MaxHamming
}

type MatchConfig struct {
	Tolerance     float64 `yaml:"tolerance"`
	WinDelta      int     `yaml:"win_delta"`
	LoseDelta     int     `yaml:"lose_delta"`
	TieDelta      int     `yaml:"tie_delta"`
	DefaultRating int     `yaml:"default_rating"`
}

type WorkerConfig struct {
	Consumer    string `yaml:"consumer"`
	Concurrency int    `yaml:"concurrency"`
	HealthPort  int    `yaml:"health_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// An empty path yields defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("invalid storage driver %q", c.Storage.Driver)
	}
	switch c.Provider.Kind {
	case "baidu", "local":
	default:
		return fmt.Errorf("invalid provider kind %q", c.Provider.Kind)
	}
	if t := c.Dedupe.SimilarityThreshold; t <= 0 || t >= 1 {
		return fmt.Errorf("similarity_threshold must be in (0,1), got %v", t)
	}
	if c.Match.Tolerance < 0 {
		return fmt.Errorf("match tolerance must not be negative")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 10 << 20
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Database.TxRetries == 0 {
		cfg.Database.TxRetries = 5
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverPostgres
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "facepk"
	}
	if cfg.Provider.Kind == "" {
		cfg.Provider.Kind = "baidu"
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 10 * time.Second
	}
	if cfg.Provider.Baidu.TokenURL == "" {
		cfg.Provider.Baidu.TokenURL = "https://aip.baidubce.com/oauth/2.0/token"
	}
	if cfg.Provider.Baidu.DetectURL == "" {
		cfg.Provider.Baidu.DetectURL = "https://aip.baidubce.com/rest/2.0/face/v3/detect"
	}
	if cfg.Provider.Local.DetectionThreshold == 0 {
		cfg.Provider.Local.DetectionThreshold = 0.5
	}
	if cfg.Dedupe.SimilarityThreshold == 0 {
		cfg.Dedupe.SimilarityThreshold = 0.85
	}
	if cfg.Dedupe.CandidateLimit == 0 {
		cfg.Dedupe.CandidateLimit = 50
	}
	if cfg.Match.Tolerance == 0 {
		cfg.Match.Tolerance = 1e-5
	}
	if cfg.Match.WinDelta == 0 {
		cfg.Match.WinDelta = 15
	}
	if cfg.Match.LoseDelta == 0 {
		cfg.Match.LoseDelta = -10
	}
	if cfg.Match.TieDelta == 0 {
		cfg.Match.TieDelta = 3
	}
	if cfg.Match.DefaultRating == 0 {
		cfg.Match.DefaultRating = 1500
	}
	if cfg.Worker.Consumer == "" {
		cfg.Worker.Consumer = "stats-projector"
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.HealthPort == 0 {
		cfg.Worker.HealthPort = 8081
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEPK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEPK_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACEPK_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("FACEPK_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEPK_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEPK_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEPK_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEPK_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEPK_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEPK_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEPK_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEPK_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEPK_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEPK_PROVIDER"); v != "" {
		cfg.Provider.Kind = v
	}
	if v := os.Getenv("FACEPK_BAIDU_API_KEY"); v != "" {
		cfg.Provider.Baidu.APIKey = v
	}
	if v := os.Getenv("FACEPK_BAIDU_SECRET_KEY"); v != "" {
		cfg.Provider.Baidu.SecretKey = v
	}
	if v := os.Getenv("FACEPK_MODELS_DIR"); v != "" {
		cfg.Provider.Local.ModelsDir = v
	}
	if v := os.Getenv("FACEPK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
