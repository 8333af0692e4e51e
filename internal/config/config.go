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
	Storage     StorageConfig     `yaml:"storage"`
	MinIO       MinIOConfig       `yaml:"minio"`
	AWS         AWSConfig         `yaml:"aws"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Redis       RedisConfig       `yaml:"redis"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	MetricsPort int    `yaml:"metrics_port"`
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
	URL        string        `yaml:"url"`
	MaxDeliver int           `yaml:"max_deliver"`
	AckWait    time.Duration `yaml:"ack_wait"`
}

// StorageConfig selects the object store backend: "minio" or "s3".
type StorageConfig struct {
	Backend   string `yaml:"backend"`
	RawMarker string `yaml:"raw_marker"`
	// PresignTTL is how long download URLs handed to clients stay valid.
	PresignTTL time.Duration `yaml:"presign_ttl"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type AWSConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
}

type RecognitionConfig struct {
	CollectionPrefix   string        `yaml:"collection_prefix"`
	MaxFacesPerPhoto   int           `yaml:"max_faces_per_photo"`
	FaceMatchThreshold float64       `yaml:"face_match_threshold"`
	SelfieMaxFaces     int           `yaml:"selfie_max_faces"`
	SelfieThreshold    float64       `yaml:"selfie_threshold"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
	MinTextConfidence  float64       `yaml:"min_text_confidence"`
	WatermarkFilter    bool          `yaml:"watermark_filter"`
	ExcludedTokens     []string      `yaml:"excluded_tokens"`
}

type PipelineConfig struct {
	WorkerCount    int           `yaml:"worker_count"`
	BatchSize      int           `yaml:"batch_size"`
	MessageTimeout time.Duration `yaml:"message_timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// ReconcileConfig schedules the worker's reconciliation pass. It runs
// unless disabled.
type ReconcileConfig struct {
	Schedule string `yaml:"schedule"`
	Disabled bool   `yaml:"disabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML config data, then applies env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "minio", "s3":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Recognition.MaxFacesPerPhoto > 100 {
		return fmt.Errorf("recognition.max_faces_per_photo must be <= 100, got %d", c.Recognition.MaxFacesPerPhoto)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.MaxDeliver == 0 {
		cfg.NATS.MaxDeliver = 5
	}
	if cfg.NATS.AckWait == 0 {
		cfg.NATS.AckWait = 2 * time.Minute
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "minio"
	}
	if cfg.Storage.RawMarker == "" {
		cfg.Storage.RawMarker = "raw"
	}
	if cfg.Storage.PresignTTL == 0 {
		cfg.Storage.PresignTTL = time.Hour
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.Recognition.MaxFacesPerPhoto == 0 {
		cfg.Recognition.MaxFacesPerPhoto = 15
	}
	if cfg.Recognition.FaceMatchThreshold == 0 {
		cfg.Recognition.FaceMatchThreshold = 95
	}
	if cfg.Recognition.SelfieMaxFaces == 0 {
		cfg.Recognition.SelfieMaxFaces = 100
	}
	if cfg.Recognition.SelfieThreshold == 0 {
		cfg.Recognition.SelfieThreshold = 95
	}
	if cfg.Recognition.CallTimeout == 0 {
		cfg.Recognition.CallTimeout = 20 * time.Second
	}
	if cfg.Pipeline.WorkerCount == 0 {
		cfg.Pipeline.WorkerCount = 6
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 10
	}
	if cfg.Pipeline.MessageTimeout == 0 {
		cfg.Pipeline.MessageTimeout = 90 * time.Second
	}
	if cfg.Reconcile.Schedule == "" {
		cfg.Reconcile.Schedule = "0 */15 * * * *"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RACE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RACE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("RACE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("RACE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("RACE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("RACE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("RACE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("RACE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("RACE_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("RACE_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("RACE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("RACE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("RACE_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("RACE_AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("RACE_AWS_ACCESS_KEY"); v != "" {
		cfg.AWS.AccessKey = v
	}
	if v := os.Getenv("RACE_AWS_SECRET_KEY"); v != "" {
		cfg.AWS.SecretKey = v
	}
	if v := os.Getenv("RACE_COLLECTION_PREFIX"); v != "" {
		cfg.Recognition.CollectionPrefix = v
	}
	if v := os.Getenv("RACE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RACE_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.WorkerCount = n
		}
	}
	if v := os.Getenv("RACE_RECONCILE_SCHEDULE"); v != "" {
		cfg.Reconcile.Schedule = v
	}
	if v := os.Getenv("RACE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
