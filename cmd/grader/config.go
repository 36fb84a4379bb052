package main

import (
	"fmt"
	"os"
	"time"

	"github.com/noraiz-anwar/code-response-assessment/internal/common/cache"
	"github.com/noraiz-anwar/code-response-assessment/internal/common/db"
	"github.com/noraiz-anwar/code-response-assessment/internal/common/http/middleware"
	"github.com/noraiz-anwar/code-response-assessment/internal/common/mq"
	"github.com/noraiz-anwar/code-response-assessment/internal/common/storage"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/executor"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/harness"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/sandbox"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/taskqueue"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/testdata"
	"github.com/noraiz-anwar/code-response-assessment/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr    = "0.0.0.0:8087"
	defaultReadTimeout = 5 * time.Second
	// Synchronous grading compiles and runs the submission inline, so the
	// write timeout covers a full sample pass.
	defaultWriteTimeout    = 120 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// GraderConfig holds grading engine settings.
type GraderConfig struct {
	Sandbox sandbox.Config   `yaml:"sandbox"`
	Harness harness.Config   `yaml:"harness"`
	Queue   taskqueue.Config `yaml:"queue"`

	// Packs configures the object-storage pack cache. LocalDataDir
	// switches to serving test data straight from a local directory
	// instead, which also makes MinIO optional.
	Packs        testdata.PackConfig `yaml:"packs"`
	LocalDataDir string              `yaml:"localDataDir"`

	// Executors are merged over the built-in catalog.
	Executors []executor.Definition `yaml:"executors"`

	JobCacheTTL  time.Duration `yaml:"jobCacheTTL"`
	JobEmptyTTL  time.Duration `yaml:"jobEmptyTTL"`
	ResultTTL    time.Duration `yaml:"resultTTL"`
	TaskStateTTL time.Duration `yaml:"taskStateTTL"`
	PollGrace    time.Duration `yaml:"pollGrace"`
	PingTimeout  time.Duration `yaml:"pingTimeout"`
}

// DatabaseConfig selects the job ledger driver. MySQL is the default;
// "postgres" switches to the lib/pq pool with the same tuning knobs.
type DatabaseConfig struct {
	db.MySQLConfig `yaml:",inline"`
	Driver         string `yaml:"driver"`
}

// AppConfig holds grader service configuration.
type AppConfig struct {
	Server   ServerConfig              `yaml:"server"`
	Logger   logger.Config             `yaml:"logger"`
	Database DatabaseConfig            `yaml:"database"`
	Redis    cache.RedisConfig         `yaml:"redis"`
	Kafka    mq.KafkaConfig            `yaml:"kafka"`
	MinIO    storage.MinIOConfig       `yaml:"minio"`
	Auth     middleware.IdentityConfig `yaml:"auth"`
	Grader   GraderConfig              `yaml:"grader"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	switch cfg.Database.Driver {
	case "", "mysql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Grader.LocalDataDir == "" && cfg.MinIO.Endpoint == "" {
		return nil, fmt.Errorf("either minio endpoint or grader.localDataDir is required")
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Grader.JobCacheTTL == 0 {
		cfg.Grader.JobCacheTTL = 30 * time.Minute
	}
	if cfg.Grader.JobEmptyTTL == 0 {
		cfg.Grader.JobEmptyTTL = 5 * time.Minute
	}
	if cfg.Grader.Packs.Bucket == "" {
		cfg.Grader.Packs.Bucket = cfg.MinIO.Bucket
	}

	return &cfg, nil
}
