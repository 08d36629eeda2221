package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"autoposter/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Broker     BrokerConfig     `yaml:"broker"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Worker     WorkerConfig     `yaml:"worker"`
	Uploader   UploaderConfig   `yaml:"uploader"`
	Google     GoogleConfig     `yaml:"google"`
	API        APIConfig        `yaml:"api"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BrokerConfig struct {
	// Queue must not contain ':', which separates queue and id in a handle.
	Queue string `yaml:"queue"`
	// Retention keeps finished jobs inspectable for the status view.
	Retention   time.Duration `yaml:"retention"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
}

type SchedulerConfig struct {
	RunsMin            int           `yaml:"runs_min"`
	RunsMax            int           `yaml:"runs_max"`
	IntervalMin        time.Duration `yaml:"interval_min"`
	IntervalMax        time.Duration `yaml:"interval_max"`
	RearmAfter         time.Duration `yaml:"rearm_after"`
	GuardDuplicateDays bool          `yaml:"guard_duplicate_days"`
	Retry              RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	MaxRetry        int           `yaml:"max_retry"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	HealthPort      int           `yaml:"health_port"`
	Retry           RetryConfig   `yaml:"retry"`

	// DelayedCheckInterval is how often scheduled and retrying jobs are promoted.
	DelayedCheckInterval time.Duration `yaml:"delayed_check_interval"`
}

type UploaderConfig struct {
	// Command is the executable that performs the browser-driven upload.
	// Empty selects the dry-run uploader.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	WorkDir string   `yaml:"work_dir"`
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	// KeySearchDirs are tried, in order, for relative per-user key paths.
	KeySearchDirs []string `yaml:"key_search_dirs"`
	// VerifyDriveAccess makes start check that every account's Drive folder is readable.
	VerifyDriveAccess bool `yaml:"verify_drive_access"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BackupConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a cron spec ("0 3 * * *", "@every 6h"); empty means daily.
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; real environment variables take precedence.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Redis.Address == "" {
		return errors.New("redis address is required")
	}
	if c.Scheduler.RunsMin <= 0 || c.Scheduler.RunsMax < c.Scheduler.RunsMin {
		return fmt.Errorf("invalid scheduler runs range [%d, %d]", c.Scheduler.RunsMin, c.Scheduler.RunsMax)
	}
	if c.Scheduler.IntervalMin <= 0 || c.Scheduler.IntervalMax < c.Scheduler.IntervalMin {
		return fmt.Errorf("invalid scheduler interval range [%s, %s]", c.Scheduler.IntervalMin, c.Scheduler.IntervalMax)
	}
	if strings.Contains(c.Broker.Queue, ":") {
		return fmt.Errorf("broker queue %q must not contain ':'", c.Broker.Queue)
	}
	if c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth enabled but no api_keys configured")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "autoposter"
	}
	if c.Broker.Queue == "" {
		c.Broker.Queue = models.DefaultQueue
	}
	if c.Broker.Retention == 0 {
		c.Broker.Retention = 48 * time.Hour
	}
	if c.Broker.PingTimeout == 0 {
		c.Broker.PingTimeout = 2 * time.Second
	}

	if c.Scheduler.RunsMin == 0 {
		c.Scheduler.RunsMin = models.RunsPerDayMin
	}
	if c.Scheduler.RunsMax == 0 {
		c.Scheduler.RunsMax = models.RunsPerDayMax
	}
	if c.Scheduler.IntervalMin == 0 {
		c.Scheduler.IntervalMin = 5 * time.Minute
	}
	if c.Scheduler.IntervalMax == 0 {
		c.Scheduler.IntervalMax = 6 * time.Minute
	}
	if c.Scheduler.RearmAfter == 0 {
		c.Scheduler.RearmAfter = 24 * time.Hour
	}
	c.Scheduler.Retry.applyDefaults(3, time.Second, 10*time.Second)

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 2
	}
	if c.Worker.MaxRetry == 0 {
		c.Worker.MaxRetry = 5
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Worker.HealthPort == 0 {
		c.Worker.HealthPort = 8082
	}
	c.Worker.Retry.applyDefaults(c.Worker.MaxRetry, 5*time.Second, 5*time.Minute)

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

func (r *RetryConfig) applyDefaults(maxRetries int, initial, maxDelay time.Duration) {
	if r.MaxRetries == 0 {
		r.MaxRetries = maxRetries
	}
	if r.InitialDelay == 0 {
		r.InitialDelay = initial
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = maxDelay
	}
	if r.BackoffFactor == 0 {
		r.BackoffFactor = 2
	}
}
