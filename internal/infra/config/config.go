package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverRedis     = "redis"
	DriverFirestore = "firestore"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	MaxUploadBytesMb int64  `yaml:"max_upload_mb"`
	IntakeDir        string `yaml:"intake_dir"`
	OutputDir        string `yaml:"output_dir"`

	ConversionTimeout time.Duration `yaml:"conversion_timeout"`
	MaxParallel       int           `yaml:"max_parallel"`
	AdmissionTimeout  time.Duration `yaml:"admission_timeout"`
	ExcerptBytes      int           `yaml:"excerpt_bytes"`
	VerifyPDF         bool          `yaml:"verify_pdf"`

	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepMaxAge   time.Duration `yaml:"sweep_max_age"`

	Converter Converter `yaml:"converter"`
	History   History   `yaml:"history"`
	Archive   Archive   `yaml:"archive"`
	Events    Events    `yaml:"events"`
	GRPC      GRPC      `yaml:"grpc"`
	Log       Log       `yaml:"log"`
}

type Converter struct {
	InterpreterPath string `yaml:"interpreter_path"`
	ScriptPath      string `yaml:"script_path"`
	OfficePath      string `yaml:"office_path"`
}

type History struct {
	Driver    string    `yaml:"driver"`
	Redis     Redis     `yaml:"redis"`
	Firestore Firestore `yaml:"firestore"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Firestore struct {
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

type Archive struct {
	Enabled bool  `yaml:"enabled"`
	MinIO   MinIO `yaml:"minio"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	BasePath        string `yaml:"base_path"`
}

type Events struct {
	Enabled       bool `yaml:"enabled"`
	NATS          NATS `yaml:"nats"`
	QueueCapacity int  `yaml:"queue_capacity"`
	PoolSize      int  `yaml:"pool_size"`
	MaxRetries    int  `yaml:"max_retries"`
}

type NATS struct {
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	MaxReconnects int    `yaml:"max_reconnects"`
	Subject       string `yaml:"subject"`
	Stream        string `yaml:"stream"`
}

type GRPC struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func MustLoad(path, envFile string) *Config {
	cfg, err := Load(path, envFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// Load reads the YAML file, applies environment overrides (optionally
// loaded from envFile first) and fills in defaults.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("cannot load env file %q: %w", envFile, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read file %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal yaml: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// sweepMargin leaves room for delivery after a conversion finishes; the
// janitor must never reach files of a job that is still in flight.
const sweepMargin = 5 * time.Minute

func defaults() *Config {
	return &Config{
		Addr:              ":5000",
		ShutdownTimeout:   10 * time.Second,
		MaxUploadBytesMb:  50,
		IntakeDir:         "uploads",
		OutputDir:         "converted",
		ConversionTimeout: 60 * time.Second,
		MaxParallel:       2,
		AdmissionTimeout:  30 * time.Second,
		ExcerptBytes:      2 << 10,
		VerifyPDF:         true,
		SweepInterval:     10 * time.Minute,
		SweepMaxAge:       time.Hour,
		Converter: Converter{
			InterpreterPath: "python3",
			ScriptPath:      "convert.py",
			OfficePath:      "soffice",
		},
		History: History{
			Driver:    DriverRedis,
			Redis:     Redis{Addr: "localhost:6379", Prefix: "docconv"},
			Firestore: Firestore{Collection: "conversions"},
		},
		Archive: Archive{
			MinIO: MinIO{Bucket: "docconv", BasePath: "artifacts"},
		},
		Events: Events{
			NATS: NATS{
				Name:          "docconv",
				MaxReconnects: 10,
				Subject:       "conversions.jobs",
				Stream:        "CONVERSIONS",
			},
			QueueCapacity: 100,
			PoolSize:      2,
			MaxRetries:    3,
		},
		GRPC: GRPC{Addr: ":50051"},
		Log:  Log{Level: "info", Format: "text"},
	}
}

// applyEnv lets deployments override secrets and endpoints without
// editing the file.
func (cfg *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Addr = ":" + port
	}
	setString(&cfg.Addr, "DOCCONV_ADDR")
	setString(&cfg.IntakeDir, "DOCCONV_INTAKE_DIR")
	setString(&cfg.OutputDir, "DOCCONV_OUTPUT_DIR")
	setString(&cfg.Converter.InterpreterPath, "DOCCONV_INTERPRETER_PATH")
	setString(&cfg.Converter.ScriptPath, "DOCCONV_SCRIPT_PATH")
	setString(&cfg.Converter.OfficePath, "DOCCONV_OFFICE_PATH")
	setString(&cfg.History.Driver, "DOCCONV_HISTORY_DRIVER")
	setString(&cfg.History.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.History.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.History.Firestore.ProjectID, "GOOGLE_CLOUD_PROJECT")
	setString(&cfg.Archive.MinIO.Endpoint, "MINIO_ENDPOINT")
	setString(&cfg.Archive.MinIO.AccessKeyID, "MINIO_ACCESS_KEY_ID")
	setString(&cfg.Archive.MinIO.SecretAccessKey, "MINIO_SECRET_ACCESS_KEY")
	setString(&cfg.Events.NATS.URL, "NATS_URL")
	setString(&cfg.Log.Level, "DOCCONV_LOG_LEVEL")

	if v := os.Getenv("DOCCONV_MAX_PARALLEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DOCCONV_MAX_PARALLEL: %w", err)
		}
		cfg.MaxParallel = n
	}
	if v := os.Getenv("DOCCONV_CONVERSION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DOCCONV_CONVERSION_TIMEOUT: %w", err)
		}
		cfg.ConversionTimeout = d
	}

	return nil
}

func (cfg *Config) validate() error {
	if cfg.Addr == "" {
		return errors.New("addr is empty")
	}
	if cfg.IntakeDir == "" || cfg.OutputDir == "" {
		return errors.New("intake_dir and output_dir are required")
	}
	if cfg.IntakeDir == cfg.OutputDir {
		return errors.New("intake_dir and output_dir must differ")
	}
	if cfg.ConversionTimeout <= 0 {
		return fmt.Errorf("conversion_timeout must be positive, got %s", cfg.ConversionTimeout)
	}
	if cfg.MaxParallel <= 0 {
		return fmt.Errorf("max_parallel must be positive, got %d", cfg.MaxParallel)
	}
	if cfg.MaxUploadBytesMb <= 0 {
		cfg.MaxUploadBytesMb = 50
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if minAge := cfg.ConversionTimeout + cfg.AdmissionTimeout + sweepMargin; cfg.SweepMaxAge < minAge {
		return fmt.Errorf("sweep_max_age must be at least %s (conversion_timeout + admission_timeout + %s), got %s",
			minAge, sweepMargin, cfg.SweepMaxAge)
	}
	if cfg.Converter.InterpreterPath == "" || cfg.Converter.ScriptPath == "" || cfg.Converter.OfficePath == "" {
		return errors.New("converter.interpreter_path, script_path and office_path are required")
	}

	switch strings.ToLower(cfg.History.Driver) {
	case DriverRedis:
		if cfg.History.Redis.Addr == "" {
			return errors.New("history.redis.addr is empty")
		}
	case DriverFirestore:
		if cfg.History.Firestore.ProjectID == "" {
			return errors.New("history.firestore.project_id is empty")
		}
	default:
		return fmt.Errorf("unknown history.driver %q", cfg.History.Driver)
	}
	cfg.History.Driver = strings.ToLower(cfg.History.Driver)

	if cfg.Archive.Enabled && (cfg.Archive.MinIO.Endpoint == "" || cfg.Archive.MinIO.Bucket == "") {
		return errors.New("archive.minio.endpoint and bucket are required when archive is enabled")
	}
	if cfg.Events.Enabled && (cfg.Events.NATS.Subject == "" || cfg.Events.NATS.Stream == "") {
		return errors.New("events.nats.subject and stream are required when events are enabled")
	}
	if cfg.GRPC.Enabled && cfg.GRPC.Addr == "" {
		return errors.New("grpc.addr is empty")
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
