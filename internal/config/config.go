package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/michaelbrown/execd/internal/sandbox"
	"github.com/michaelbrown/execd/internal/storage/s3store"
)

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ExecConfig struct {
	Command          []string      `mapstructure:"command"`
	Entrypoint       string        `mapstructure:"entrypoint"`
	Language         string        `mapstructure:"language"`
	Env              []string      `mapstructure:"env"` // KEY=VALUE entries
	WorkspaceDir     string        `mapstructure:"workspace_dir"`
	TimeoutDefaultMs int           `mapstructure:"timeout_default_ms"`
	TimeoutMinMs     int           `mapstructure:"timeout_min_ms"`
	TimeoutMaxMs     int           `mapstructure:"timeout_max_ms"`
	DrainTimeout     time.Duration `mapstructure:"drain_timeout"`
}

type S3Config struct {
	Bucket        string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	Endpoint      string `mapstructure:"endpoint"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	PathStyle     bool   `mapstructure:"path_style"`
	ACL           string `mapstructure:"acl"`
}

type SQLiteConfig struct {
	Path          string        `mapstructure:"path"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	Retention     time.Duration `mapstructure:"retention"`
}

type PublisherConfig struct {
	Backend string        `mapstructure:"backend"`
	Timeout time.Duration `mapstructure:"timeout"`
	Prefix  string        `mapstructure:"prefix"`
	S3      S3Config      `mapstructure:"s3"`
	SQLite  SQLiteConfig  `mapstructure:"sqlite"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Exec      ExecConfig      `mapstructure:"exec"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// Load reads execd.yaml from the working directory or $HOME/.execd, or from
// file when it is non-empty. A missing config file is not an error; defaults
// and EXECD_* environment variables apply either way.
func Load(file string) (*Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("execd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.execd")
	}

	v.SetEnvPrefix("execd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Cloud Run style listen port.
	if err := v.BindEnv("server.port", "EXECD_SERVER_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in endpoint settings
	cfg.Publisher.S3.Endpoint = expandEnv(cfg.Publisher.S3.Endpoint)
	cfg.Publisher.S3.Bucket = expandEnv(cfg.Publisher.S3.Bucket)
	cfg.Telemetry.OTLPEndpoint = expandEnv(cfg.Telemetry.OTLPEndpoint)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("exec.command", []string{"python3", "-S"})
	v.SetDefault("exec.entrypoint", "main.py")
	v.SetDefault("exec.language", "PYTHON")
	v.SetDefault("exec.env", []string{})
	v.SetDefault("exec.workspace_dir", "")
	v.SetDefault("exec.timeout_default_ms", 10000)
	v.SetDefault("exec.timeout_min_ms", 1000)
	v.SetDefault("exec.timeout_max_ms", 30000)
	v.SetDefault("exec.drain_timeout", time.Second)

	v.SetDefault("publisher.backend", "")
	v.SetDefault("publisher.timeout", 10*time.Second)
	v.SetDefault("publisher.prefix", "plots")
	v.SetDefault("publisher.s3.bucket", "")
	v.SetDefault("publisher.s3.region", "")
	v.SetDefault("publisher.s3.endpoint", "")
	v.SetDefault("publisher.s3.public_base_url", "")
	v.SetDefault("publisher.s3.path_style", false)
	v.SetDefault("publisher.s3.acl", "")
	v.SetDefault("publisher.sqlite.path", "execd-artifacts.db")
	v.SetDefault("publisher.sqlite.public_base_url", "")
	v.SetDefault("publisher.sqlite.retention", 24*time.Hour)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "execd")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// expandEnv resolves a whole-value ${VAR} reference.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

func (c *Config) validate() error {
	if len(c.Exec.Command) == 0 {
		return errors.New("exec.command must not be empty")
	}
	for _, kv := range c.Exec.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return fmt.Errorf("exec.env entry %q is not KEY=VALUE", kv)
		}
	}
	if c.Exec.TimeoutMinMs <= 0 || c.Exec.TimeoutMaxMs < c.Exec.TimeoutMinMs {
		return fmt.Errorf("invalid timeout bounds [%d, %d]", c.Exec.TimeoutMinMs, c.Exec.TimeoutMaxMs)
	}
	return nil
}

// Policy returns the sandbox policy described by the exec section.
func (c *Config) Policy() sandbox.Policy {
	return sandbox.Policy{
		Command:        append([]string{}, c.Exec.Command...),
		Entrypoint:     c.Exec.Entrypoint,
		Env:            c.execEnv(),
		WorkspaceDir:   c.Exec.WorkspaceDir,
		DefaultTimeout: time.Duration(c.Exec.TimeoutDefaultMs) * time.Millisecond,
		MinTimeout:     time.Duration(c.Exec.TimeoutMinMs) * time.Millisecond,
		MaxTimeout:     time.Duration(c.Exec.TimeoutMaxMs) * time.Millisecond,
		DrainTimeout:   c.Exec.DrainTimeout,
	}
}

// execEnv turns KEY=VALUE entries into a map, expanding ${VAR} values.
// Viper lowercases map keys, so the variables are configured as a list.
func (c *Config) execEnv() map[string]string {
	env := make(map[string]string, len(c.Exec.Env))
	for _, kv := range c.Exec.Env {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = expandEnv(v)
	}
	return env
}

// S3 returns the S3 publisher settings.
func (c *Config) S3() s3store.Config {
	s := c.Publisher.S3
	return s3store.Config{
		Bucket:        s.Bucket,
		Region:        s.Region,
		Endpoint:      s.Endpoint,
		PublicBaseURL: s.PublicBaseURL,
		PathStyle:     s.PathStyle,
		ACL:           s.ACL,
		Prefix:        c.Publisher.Prefix,
	}
}

// SQLiteBaseURL returns the URL prefix for artifacts served by this process.
func (c *Config) SQLiteBaseURL() string {
	if c.Publisher.SQLite.PublicBaseURL != "" {
		return c.Publisher.SQLite.PublicBaseURL
	}
	return fmt.Sprintf("http://localhost:%d", c.Server.Port)
}
