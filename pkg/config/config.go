// Package config loads sidecar settings from an optional YAML file and the environment.
//
// Precedence: defaults, then the file named by SIDECAR_CONFIG, then environment
// variables. AWS_LAMBDA_RUNTIME_API is not read here; it is resolved lazily by
// package runtimeenv.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/token-sidecar/pkg/limiter"
	"github.com/Mindburn-Labs/token-sidecar/pkg/observability"
	"github.com/Mindburn-Labs/token-sidecar/pkg/secrets"
	"github.com/Mindburn-Labs/token-sidecar/pkg/token"
)

// Config holds sidecar configuration.
type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	ExtensionName string `yaml:"extension_name"`
	LogLevel      string `yaml:"log_level"`

	TokenSubject   string `yaml:"token_subject"`
	TokenExpiresAt int64  `yaml:"token_expires_at"`

	SecretSource string `yaml:"secret_source"`
	JWTSecret    string `yaml:"jwt_secret"`
	S3Bucket     string `yaml:"secret_s3_bucket"`
	S3Key        string `yaml:"secret_s3_key"`
	S3Region     string `yaml:"secret_s3_region"`
	S3Endpoint   string `yaml:"secret_s3_endpoint"`
	GCSBucket    string `yaml:"secret_gcs_bucket"`
	GCSObject    string `yaml:"secret_gcs_object"`

	RateLimitRPM   int    `yaml:"rate_limit_rpm"`
	RateLimitBurst int    `yaml:"rate_limit_burst"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		ListenAddr:     "127.0.0.1:8000",
		ExtensionName:  "token-sidecar",
		LogLevel:       "INFO",
		TokenSubject:   token.DefaultSubject,
		TokenExpiresAt: token.DefaultExpiry.Unix(),
		SecretSource:   string(secrets.SourceTypeEnv),
		RateLimitBurst: 10,
	}
}

// Load builds the configuration from defaults, SIDECAR_CONFIG and the environment.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("SIDECAR_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file over the defaults, without consulting the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if err := cfg.overlayFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() error {
	envString("SIDECAR_LISTEN_ADDR", &c.ListenAddr)
	envString("EXTENSION_NAME", &c.ExtensionName)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("TOKEN_SUBJECT", &c.TokenSubject)
	envString("SECRET_SOURCE", &c.SecretSource)
	envString("JWT_SECRET", &c.JWTSecret)
	envString("SECRET_S3_BUCKET", &c.S3Bucket)
	envString("SECRET_S3_KEY", &c.S3Key)
	envString("SECRET_S3_REGION", &c.S3Region)
	envString("SECRET_S3_ENDPOINT", &c.S3Endpoint)
	envString("SECRET_GCS_BUCKET", &c.GCSBucket)
	envString("SECRET_GCS_OBJECT", &c.GCSObject)
	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.OTLPEndpoint)

	if c.S3Region == "" {
		c.S3Region = os.Getenv("AWS_REGION")
	}
	c.OTLPInsecure = c.OTLPInsecure || os.Getenv("OTEL_INSECURE") == "true"

	if err := envInt64("TOKEN_EXPIRES_AT", &c.TokenExpiresAt); err != nil {
		return err
	}
	if err := envInt("RATE_LIMIT_RPM", &c.RateLimitRPM); err != nil {
		return err
	}
	if err := envInt("RATE_LIMIT_BURST", &c.RateLimitBurst); err != nil {
		return err
	}
	return envInt("REDIS_DB", &c.RedisDB)
}

// Validate rejects settings the sidecar cannot start with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.ExtensionName == "" {
		return fmt.Errorf("extension name is required")
	}
	if c.TokenSubject == "" {
		return fmt.Errorf("token subject is required")
	}
	if c.TokenExpiresAt <= 0 {
		return fmt.Errorf("token expiry must be a positive unix timestamp, got %d", c.TokenExpiresAt)
	}
	if c.RateLimitRPM < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}
	return nil
}

// Level parses LogLevel, defaulting to INFO.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Secrets returns the secret source configuration.
func (c *Config) Secrets() secrets.Config {
	return secrets.Config{
		Type:  secrets.SourceType(c.SecretSource),
		Value: c.JWTSecret,
		S3: secrets.S3Config{
			Bucket:   c.S3Bucket,
			Key:      c.S3Key,
			Region:   c.S3Region,
			Endpoint: c.S3Endpoint,
		},
		GCS: secrets.GCSConfig{
			Bucket: c.GCSBucket,
			Object: c.GCSObject,
		},
	}
}

// LimitPolicy returns the token endpoint rate limit.
func (c *Config) LimitPolicy() limiter.Policy {
	return limiter.Policy{RPM: c.RateLimitRPM, Burst: c.RateLimitBurst}
}

// Observability returns the telemetry configuration.
func (c *Config) Observability() *observability.Config {
	oc := observability.DefaultConfig()
	oc.ServiceName = c.ExtensionName
	oc.OTLPEndpoint = c.OTLPEndpoint
	oc.Insecure = c.OTLPInsecure
	return oc
}

// TokenExpiry returns TokenExpiresAt as a time.
func (c *Config) TokenExpiry() time.Time {
	return time.Unix(c.TokenExpiresAt, 0).UTC()
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
