// Package config loads the backend configuration from a YAML file with
// environment-variable overrides, so secrets can live in .env locally and
// in real env vars in production.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the analytics backend.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Auth    AuthConfig    `yaml:"auth"`
	Catalog CatalogConfig `yaml:"catalog"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects and parameterizes the storage backend.
// Type is "dynamodb" or "memory"; with "dynamodb" the process still falls
// back to memory when the table is unreachable.
type StorageConfig struct {
	Type          string `yaml:"type"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"`
	S3Bucket      string `yaml:"s3_bucket"` // optional snapshot archive bucket
}

// RedisConfig parameterizes the optional cross-instance session registry.
// An empty Addr disables Redis and keeps session state in-process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds credential signing and admin gating settings.
type AuthConfig struct {
	CredentialSecret   string `yaml:"credential_secret"`
	CredentialTTLHours int    `yaml:"credential_ttl_hours"` // 0 = no expiry
	AdminPassword      string `yaml:"admin_password"`
}

// CatalogConfig points at the event seed file.
type CatalogConfig struct {
	SeedFile string `yaml:"seed_file"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"` // nil = on
}

// Load reads and parses the configuration file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides. A
// .env file is read first if present (no error when missing).
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if t := os.Getenv("STORAGE_TYPE"); t != "" {
		cfg.Storage.Type = t
	}
	if table := os.Getenv("DYNAMODB_TABLE"); table != "" {
		cfg.Storage.DynamoDBTable = table
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Storage.AWSRegion = region
	}
	if bucket := os.Getenv("S3_EXPORT_BUCKET"); bucket != "" {
		cfg.Storage.S3Bucket = bucket
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if secret := os.Getenv("CREDENTIAL_SECRET"); secret != "" {
		cfg.Auth.CredentialSecret = secret
	}
	if pw := os.Getenv("ADMIN_PASSWORD"); pw != "" {
		cfg.Auth.AdminPassword = pw
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.AWSRegion == "" {
		c.Storage.AWSRegion = "us-east-1"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects configurations the server cannot safely start with.
func (c *Config) Validate() error {
	if c.Storage.Type != "memory" && c.Storage.Type != "dynamodb" {
		return fmt.Errorf("storage.type must be \"memory\" or \"dynamodb\", got %q", c.Storage.Type)
	}
	if c.Storage.Type == "dynamodb" && c.Storage.DynamoDBTable == "" {
		return fmt.Errorf("storage.dynamodb_table is required when storage.type is dynamodb")
	}
	if c.Auth.CredentialSecret == "" {
		return fmt.Errorf("auth.credential_secret is required")
	}
	return nil
}
