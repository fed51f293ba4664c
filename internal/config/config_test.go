package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9090

storage:
  type: dynamodb
  dynamodb_table: webibook-analytics
  aws_region: eu-west-1
  s3_bucket: webibook-exports

redis:
  addr: "localhost:6379"
  db: 2

auth:
  credential_secret: super-secret
  credential_ttl_hours: 720
  admin_password: hunter2

catalog:
  seed_file: config/events.yaml

logging:
  level: debug
  redact_pii: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "dynamodb", cfg.Storage.Type)
	assert.Equal(t, "webibook-analytics", cfg.Storage.DynamoDBTable)
	assert.Equal(t, "eu-west-1", cfg.Storage.AWSRegion)
	assert.Equal(t, "webibook-exports", cfg.Storage.S3Bucket)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "super-secret", cfg.Auth.CredentialSecret)
	assert.Equal(t, 720, cfg.Auth.CredentialTTLHours)
	assert.Equal(t, "hunter2", cfg.Auth.AdminPassword)
	assert.Equal(t, "config/events.yaml", cfg.Catalog.SeedFile)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NotNil(t, cfg.Logging.RedactPII)
	assert.False(t, *cfg.Logging.RedactPII)

	assert.NoError(t, cfg.Validate())
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "auth:\n  credential_secret: s\n"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "us-east-1", cfg.Storage.AWSRegion)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Nil(t, cfg.Logging.RedactPII)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("STORAGE_TYPE", "dynamodb")
	t.Setenv("DYNAMODB_TABLE", "override-table")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("CREDENTIAL_SECRET", "env-secret")
	t.Setenv("ADMIN_PASSWORD", "env-admin")

	cfg, err := LoadFromEnv(writeConfig(t, "server:\n  port: 1234\n"))
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "dynamodb", cfg.Storage.Type)
	assert.Equal(t, "override-table", cfg.Storage.DynamoDBTable)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "env-secret", cfg.Auth.CredentialSecret)
	assert.Equal(t, "env-admin", cfg.Auth.AdminPassword)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.applyDefaults()
		c.Auth.CredentialSecret = "s"
		return c
	}

	assert.NoError(t, base().Validate())

	c := base()
	c.Storage.Type = "postgres"
	assert.Error(t, c.Validate())

	c = base()
	c.Storage.Type = "dynamodb"
	assert.Error(t, c.Validate(), "dynamodb without a table name")
	c.Storage.DynamoDBTable = "t"
	assert.NoError(t, c.Validate())

	c = base()
	c.Auth.CredentialSecret = ""
	assert.Error(t, c.Validate())
}
