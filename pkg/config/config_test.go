package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

// clearEnv blanks the override variables so the host environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"MQ_URL", "REDIS_ADDR", "REDIS_PASSWORD", "JWT_SECRET", "SERVER_PORT",
		"FCM_SERVER_KEY", "FCM_CREDENTIALS_FILE", "FCM_DRIVER",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_MergesEnvironmentOverBase(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
app:
  name: signalpush
  log_level: info
db:
  host: localhost
  port: 5432
gateway:
  driver: legacy
  timeout: 5s
`)
	writeFile(t, dir, "staging.yaml", `
app:
  log_level: debug
db:
  host: db.staging
`)

	cfg, err := Load("staging", dir)
	require.NoError(t, err)

	assert.Equal(t, "signalpush", cfg.App.Name)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "db.staging", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "legacy", cfg.Gateway.Driver)
	// keys absent from every layer keep their defaults
	assert.Equal(t, "https://fcm.googleapis.com/fcm/send", cfg.Gateway.Endpoint)
	assert.Equal(t, 100, cfg.MQ.OutboxBatch)
}

func TestLoad_SecretsReplacePlaceholders(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  password: ${DB_PASSWORD}
gateway:
  server_key: ${FCM_SERVER_KEY}
`)
	writeFile(t, dir, "secrets.env", "DB_PASSWORD=s3cret\nFCM_SERVER_KEY=\"abc123\"\n")

	cfg, err := Load("local", dir)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.DB.Password)
	assert.Equal(t, "abc123", cfg.Gateway.ServerKey)
}

func TestLoad_UnresolvedPlaceholdersBecomeEmpty(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
gateway:
  server_key: ${SIGNALPUSH_TEST_UNSET_KEY}
`)

	cfg, err := Load("local", dir)
	require.NoError(t, err)

	assert.Empty(t, cfg.Gateway.ServerKey)
}

func TestLoad_EnvironmentOverridesWin(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
server:
  port: ":8080"
`)
	t.Setenv("DB_HOST", "pg.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("FCM_SERVER_KEY", "from-env")
	t.Setenv("JWT_SECRET", "jwt-secret")

	cfg, err := Load("local", dir)
	require.NoError(t, err)

	assert.Equal(t, "pg.internal", cfg.DB.Host)
	assert.Equal(t, 6543, cfg.DB.Port)
	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Gateway.ServerKey)
	assert.Equal(t, "jwt-secret", cfg.Auth.JWTSecret)
}

func TestLoad_MissingBaseFails(t *testing.T) {
	_, err := Load("local", t.TempDir())
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("", 5*time.Second))
	assert.Equal(t, 250*time.Millisecond, Duration("250ms", time.Second))
	assert.Equal(t, time.Second, Duration("not-a-duration", time.Second))
	assert.Equal(t, time.Second, Duration("-3s", time.Second))
}

func TestMergeMaps_Nested(t *testing.T) {
	dst := map[string]interface{}{
		"db": map[string]interface{}{"host": "a", "port": 1},
		"x":  "keep",
	}
	src := map[string]interface{}{
		"db": map[string]interface{}{"host": "b"},
	}

	merged := mergeMaps(dst, src)

	db := merged["db"].(map[string]interface{})
	assert.Equal(t, "b", db["host"])
	assert.Equal(t, 1, db["port"])
	assert.Equal(t, "keep", merged["x"])
}
