package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
server:
  port: ":9090"

redis:
  enabled: true
  address: "localhost:6379"

postgres:
  enabled: false
  dsn: ""

ratelimit:
  enabled: true

billing:
  margin_percent: 30

providers:
  acme:
    base_url: "https://api.acme-ai.example.com"
    model: "acme-analyst-2"
    requests_per_minute: 60
    requests_per_day: 5000
    tokens_per_minute: 90000
    burst_size: 10
    input_price_per_million: 300
    output_price_per_million: 1500
  selfhosted:
    base_url: "http://localhost:11434"
    requests_per_minute: -1

admin:
  admin_key: "test-key"
`

func writeTestConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	return dir
}

func TestLoadAndWatchFromParsesAllSections(t *testing.T) {
	store, err := LoadAndWatchFrom(writeTestConfig(t, testYAML))
	require.NoError(t, err)

	cfg := store.Get()
	require.NotNil(t, cfg)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Postgres.Enabled)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 30.0, cfg.Billing.MarginPercent)
	assert.Equal(t, "test-key", cfg.Admin.AdminKey)

	acme, ok := cfg.Providers["acme"]
	require.True(t, ok)
	assert.Equal(t, int64(60), acme.RequestsPerMinute)
	assert.Equal(t, int64(5000), acme.RequestsPerDay)
	assert.Equal(t, int64(90000), acme.TokensPerMinute)
	assert.Equal(t, 10, acme.BurstSize)
	assert.Equal(t, 300.0, acme.InputPricePerMillion)
	assert.Equal(t, 1500.0, acme.OutputPricePerMillion)

	sh, ok := cfg.Providers["selfhosted"]
	require.True(t, ok)
	assert.Equal(t, int64(-1), sh.RequestsPerMinute)
	assert.Equal(t, int64(0), sh.TokensPerMinute)
}

func TestLoadAndWatchFromMissingFile(t *testing.T) {
	_, err := LoadAndWatchFrom(t.TempDir())
	assert.Error(t, err)
}

func TestStoreGetReturnsCopy(t *testing.T) {
	store := NewStaticStore(&Config{Server: ServerConfig{Port: "8080"}})

	cfg := store.Get()
	cfg.Server.Port = "changed"

	assert.Equal(t, "8080", store.Get().Server.Port)
}

func TestStoreGetNilWhenEmpty(t *testing.T) {
	var s Store
	assert.Nil(t, s.Get())
}
