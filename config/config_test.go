package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadParsesNestedAndInlineFields(t *testing.T) {
	path := writeConfig(t, `
web:
  http_addr: ":8080"
  site_url: "https://modrinth.com"
redis:
  addrs: ["127.0.0.1:6379"]
storage:
  dsn: "postgres://localhost/forgekeep"
connectors:
  gitlab:
    client_id: "abc"
    base_url: "https://gitlab.example.com"
`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Web.HTTPAddr)
	assert.Equal(t, "https://modrinth.com", c.Web.SiteURL)
	assert.Equal(t, []string{"127.0.0.1:6379"}, c.Redis.Addrs)
	assert.Equal(t, "abc", c.Connectors.GitLab.ClientID)
	assert.Equal(t, "https://gitlab.example.com", c.Connectors.GitLab.BaseURL)
}

func TestValidateCollectsAllViolations(t *testing.T) {
	var c Config
	err := c.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "storage.dsn must be set")
	assert.Contains(t, msg, "redis.addrs must list at least one endpoint")
	assert.Contains(t, msg, "web.http_addr must be set")
	assert.Contains(t, msg, "web.site_url must be set")
}

func TestValidateRequiresMailFromWhenHostSet(t *testing.T) {
	c := Config{
		Storage: Storage{DSN: "postgres://localhost/forgekeep"},
		Redis:   Redis{Addrs: []string{"127.0.0.1:6379"}},
		Web:     Web{HTTPAddr: ":8080", SiteURL: "https://modrinth.com"},
		Mail:    Mail{Host: "smtp.example.com:587"},
	}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail.from must be set")
}

func TestValidatePassesOnCompleteConfig(t *testing.T) {
	c := Config{
		Storage: Storage{DSN: "postgres://localhost/forgekeep"},
		Redis:   Redis{Addrs: []string{"127.0.0.1:6379"}},
		Web:     Web{HTTPAddr: ":8080", SiteURL: "https://modrinth.com"},
	}
	assert.NoError(t, c.Validate())
}

func TestCacheAndFlowConfigsShareRedisEndpoints(t *testing.T) {
	c := Config{Redis: Redis{Addrs: []string{"a:1", "b:2"}, MasterName: "mymaster"}}
	assert.Equal(t, c.CacheConfig().Addrs, c.FlowConfig().Addrs)
	assert.Equal(t, "mymaster", c.CacheConfig().MasterName)
	assert.Equal(t, "mymaster", c.FlowConfig().MasterName)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
