package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	cfile := filepath.Join(t.TempDir(), "waconnect.yml")
	require.NoError(t, os.WriteFile(cfile, []byte(content), 0o644))
	return cfile
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Equal(t, "waconnect", cfg.System.Appid)
	assert.Equal(t, 1820, cfg.Web.Port)
	assert.Equal(t, "15m", cfg.Whatsapp.SweepInterval)
	assert.Equal(t, 6, cfg.Whatsapp.AlertAfterHours)
	assert.Equal(t, 5, cfg.Whatsapp.ReconnectCeiling)
	assert.Equal(t, "2m", cfg.Whatsapp.PairingTTL)
}

func TestLoadConfigFromFile(t *testing.T) {
	cfile := writeConfigFile(t, `
system:
  appid: crmwa
  workdir: /tmp/crmwa
web:
  host: 127.0.0.1
  port: 9090
whatsapp:
  store_driver: postgres
  store_dsn: "postgres://wa:wa@localhost/wa"
  sweep_workers: 4
smtp:
  host: mail.internal
  port: 587
`)
	cfg := LoadConfig(cfile)
	assert.Equal(t, "crmwa", cfg.System.Appid)
	assert.Equal(t, 9090, cfg.Web.Port)
	assert.Equal(t, "postgres", cfg.Whatsapp.StoreDriver)
	assert.Equal(t, 4, cfg.Whatsapp.SweepWorkers)
	assert.Equal(t, "mail.internal", cfg.Smtp.Host)

	assert.Equal(t, "/tmp/crmwa/logs", cfg.GetLogDir())
	assert.Equal(t, "/tmp/crmwa/data", cfg.GetDataDir())
	assert.Equal(t, "/tmp/crmwa/sessions", cfg.GetSessionDir())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	cfile := writeConfigFile(t, "web:\n  port: 9090\n")
	t.Setenv("WACONNECT_WEB_PORT", "8081")
	t.Setenv("WACONNECT_WA_STORE_DSN", "file:/tmp/wa.db")
	t.Setenv("WACONNECT_SYSTEM_DEBUG", "false")

	cfg := LoadConfig(cfile)
	assert.Equal(t, 8081, cfg.Web.Port)
	assert.Equal(t, "file:/tmp/wa.db", cfg.Whatsapp.StoreDSN)
	assert.False(t, cfg.System.Debug)
}

func TestLoadConfigBadYamlFallsBack(t *testing.T) {
	cfile := writeConfigFile(t, "system: {appid")
	cfg := LoadConfig(cfile)
	assert.Equal(t, "waconnect", cfg.System.Appid)
}