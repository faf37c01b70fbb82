package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("AI_TIMEOUT", "")

	cfg := FromEnv()
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 15*time.Second, cfg.AITimeout)
	assert.True(t, cfg.NATSEnabled)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("WHATSAPP_MAX_RETRIES", "5")
	t.Setenv("NATS_ENABLED", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://console.example.com, https://admin.example.com,")
	t.Setenv("RATE_LIMIT_WINDOW", "not-a-duration")

	cfg := FromEnv()
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 5, cfg.WhatsAppMaxRetries)
	assert.False(t, cfg.NATSEnabled)
	assert.Equal(t, []string{"https://console.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("BOT_MENU_FILE=/etc/helpdesk/menu.yaml\nPORT=7000\n"), 0o600))
	t.Setenv("PORT", "7100")
	t.Setenv("BOT_MENU_FILE", "")
	require.NoError(t, os.Unsetenv("BOT_MENU_FILE"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/etc/helpdesk/menu.yaml", cfg.BotMenuFile)
	assert.Equal(t, "7100", cfg.ServerPort)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
