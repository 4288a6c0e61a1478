package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sionline/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().ServerURL, cfg.ServerURL)
	assert.True(t, cfg.UseHostTransport)
	assert.Equal(t, 100, cfg.MaxResyncPages)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lobby.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_url: http://games.example:9000
user_name: ann
sex: female
use_host_transport: false
reconnect_backoff: 2s
log_level: debug
`), 0o600))
	t.Setenv("SIONLINE_USER_NAME", "bob")
	t.Setenv("SIONLINE_MEMO_TTL", "1h")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://games.example:9000", cfg.ServerURL)
	assert.Equal(t, "bob", cfg.UserName)
	assert.False(t, cfg.UseHostTransport)
	assert.Equal(t, 2*time.Second, cfg.ReconnectBackoff)
	assert.Equal(t, time.Hour, cfg.MemoTTL)
	assert.Equal(t, log.DebugLevel, cfg.Level())

	sex, err := cfg.SexValue()
	require.NoError(t, err)
	assert.Equal(t, models.SexFemale, sex)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SIONLINE_SEX", "robot")
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestJoinURLPrefixes(t *testing.T) {
	cfg := Default()
	cfg.NewOnlineGameURL = ""
	assert.Equal(t, []string{cfg.OnlineGameURL}, cfg.JoinURLPrefixes())
}
