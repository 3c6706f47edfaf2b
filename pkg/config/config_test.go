package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "campuseq.db", cfg.Database)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatTimeout.Std())
	assert.Equal(t, time.Second, cfg.SweepInterval.Std())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Discovery.Enabled)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9100"
database: /var/lib/campuseq/campuseq.db
heartbeat_timeout: 30s
log:
  level: debug
  protocol_file: /tmp/protocol.log
discovery:
  enabled: true
  instance: campuseq-lab
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Listen)
	assert.Equal(t, "/var/lib/campuseq/campuseq.db", cfg.Database)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatTimeout.Std())
	// Untouched fields keep their defaults.
	assert.Equal(t, time.Second, cfg.SweepInterval.Std())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/protocol.log", cfg.Log.ProtocolFile)
	assert.True(t, cfg.Discovery.Enabled)
	assert.Equal(t, "campuseq-lab", cfg.Discovery.Instance)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad level", "log:\n  level: verbose\n"},
		{"zero timeout", "heartbeat_timeout: 0s\n"},
		{"empty listen", `listen: ""` + "\n"},
		{"not yaml", "::::\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
