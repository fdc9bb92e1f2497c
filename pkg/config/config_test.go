package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samsamfire/gocanopen-sdo/pkg/sdo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.Nil(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Nil(t, cfg.Validate())
	assert.Equal(t, DefaultInterface, cfg.Interface)
	assert.True(t, *cfg.SDO.Segmented)
	assert.True(t, *cfg.SDO.Block)
	assert.Equal(t, 127, cfg.SDO.MaxSegments)
	assert.Equal(t, 500*time.Millisecond, cfg.LockTimeout())
	assert.Equal(t, time.Second, cfg.ServerTimeout())
	assert.Equal(t, time.Millisecond, cfg.SendDelay())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
node_id: 5
interface: socketcan
channel: can0
log_level: debug
sdo:
  block: false
  max_segments: 32
  server_timeout_ms: 250
bus:
  send_attempts: 5
`)
	cfg, err := Load(path)
	require.Nil(t, err)
	assert.Equal(t, 5, cfg.NodeId)
	assert.Equal(t, "socketcan", cfg.Interface)
	assert.Equal(t, "can0", cfg.Channel)
	assert.True(t, *cfg.SDO.Segmented)
	assert.False(t, *cfg.SDO.Block)
	assert.Equal(t, 32, cfg.SDO.MaxSegments)
	assert.Equal(t, 250*time.Millisecond, cfg.ServerTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.LockTimeout())
	assert.Equal(t, 5, cfg.Bus.SendAttempts)
}

func TestServerConfig(t *testing.T) {
	assert.Equal(t, sdo.DefaultServerConfig(), Default().ServerConfig())

	cfg, err := Load(writeConfig(t, "node_id: 1\nsdo:\n  block: false\n  max_segments: 32\n  server_timeout_ms: 250"))
	require.Nil(t, err)
	server := cfg.ServerConfig()
	assert.True(t, server.Segmented)
	assert.False(t, server.Block)
	assert.EqualValues(t, 32, server.MaxSegments)
	assert.Equal(t, 250*time.Millisecond, server.Timeout)
	assert.Equal(t, sdo.DefaultLockTimeout, server.LockTimeout)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, err)

	_, err = Load(writeConfig(t, "node_id: [1"))
	assert.ErrorContains(t, err, "parse YAML")

	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"missing node id", "interface: virtual", "node_id"},
		{"node id too high", "node_id: 128", "node_id"},
		{"max segments", "node_id: 1\nsdo:\n  max_segments: 200", "max_segments"},
		{"log level", "node_id: 1\nlog_level: loud", "log_level"},
		{"negative timeout", "node_id: 1\nsdo:\n  server_timeout_ms: -1", "server_timeout_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
