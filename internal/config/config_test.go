package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCoordinatorLegacy(t *testing.T) {
	path := writeFile(t, "coordinator.conf", "9000\n5\n")

	cfg, err := LoadCoordinator(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.ListenPort)
	assert.Equal(t, 5, cfg.PersistenceTime)
	assert.Equal(t, 5*time.Second, cfg.Persistence())
	assert.Equal(t, DefaultMaxConnections, cfg.MaxConnections)
	assert.Equal(t, DefaultDeliveryTimeout, cfg.DeliveryTimeout)
	assert.Equal(t, uint32(DefaultMaxBodySize), cfg.MaxBodySize)
}

func TestLoadCoordinatorMalformed(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"one line", "c.conf", "9000\n"},
		{"not a number", "c.conf", "ninety\n5\n"},
		{"port out of range", "c.conf", "70000\n5\n"},
		{"negative persistence", "c.conf", "9000\n-1\n"},
		{"bad yaml", "c.yaml", "listen_port: [1, 2\n"},
		{"yaml missing port", "c.yaml", "persistence_time: 3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCoordinator(writeFile(t, tt.file, tt.content))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCoordinator(filepath.Join(t.TempDir(), "nope.conf"))
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestLoadCoordinatorYAML(t *testing.T) {
	path := writeFile(t, "coordinator.yaml", `
listen_port: 9100
persistence_time: 30
admin_addr: 127.0.0.1:9101
max_connections: 8
accept_rate: 50
delivery_timeout: 2s
sweep_interval: 0s
log_level: debug
`)

	cfg, err := LoadCoordinator(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.ListenPort)
	assert.Equal(t, 30*time.Second, cfg.Persistence())
	assert.Equal(t, "127.0.0.1:9101", cfg.AdminAddr)
	assert.Equal(t, 8, cfg.MaxConnections)
	assert.Equal(t, 50.0, cfg.AcceptRate)
	assert.Equal(t, 2*time.Second, cfg.DeliveryTimeout)
	assert.Equal(t, time.Duration(0), cfg.SweepInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	// untouched fields keep defaults
	assert.Equal(t, uint32(DefaultMaxBodySize), cfg.MaxBodySize)
}

func TestLoadCoordinatorEnvOverrides(t *testing.T) {
	t.Setenv("RELAY_ADMIN_ADDR", ":7777")
	t.Setenv("RELAY_LOG_LEVEL", "warn")

	cfg, err := LoadCoordinator(writeFile(t, "c.conf", "9000\n5\n"))
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.AdminAddr)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadParticipantLegacy(t *testing.T) {
	path := writeFile(t, "participant.conf", "3\n/tmp/p3.log\n\nlocalhost 9000\n")

	cfg, err := LoadParticipant(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.PID)
	assert.Equal(t, "/tmp/p3.log", cfg.LogFile)
	assert.Equal(t, "localhost", cfg.CoordinatorHost)
	assert.Equal(t, 9000, cfg.CoordinatorPort)
	assert.Equal(t, "localhost:9000", cfg.CoordinatorAddr())
}

func TestLoadParticipantYAML(t *testing.T) {
	path := writeFile(t, "participant.yml", `
pid: 12
log_file: out.log
coordinator_host: 10.0.0.5
coordinator_port: 9000
admin_addr: 10.0.0.5:9090
`)

	cfg, err := LoadParticipant(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.PID)
	assert.Equal(t, "10.0.0.5:9000", cfg.CoordinatorAddr())
	assert.Equal(t, "10.0.0.5:9090", cfg.AdminAddr)
}

func TestLoadParticipantEnvOverrides(t *testing.T) {
	t.Setenv("RELAY_ADMIN_ADDR", "localhost:9090")
	t.Setenv("RELAY_LOG_LEVEL", "debug")

	cfg, err := LoadParticipant(writeFile(t, "p.conf", "3\nlog\nlocalhost 9000\n"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:9090", cfg.AdminAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadParticipantMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"two lines", "3\nlog\n"},
		{"pid zero", "0\nlog\nlocalhost 9000\n"},
		{"pid too large", "70000\nlog\nlocalhost 9000\n"},
		{"host only", "3\nlog\nlocalhost\n"},
		{"bad port", "3\nlog\nlocalhost nine\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadParticipant(writeFile(t, "p.conf", tt.content))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
