package commands

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/absfs/integrityfs"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "defaults",
			content: "root: /srv\n",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/srv", cfg.Root)
				assert.Equal(t, "xattr", cfg.Backend)
				assert.Equal(t, "md5", cfg.DefaultAlgorithm)
				assert.False(t, cfg.AlgorithmAttr)
				assert.True(t, cfg.Parallel.Enabled)
				assert.Equal(t, "WARN", cfg.Logging.Level)
			},
		},
		{
			name:    "badger",
			content: "root: /srv\nbackend: badger\nstore_dir: /var/lib/integrity\nprivileged_uids: [1000, 1001]\n",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/var/lib/integrity", cfg.StoreDir)
				assert.Equal(t, []int{1000, 1001}, cfg.PrivilegedUIDs)
			},
		},
		{
			name:    "unknown backend",
			content: "root: /srv\nbackend: nfs\n",
			wantErr: "Backend",
		},
		{
			name:    "badger without store dir",
			content: "root: /srv\nbackend: badger\n",
			wantErr: "StoreDir",
		},
		{
			name:    "bad log level",
			content: "root: /srv\nlogging:\n  level: LOUD\n",
			wantErr: "Level",
		},
		{
			name:    "negative workers",
			content: "root: /srv\nparallel:\n  workers: -1\n",
			wantErr: "Workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(viper.New(), writeConfig(t, tt.content))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("INTEGRITYCTL_BACKEND", "badger")
	t.Setenv("INTEGRITYCTL_STORE_DIR", "/tmp/attrs")
	t.Setenv("INTEGRITYCTL_LOGGING_LEVEL", "DEBUG")

	cfg, err := loadConfig(viper.New(), writeConfig(t, "root: /srv\nbackend: xattr\n"))
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Backend)
	assert.Equal(t, "/tmp/attrs", cfg.StoreDir)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(LoggingConfig{Level: "info", Format: "json"}, &buf)
	log.Debug("hidden")
	log.Info("shown", slog.String("path", "/f"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "/f", entry["path"])
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "TABLE": FormatTable, "json": FormatJSON, "yml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestPrivilegeFor(t *testing.T) {
	p := privilegeFor([]int{1000})
	assert.True(t, p.IsPrivileged(integrityfs.Root))
	assert.True(t, p.IsPrivileged(integrityfs.Caller{UID: 1000, GID: 1000}))
	assert.False(t, p.IsPrivileged(integrityfs.Caller{UID: 1001}))
}
