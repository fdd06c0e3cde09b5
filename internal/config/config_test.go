// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/rdwatch/internal/domain"
)

func TestDatabasePathResolution(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, tmpDir string) (configPath string, envDataDir string, expectedDBPath string)
	}{
		{
			name: "default_next_to_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configPath := filepath.Join(tmpDir, "config.toml")
				content := "host = \"localhost\"\nport = 8080\n"
				require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
				return configPath, "", filepath.Join(tmpDir, "rdwatch.db")
			},
		},
		{
			name: "explicit_data_dir_in_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configPath := filepath.Join(tmpDir, "config.toml")
				dataDir := filepath.Join(tmpDir, "data")
				require.NoError(t, os.MkdirAll(dataDir, 0o755))
				content := fmt.Sprintf("host = \"localhost\"\nport = 8080\ndataDir = %q\n", dataDir)
				require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
				return configPath, "", filepath.Join(dataDir, "rdwatch.db")
			},
		},
		{
			name: "env_var_override",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configPath := filepath.Join(tmpDir, "config.toml")
				configDataDir := filepath.Join(tmpDir, "config-data")
				envDataDir := filepath.Join(tmpDir, "env-data")
				require.NoError(t, os.MkdirAll(configDataDir, 0o755))
				require.NoError(t, os.MkdirAll(envDataDir, 0o755))
				content := fmt.Sprintf("host = \"localhost\"\nport = 8080\ndataDir = %q\n", configDataDir)
				require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
				return configPath, envDataDir, filepath.Join(envDataDir, "rdwatch.db")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath, envValue, expectedDBPath := tt.prepare(t, tmpDir)
			if envValue != "" {
				t.Setenv(envPrefix+"DATA_DIR", envValue)
			}

			cfg, err := New(configPath)
			require.NoError(t, err)

			assert.Equal(t, filepath.Clean(expectedDBPath), filepath.Clean(cfg.GetDatabasePath()))
		})
	}
}

func TestConfigDirResolution(t *testing.T) {
	tests := []struct {
		name           string
		input          string
		setupFile      bool
		fileIsDir      bool
		expectedSuffix string
	}{
		{name: "toml_file_extension", input: "/path/to/custom.toml", expectedSuffix: "custom.toml"},
		{name: "TOML_file_extension_uppercase", input: "/path/to/CONFIG.TOML", expectedSuffix: "CONFIG.TOML"},
		{name: "directory_path", input: "/path/to/config", expectedSuffix: "config.toml"},
		{name: "existing_file_without_toml", input: "/path/to/configfile", setupFile: true, expectedSuffix: "configfile"},
		{name: "existing_directory", input: "/path/to/configdir", setupFile: true, fileIsDir: true, expectedSuffix: "config.toml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			inputPath := filepath.Join(tmpDir, filepath.Base(tt.input))

			if tt.setupFile {
				if tt.fileIsDir {
					require.NoError(t, os.MkdirAll(inputPath, 0o755))
				} else {
					require.NoError(t, os.WriteFile(inputPath, []byte("test"), 0o644))
				}
			}

			c := &AppConfig{}
			result := c.resolveConfigPath(inputPath)
			assert.True(t, strings.HasSuffix(result, tt.expectedSuffix),
				"Expected result %s to end with %s", result, tt.expectedSuffix)
		})
	}
}

func TestNewWritesDefaultConfigWhenMissing(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := New(configPath)
	require.NoError(t, err)

	_, err = os.Stat(configPath)
	require.NoError(t, err)

	assert.Equal(t, 7480, cfg.Config.Port)
	assert.Equal(t, defaultAPIBaseURL, cfg.Config.APIBaseURL)
	assert.Equal(t, 5*time.Second, cfg.Config.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Config.PruneAfter)
	assert.Equal(t, 100, cfg.Config.PageSize)
	assert.False(t, cfg.Config.HasAPIToken())
}

func TestNewParsesTrackerDurations(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := "pollInterval = \"2s\"\npruneAfter = \"1m\"\npageSize = 25\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := New(configPath)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Config.PollInterval)
	assert.Equal(t, time.Minute, cfg.Config.PruneAfter)
	assert.Equal(t, 25, cfg.Config.PageSize)
}

func TestBindOrReadFromFile(t *testing.T) {
	tmpKeyFile := func(t *testing.T, tmpDir string) string {
		path := filepath.Join(tmpDir, "token.txt")
		require.NoError(t, os.WriteFile(path, []byte("token-from-file\n"), 0o600))
		return path
	}

	noKeyFile := func(t *testing.T, tmpDir string) string {
		return ""
	}

	tests := []struct {
		name          string
		envVarValue   string
		envVarFile    func(t *testing.T, tmpDir string) string
		expectedValue string
	}{
		{name: "only_file_env_var", envVarFile: tmpKeyFile, expectedValue: "token-from-file"},
		{name: "only_plain_env_var", envVarValue: "token-from-env", envVarFile: noKeyFile, expectedValue: "token-from-env"},
		{name: "file_wins_over_plain", envVarValue: "token-from-env", envVarFile: tmpKeyFile, expectedValue: "token-from-file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envVar := envPrefix + "API_TOKEN"

			if tt.envVarValue != "" {
				t.Setenv(envVar, tt.envVarValue)
			}

			if path := tt.envVarFile(t, t.TempDir()); path != "" {
				t.Setenv(envVar+"_FILE", path)
			}

			configPath := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(configPath, []byte("host = \"localhost\"\n"), 0o644))

			cfg, err := New(configPath)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedValue, cfg.Config.APIToken)
		})
	}
}

func TestBindOrReadFromFileMissingFile(t *testing.T) {
	t.Setenv(envPrefix+"API_TOKEN_FILE", filepath.Join(t.TempDir(), "missing"))

	configPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("host = \"localhost\"\n"), 0o644))

	_, err := New(configPath)
	require.Error(t, err)
}

func TestSetAPITokenPersists(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("host = \"localhost\"\nport = 8080\n"), 0o644))

	cfg, err := New(configPath)
	require.NoError(t, err)
	require.NoError(t, cfg.SetAPIToken("  secret-token  "))

	reloaded, err := New(configPath)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", reloaded.Config.APIToken)
	assert.Equal(t, 8080, reloaded.Config.Port)
}

func TestReloadListenersReceiveCopy(t *testing.T) {
	c := &AppConfig{Config: &domain.Config{Port: 1234}, version: "dev"}

	var got *domain.Config
	c.RegisterReloadListener(func(cfg *domain.Config) {
		got = cfg
		cfg.Port = 9999
	})

	c.notifyListeners()

	require.NotNil(t, got)
	assert.Equal(t, 9999, got.Port)
	assert.Equal(t, 1234, c.Config.Port)
}
