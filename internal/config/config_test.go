package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func noFile(string) ([]byte, error) { return nil, os.ErrNotExist }

func TestLoad(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	t.Run("Agent defaults", func(t *testing.T) {
		t.Setenv("HMAC_SECRET", "s3cr3t")

		cfg, err := Load(SideAgent)
		require.NoError(t, err)
		assert.Equal(t, SideAgent, cfg.Side)
		assert.Equal(t, 3001, cfg.HTTP.Port)
		assert.Equal(t, "http://localhost:3000", cfg.ToolService.BaseURL)
		assert.Equal(t, 10*time.Second, cfg.ToolService.Timeout)
		assert.Equal(t, "gpt-3.5-turbo", cfg.LLM.Model)
		assert.Equal(t, 5*time.Minute, cfg.Auth.ReplayWindow)
		assert.False(t, cfg.Auth.ReplayCache)
		assert.Equal(t, "memory", cfg.Ledger.Driver)
		assert.Equal(t, 30*time.Second, cfg.Ledger.PendingTTL)
		assert.Equal(t, 2112, cfg.Metrics.Port)
		assert.Equal(t, "s3cr3t", cfg.Secrets.HMACSecret)
	})

	t.Run("Tool side defaults", func(t *testing.T) {
		cfg, err := Load(SideTool)
		require.NoError(t, err)
		assert.Equal(t, 3000, cfg.HTTP.Port)
		assert.Equal(t, 2113, cfg.Metrics.Port)
		assert.Equal(t, "leadflow-toolserver", cfg.Tracing.ServiceName)
	})

	t.Run("Agent without secret", func(t *testing.T) {
		t.Setenv("HMAC_SECRET", "")
		_, err := Load(SideAgent)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfig))
	})

	t.Run("Legacy environment names", func(t *testing.T) {
		t.Setenv("HMAC_SECRET", "s3cr3t")
		t.Setenv("MCP_SERVER_URL", "http://tools:3000")
		t.Setenv("PORT", "8088")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load(SideAgent)
		require.NoError(t, err)
		assert.Equal(t, "http://tools:3000", cfg.ToolService.BaseURL)
		assert.Equal(t, 8088, cfg.HTTP.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("Prefixed environment names", func(t *testing.T) {
		t.Setenv("HMAC_SECRET", "s3cr3t")
		t.Setenv("LEADFLOW_LLM_MAX_TOOL_ROUNDS", "2")

		cfg, err := Load(SideAgent)
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.LLM.MaxToolRounds)
	})

	t.Run("Unknown ledger driver", func(t *testing.T) {
		t.Setenv("LEDGER_DRIVER", "mongo")
		_, err := Load(SideTool)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfig))
	})
}

func TestLoadOverridesApplyBeforeValidation(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("HMAC_SECRET", "")

	cfg, err := Load(SideAgent, func(c *Config) {
		c.Secrets.HMACSecret = "from-flag"
		c.ToolService.BaseURL = "http://flag-tools:3000"
	})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Secrets.HMACSecret)
	assert.Equal(t, "http://flag-tools:3000", cfg.ToolService.BaseURL)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leadflow.yaml")
	yaml := []byte("tool_service:\n  base_url: http://file-tools:3000\n  timeout: 3s\nauth:\n  replay_cache: true\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("HMAC_SECRET", "s3cr3t")

	cfg, err := Load(SideAgent)
	require.NoError(t, err)
	assert.Equal(t, "http://file-tools:3000", cfg.ToolService.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.ToolService.Timeout)
	assert.True(t, cfg.Auth.ReplayCache)
}

func TestResolveSecrets(t *testing.T) {
	t.Run("ZAPIER_CONFIG wins", func(t *testing.T) {
		s, err := ResolveSecrets(envMap(map[string]string{
			"ZAPIER_CONFIG": `{"webhookUrl":"https://hooks.example/1","hmacSecret":"from-json"}`,
			"HMAC_SECRET":   "from-env",
		}), noFile)
		require.NoError(t, err)
		assert.Equal(t, "from-json", s.HMACSecret)
		assert.Equal(t, "https://hooks.example/1", s.WebhookURL)
		assert.Equal(t, "from-json", s.WebhookSecret)
		assert.True(t, s.HasWebhook())
	})

	t.Run("Secrets file", func(t *testing.T) {
		s, err := ResolveSecrets(envMap(map[string]string{"SECRETS_FILE": "/run/secrets/zapier"}),
			func(path string) ([]byte, error) {
				assert.Equal(t, "/run/secrets/zapier", path)
				return []byte(`{"hmacSecret":"from-file"}`), nil
			})
		require.NoError(t, err)
		assert.Equal(t, "from-file", s.HMACSecret)
		assert.False(t, s.HasWebhook())
	})

	t.Run("Discrete variables", func(t *testing.T) {
		s, err := ResolveSecrets(envMap(map[string]string{
			"HMAC_SECRET":        "inbound",
			"ZAPIER_WEBHOOK_URL": "https://hooks.example/2",
			"ZAPIER_HMAC_SECRET": "outbound",
		}), noFile)
		require.NoError(t, err)
		assert.Equal(t, "inbound", s.HMACSecret)
		assert.Equal(t, "https://hooks.example/2", s.WebhookURL)
		assert.Equal(t, "outbound", s.WebhookSecret)
	})

	t.Run("Malformed JSON", func(t *testing.T) {
		_, err := ResolveSecrets(envMap(map[string]string{"ZAPIER_CONFIG": "{not json"}), noFile)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfig))
	})

	t.Run("Nothing configured", func(t *testing.T) {
		s, err := ResolveSecrets(envMap(nil), noFile)
		require.NoError(t, err)
		assert.Empty(t, s.HMACSecret)
		assert.False(t, s.HasWebhook())
	})
}

func TestSecretsStringRedacts(t *testing.T) {
	s := Secrets{HMACSecret: "s3cr3t", WebhookURL: "https://hooks.example/x"}
	out := s.String()
	assert.NotContains(t, out, "s3cr3t")
	assert.NotContains(t, out, "hooks.example")
	assert.Contains(t, out, "<unset>")
}
