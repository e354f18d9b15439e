package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ApplyEnv overlays environment variables onto c. Set variables win over
// file values; empty variables are ignored.
func (c *Config) ApplyEnv() {
	envStr("LOG_LEVEL", &c.LogLevel)

	envStr("AGENTGATE_HOST", &c.Gateway.Host)
	envInt("AGENTGATE_PORT", &c.Gateway.Port)
	if secret := os.Getenv("AUTH_SECRET"); secret != "" {
		if enabled, ok := envBool("AUTH_ENABLED"); !ok || enabled {
			c.Gateway.Token = secret
		}
	}
	if enabled, ok := envBool("AUTH_ENABLED"); ok && !enabled {
		c.Gateway.Token = ""
	}

	envStr("DEFAULT_MODEL", &c.Engine.DefaultModel)
	envInt("DEFAULT_MAX_TURNS", &c.Engine.MaxTurns)
	envStr("DEFAULT_PERMISSION_MODE", &c.Engine.PermissionMode)
	envStr("WORKSPACE_PATH", &c.Engine.Workspace)
	envStr("AGENTGATE_RUNTIME", &c.Engine.Runtime)

	envStr("ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("ANTHROPIC_BASE_URL", &c.Providers.Anthropic.BaseURL)
	envStr("OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("OPENAI_BASE_URL", &c.Providers.OpenAI.BaseURL)
	envStr("GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("LITELLM_PROXY_URL", &c.Providers.LiteLLM.URL)
	envStr("LITELLM_MASTER_KEY", &c.Providers.LiteLLM.APIKey)
	if v, ok := envBool("USE_LITELLM_PROXY"); ok {
		c.Providers.LiteLLM.Enabled = v
	}

	envStr("RECIPES_SOURCE", &c.Recipes.Source)
	envStr("RECIPES_PATH", &c.Recipes.Path)
	envStr("RECIPES_URL", &c.Recipes.URL)
	envStr("RECIPES_TOKEN", &c.Recipes.Token)
	envStr("REDIS_URL", &c.Recipes.RedisURL)

	envStr("MCP_CONFIG_PATH", &c.MCP.ConfigPath)

	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
}

func envStr(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: ignoring non-numeric env", "key", key, "value", v)
		return
	}
	*dst = n
}

func envBool(key string) (value, ok bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config: ignoring non-boolean env", "key", key, "value", v)
		return false, false
	}
	return b, true
}

// LoadDotEnv loads .env from the working directory and, when given, from the
// config file's directory. Variables already set are not overwritten.
func LoadDotEnv(configPath string) error {
	paths := []string{".env"}
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(abs), ".env"))
		}
	}
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := godotenv.Load(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		slog.Debug("config: loaded .env", "path", abs)
	}
	return nil
}
