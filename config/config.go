package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/BurntSushi/toml"
)

// LLMConfig holds the model gateway settings. The gateway is any
// OpenAI-compatible endpoint (LiteLLM, Azure OpenAI) unless Provider selects
// the Anthropic or Ollama backends instead.
type LLMConfig struct {
	Provider   string `toml:"provider"`
	BaseURL    string `toml:"base_url"`
	APIKey     string `toml:"api_key"`
	APIVersion string `toml:"api_version"`
	Model      string `toml:"model"`
}

type Config struct {
	ListenAddr         string    `toml:"listen_addr"`
	Environment        string    `toml:"environment"`
	DatabaseURL        string    `toml:"database_url"`
	AggregatorProvider string    `toml:"aggregator_provider"`
	MCPServersFile     string    `toml:"mcp_servers_file"`
	LLM                LLMConfig `toml:"llm"`
}

const defaultSettingsFile = "settings.toml"

// Load builds the configuration from an optional settings.toml overlaid
// with environment variables. A missing settings file is not an error;
// a malformed one is.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         ":4321",
		Environment:        "production",
		AggregatorProvider: "Caddy",
		MCPServersFile:     ".mcp-servers.yaml",
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "o4-mini",
		},
	}

	path := os.Getenv("GOVCHAT_SETTINGS")
	if path == "" {
		path = defaultSettingsFile
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = postgresURLFromEnv(cfg.Environment)
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("GOVCHAT_LISTEN_ADDR"); addr != "" {
		c.ListenAddr = addr
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		c.Environment = env
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.DatabaseURL = dsn
	}
	if name := os.Getenv("GOVCHAT_AGGREGATOR"); name != "" {
		c.AggregatorProvider = name
	}
	if file := os.Getenv("GOVCHAT_MCP_SERVERS_FILE"); file != "" {
		c.MCPServersFile = file
	}
	if gw := os.Getenv("LLM_GATEWAY_URL"); gw != "" {
		c.LLM.BaseURL = gw
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if ver := os.Getenv("OPENAI_API_VERSION"); ver != "" {
		c.LLM.APIVersion = ver
	}
	if m := os.Getenv("LLM_MODEL"); m != "" {
		c.LLM.Model = m
	}
	if p := os.Getenv("LLM_PROVIDER"); p != "" {
		c.LLM.Provider = p
	}
}

// IsLocal reports whether the server runs outside the authenticating
// gateway, in which case a fixed test identity is used.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// postgresURLFromEnv assembles a connection string from the discrete
// POSTGRES_* variables the deployment environment provides. Returns empty
// when no host is configured.
func postgresURLFromEnv(environment string) string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}

	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}

	sslMode := "require"
	if environment == "local" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD")),
		Host:   host + ":" + port,
		Path:   "/" + os.Getenv("POSTGRES_DB"),
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()

	return u.String()
}
