package mcp

import (
	"encoding/json"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// serverList matches both the MCP_SERVERS env var document and the YAML
// fallback file: {"servers": [...]}.
type serverList struct {
	Servers []ToolProvider `json:"servers" yaml:"servers"`
}

// LoadProviders reads the configured tool providers from the MCP_SERVERS
// environment variable, falling back to the YAML declaration at path. It
// fails soft: configuration problems are logged and yield an empty list,
// never an error, so a misconfigured deployment degrades to a plain chat.
func LoadProviders(path string, logger *slog.Logger) []ToolProvider {
	if raw := os.Getenv("MCP_SERVERS"); raw != "" {
		var list serverList
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			logger.Error("MCP_SERVERS env var is invalid JSON", "error", err)
		} else if list.Servers == nil {
			logger.Error(`MCP_SERVERS env var needs to be in this format: {"servers":[]}`)
		} else {
			return list.Servers
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("missing or invalid MCP servers file - no MCP servers have been added",
			"path", path, "error", err)
		return nil
	}

	var list serverList
	if err := yaml.Unmarshal(data, &list); err != nil {
		logger.Error("failed to parse MCP servers file", "path", path, "error", err)
		return nil
	}

	return list.Servers
}
