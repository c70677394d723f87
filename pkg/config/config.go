// Package config loads the orchestrator's layered configuration: built-in
// defaults, overridden by a .env file (godotenv) expanded into the YAML
// document, overridden finally by orchestrator.yaml itself — the same
// defaults-then-YAML layering the teacher's loader uses, simplified to the
// single MCP-server/LLM-provider/runtime surface this orchestrator needs.
package config

import (
	"path/filepath"

	"github.com/relaymind/orchestrator/pkg/catalog"
)

// Config is the umbrella configuration object returned by Initialize and
// used to wire the Runtime Controller, MCP Pool, LLM client, and
// Trajectory Writer.
type Config struct {
	configDir string

	MCPServerRegistry *MCPServerRegistry
	LLMProvider       LLMProviderConfig
	Runtime           *RuntimeConfig
	Trajectory        *TrajectoryConfig
	SessionDefaults   *SessionDefaults

	// CatalogPath is where the tool catalog document (§6.4) lives,
	// resolved relative to configDir unless absolute.
	CatalogPath string
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string { return c.configDir }

// GetMCPServer retrieves an MCP server configuration by name.
func (c *Config) GetMCPServer(name string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(name)
}

// ResolvedCatalogPath returns CatalogPath joined against configDir when it
// isn't already absolute.
func (c *Config) ResolvedCatalogPath() string {
	if filepath.IsAbs(c.CatalogPath) {
		return c.CatalogPath
	}
	return filepath.Join(c.configDir, c.CatalogPath)
}

// LoadCatalog loads and compiles the tool catalog this Config points at.
func (c *Config) LoadCatalog() (*catalog.Catalog, error) {
	return catalog.Load(c.ResolvedCatalogPath())
}
