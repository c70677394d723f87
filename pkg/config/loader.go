package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// orchestratorYAMLConfig is the on-disk shape of orchestrator.yaml.
type orchestratorYAMLConfig struct {
	MCPServers      map[string]MCPServerConfig `yaml:"mcp_servers"`
	LLMProvider     LLMProviderConfig          `yaml:"llm_provider"`
	Runtime         *RuntimeConfig             `yaml:"runtime"`
	Trajectory      *TrajectoryConfig          `yaml:"trajectory"`
	SessionDefaults *SessionDefaults           `yaml:"session_defaults"`
	CatalogPath     string                     `yaml:"catalog_path"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Layers, lowest to highest precedence: built-in defaults, a ".env" file
// in configDir (loaded via godotenv, never overriding already-set process
// env vars), then orchestrator.yaml itself with ${VAR} environment
// expansion applied before parsing.
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to load .env file", "path", envPath, "error", err)
	}

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized", "mcp_servers", len(cfg.MCPServerRegistry.GetAll()))
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	var doc orchestratorYAMLConfig
	if err := loadYAML(configDir, "orchestrator.yaml", &doc); err != nil {
		return nil, NewLoadError("orchestrator.yaml", err)
	}

	runtime := DefaultRuntimeConfig()
	if doc.Runtime != nil {
		if err := mergo.Merge(runtime, doc.Runtime, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge runtime config: %w", err)
		}
	}

	trajectory := DefaultTrajectoryConfig()
	if doc.Trajectory != nil {
		if err := mergo.Merge(trajectory, doc.Trajectory, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge trajectory config: %w", err)
		}
	}

	sessionDefaults := DefaultSessionDefaults()
	if doc.SessionDefaults != nil {
		if err := mergo.Merge(sessionDefaults, doc.SessionDefaults, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge session defaults: %w", err)
		}
	}

	servers := make(map[string]*MCPServerConfig, len(doc.MCPServers))
	for name, sc := range doc.MCPServers {
		sc := sc
		servers[name] = &sc
	}

	catalogPath := doc.CatalogPath
	if catalogPath == "" {
		catalogPath = "catalog.yaml"
	}

	return &Config{
		configDir:         configDir,
		MCPServerRegistry: NewMCPServerRegistry(servers),
		LLMProvider:       doc.LLMProvider,
		Runtime:           runtime,
		Trajectory:        trajectory,
		SessionDefaults:   sessionDefaults,
		CatalogPath:       catalogPath,
	}, nil
}

func loadYAML(configDir, filename string, target any) error {
	path := filepath.Join(configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}
