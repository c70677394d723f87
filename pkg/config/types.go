package config

import "time"

// RuntimeConfig controls the Runtime Controller's worker pool and
// shutdown behavior (§4.9).
type RuntimeConfig struct {
	WorkerCount   int           `yaml:"worker_count"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	MaxPerCall    time.Duration `yaml:"max_per_call"`
	AggregateCap  time.Duration `yaml:"aggregate_cap"`
}

// DefaultRuntimeConfig returns the built-in runtime defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		WorkerCount:   4,
		ShutdownGrace: 30 * time.Second,
		MaxPerCall:    60 * time.Second,
		AggregateCap:  120 * time.Second,
	}
}

// TrajectoryConfig controls where and how the Trajectory Writer persists
// its JSONL artifacts (§4.7, §6.5).
type TrajectoryConfig struct {
	BaseDir  string `yaml:"base_dir"`
	Grouping string `yaml:"grouping"` // "daily" | "weekly" | "monthly"
}

// DefaultTrajectoryConfig returns the built-in trajectory defaults.
func DefaultTrajectoryConfig() *TrajectoryConfig {
	return &TrajectoryConfig{BaseDir: "./trajectories", Grouping: "daily"}
}

// SessionDefaults applies to a task.Spec that doesn't set its own budget
// fields (§4.6).
type SessionDefaults struct {
	MaxSteps  int `yaml:"max_steps"`
	MaxTokens int `yaml:"max_tokens,omitempty"`
	TimeoutS  int `yaml:"timeout_s"`
}

// DefaultSessionDefaults returns the built-in session budget defaults.
func DefaultSessionDefaults() *SessionDefaults {
	return &SessionDefaults{MaxSteps: 10, TimeoutS: 300}
}

// LLMProviderConfig describes the single LLM backend the orchestrator
// talks to (§6.2).
type LLMProviderConfig struct {
	Provider  string `yaml:"provider"` // only "anthropic" is implemented
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"` // defaults to ANTHROPIC_API_KEY
}
