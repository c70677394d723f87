package config

import (
	"fmt"
	"net/url"
)

// Validator validates configuration comprehensively with clear error
// messages, fail-fast at the first problem — the same shape the teacher
// uses, trimmed to this orchestrator's surface (MCP servers, LLM provider,
// runtime, trajectory, session defaults).
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation.
func (v *Validator) ValidateAll() error {
	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}
	if err := v.validateLLMProvider(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}
	if err := v.validateRuntime(); err != nil {
		return fmt.Errorf("runtime validation failed: %w", err)
	}
	if err := v.validateSessionDefaults(); err != nil {
		return fmt.Errorf("session defaults validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateMCPServers() error {
	for name, sc := range v.cfg.MCPServerRegistry.GetAll() {
		if sc.URL == "" {
			return fmt.Errorf("server %q: url is required", name)
		}
		u, err := url.Parse(sc.URL)
		if err != nil {
			return fmt.Errorf("server %q: invalid url %q: %w", name, sc.URL, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("server %q: url scheme must be ws or wss, got %q", name, u.Scheme)
		}
		if sc.MaxContentBytes < 0 {
			return fmt.Errorf("server %q: max_content_bytes must be non-negative, got %d", name, sc.MaxContentBytes)
		}
		if sc.RatePerSecond < 0 || sc.RateBurst < 0 {
			return fmt.Errorf("server %q: rate_per_second/rate_burst must be non-negative", name)
		}
	}
	return nil
}

func (v *Validator) validateLLMProvider() error {
	p := v.cfg.LLMProvider
	if p.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if p.Provider != "anthropic" {
		return fmt.Errorf("unsupported provider %q (only \"anthropic\" is implemented)", p.Provider)
	}
	if p.Model == "" {
		return fmt.Errorf("model is required")
	}
	if p.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative, got %d", p.MaxTokens)
	}
	return nil
}

func (v *Validator) validateRuntime() error {
	r := v.cfg.Runtime
	if r.WorkerCount < 1 || r.WorkerCount > 64 {
		return fmt.Errorf("worker_count must be between 1 and 64, got %d", r.WorkerCount)
	}
	if r.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown_grace must be positive, got %v", r.ShutdownGrace)
	}
	if r.MaxPerCall <= 0 {
		return fmt.Errorf("max_per_call must be positive, got %v", r.MaxPerCall)
	}
	if r.AggregateCap <= 0 {
		return fmt.Errorf("aggregate_cap must be positive, got %v", r.AggregateCap)
	}
	return nil
}

func (v *Validator) validateSessionDefaults() error {
	d := v.cfg.SessionDefaults
	if d.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be at least 1, got %d", d.MaxSteps)
	}
	if d.TimeoutS < 0 {
		return fmt.Errorf("timeout_s must be non-negative, got %d", d.TimeoutS)
	}
	if d.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative, got %d", d.MaxTokens)
	}
	return nil
}
