package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern is a pre-compiled regex pattern and its replacement text.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// patternDef is the uncompiled form of a built-in pattern, kept as a plain
// literal slice rather than a loadable/configurable registry: every tool
// server behind this orchestrator gets the same baseline redaction, since
// there is no per-server masking configuration to turn it off with.
type patternDef struct {
	Name        string
	Pattern     string
	Replacement string
	Description string
}

// builtinPatterns is the fixed set of secret-shaped substrings masked out of
// every tool result before it reaches the conversation or the trajectory
// store. Ordering doesn't matter; each pattern is applied independently.
var builtinPatterns = []patternDef{
	{
		Name:        "aws_access_key",
		Pattern:     `AKIA[0-9A-Z]{16}`,
		Replacement: "[MASKED_AWS_ACCESS_KEY]",
		Description: "AWS access key ID",
	},
	{
		Name:        "aws_secret_key",
		Pattern:     `(?i)(aws_secret_access_key\s*[:=]\s*)["']?[A-Za-z0-9/+=]{40}["']?`,
		Replacement: "${1}[MASKED_AWS_SECRET_KEY]",
		Description: "AWS secret access key",
	},
	{
		Name:        "bearer_token",
		Pattern:     `(?i)bearer\s+[A-Za-z0-9\-_.]+`,
		Replacement: "Bearer [MASKED_TOKEN]",
		Description: "HTTP Authorization bearer token",
	},
	{
		Name:        "basic_auth_url",
		Pattern:     `(?i)(https?://)[^/\s:@]+:[^/\s:@]+@`,
		Replacement: "${1}[MASKED_CREDENTIALS]@",
		Description: "userinfo embedded in a URL",
	},
	{
		Name:        "jwt",
		Pattern:     `eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`,
		Replacement: "[MASKED_JWT]",
		Description: "JSON Web Token",
	},
	{
		Name:        "private_key_block",
		Pattern:     `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`,
		Replacement: "[MASKED_PRIVATE_KEY]",
		Description: "PEM private key block",
	},
	{
		Name:        "generic_api_key",
		Pattern:     `(?i)(api[_-]?key|secret|token|password|passwd)("?\s*[:=]\s*"?)[A-Za-z0-9\-_/+=]{12,}`,
		Replacement: "${1}${2}[MASKED]",
		Description: "generic key=value or key: value secret-shaped field",
	},
}

// compileBuiltinPatterns compiles builtinPatterns once at Service
// construction; a pattern that fails to compile is logged and skipped
// rather than failing the whole service.
func compileBuiltinPatterns() []*CompiledPattern {
	compiled := make([]*CompiledPattern, 0, len(builtinPatterns))
	for _, p := range builtinPatterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("failed to compile built-in masking pattern, skipping", "pattern", p.Name, "error", err)
			continue
		}
		compiled = append(compiled, &CompiledPattern{
			Name:        p.Name,
			Regex:       re,
			Replacement: p.Replacement,
			Description: p.Description,
		})
	}
	return compiled
}
