// Package masking redacts secret-shaped content out of MCP tool results
// before they reach the LLM conversation or the trajectory store. There is
// no per-server opt-out: every configured tool server gets the same
// baseline sweep, since the orchestrator has no visibility into what a
// given tool might echo back.
package masking

import (
	"log/slog"

	"github.com/relaymind/orchestrator/pkg/catalog"
)

// Service applies code-based structural maskers and a fixed regex sweep to
// tool result content. Created once at startup (singleton); stateless
// beyond its compiled patterns and registered maskers, so a single Service
// is shared read-only across every Session and MCP connection.
type Service struct {
	patterns    []*CompiledPattern
	codeMaskers []Masker
}

// NewService compiles the built-in regex pattern set and, when cat
// declares sensitive_resources (§6.4), registers a StructuredResourceMasker
// driven by them. cat may be nil (or declare no sensitive resources) —
// masking then falls back to the regex sweep alone.
func NewService(cat *catalog.Catalog) *Service {
	s := &Service{patterns: compileBuiltinPatterns()}

	if cat != nil {
		if rules := cat.SensitiveResources(); len(rules) > 0 {
			s.codeMaskers = append(s.codeMaskers, NewStructuredResourceMasker(rules))
		}
	}

	slog.Info("masking service initialized",
		"compiled_patterns", len(s.patterns),
		"code_maskers", len(s.codeMaskers))
	return s
}

// Mask applies every registered code-based masker, then every compiled
// regex pattern, to content. A panic from a masker (malformed payload it
// wasn't defensive enough about) is caught and the content is redacted
// outright rather than surfacing raw, unmasked data — masking fails
// closed.
func (s *Service) Mask(content string) (masked string) {
	if content == "" {
		return content
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("masking panicked, redacting content", "recovered", r)
			masked = "[REDACTED: data masking failure — tool result could not be safely processed]"
		}
	}()

	masked = content
	for _, m := range s.codeMaskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}
