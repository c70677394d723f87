package masking

// Masker is a code-based masker: structural awareness beyond a regex sweep,
// for payload shapes where masking the wrong field (or missing a nested one)
// matters more than a regex false negative would — e.g. a Kubernetes
// Secret's data keys versus a sibling ConfigMap's.
type Masker interface {
	// Name is the masker's registry key.
	Name() string

	// AppliesTo is a cheap pre-check (substring/regex, not a full parse)
	// deciding whether Mask is worth attempting.
	AppliesTo(data string) bool

	// Mask returns the masked result. Must return the input unchanged on
	// any parse or processing error — masking failures fail closed at the
	// Service level, not by panicking here.
	Mask(data string) string
}
