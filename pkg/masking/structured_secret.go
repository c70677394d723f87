package masking

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/relaymind/orchestrator/pkg/catalog"
)

// MaskedSecretValue is the replacement string for masked structured-field
// values.
const MaskedSecretValue = "[MASKED_SECRET_DATA]"

// StructuredResourceMasker masks declared fields of structured (YAML or
// JSON) tool responses whose discriminator field matches one of a rule's
// KindValues — e.g. a Kubernetes manifest's "kind: Secret" — while leaving
// every other document shape untouched. The rule set comes from the
// catalog (§6.4 sensitive_resources), not a hardcoded field list, so the
// fields masked and the resources they apply to are a property of the
// deployment's tool servers, not of this package.
type StructuredResourceMasker struct {
	rules []catalog.SensitiveResource
}

// NewStructuredResourceMasker builds a masker from the catalog's declared
// sensitive-resource rules. Rules with no KindField/KindValues are
// skipped — they can't discriminate anything.
func NewStructuredResourceMasker(rules []catalog.SensitiveResource) *StructuredResourceMasker {
	filtered := make([]catalog.SensitiveResource, 0, len(rules))
	for _, r := range rules {
		if r.KindField == "" || len(r.KindValues) == 0 || len(r.Fields) == 0 {
			continue
		}
		filtered = append(filtered, r)
	}
	return &StructuredResourceMasker{rules: filtered}
}

// Name is this masker's registry key.
func (m *StructuredResourceMasker) Name() string { return "structured_resource" }

// AppliesTo performs a lightweight substring check before the full
// parse-and-match pass: every rule's kind values are scanned for as plain
// substrings so a document with no chance of matching is skipped cheaply.
func (m *StructuredResourceMasker) AppliesTo(data string) bool {
	for _, r := range m.rules {
		for _, v := range r.KindValues {
			if strings.Contains(data, v) {
				return true
			}
		}
	}
	return false
}

// Mask applies every matching rule's field masking. Detects JSON vs YAML
// and applies the appropriate parser; returns the original data unchanged
// on parse or processing errors (defensive — masking never corrupts
// content it can't confidently handle).
func (m *StructuredResourceMasker) Mask(data string) string {
	if len(m.rules) == 0 {
		return data
	}
	trimmed := strings.TrimSpace(data)

	// Try JSON first when input looks like JSON (starts with { or [); this
	// prevents the YAML parser from consuming JSON and re-serializing it
	// as YAML.
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if masked := m.maskJSON(data); masked != data {
			return masked
		}
	}

	if masked := m.maskYAML(data); masked != data {
		return masked
	}
	return data
}

func (m *StructuredResourceMasker) matchRule(doc map[string]any) *catalog.SensitiveResource {
	for i, r := range m.rules {
		kind, ok := doc[r.KindField].(string)
		if !ok {
			continue
		}
		for _, v := range r.KindValues {
			if kind == v {
				return &m.rules[i]
			}
		}
	}
	return nil
}

func (m *StructuredResourceMasker) matchListRule(doc map[string]any) *catalog.SensitiveResource {
	for i, r := range m.rules {
		field := r.ListKindField
		if field == "" {
			field = r.KindField
		}
		kind, ok := doc[field].(string)
		if !ok {
			continue
		}
		if kind == "List" || strings.HasSuffix(kind, "List") {
			return &m.rules[i]
		}
	}
	return nil
}

// maskYAML parses multi-document YAML and masks resources matching a rule.
func (m *StructuredResourceMasker) maskYAML(data string) string {
	decoder := yaml.NewDecoder(strings.NewReader(data))
	var documents []map[string]any
	anyMasked := false

	for {
		var doc map[string]any
		err := decoder.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return data // parse error — return original (defensive)
		}
		if doc == nil {
			continue
		}

		if r := m.matchRule(doc); r != nil {
			maskFields(doc, *r)
			anyMasked = true
		} else if r := m.matchListRule(doc); r != nil {
			if m.maskListItems(doc) {
				anyMasked = true
			}
		}
		documents = append(documents, doc)
	}

	if !anyMasked || len(documents) == 0 {
		return data
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	for _, doc := range documents {
		if err := encoder.Encode(doc); err != nil {
			return data
		}
	}
	if err := encoder.Close(); err != nil {
		return data
	}

	result := strings.TrimRight(buf.String(), "\n")
	if strings.HasSuffix(data, "\n") {
		result += "\n"
	}
	return result
}

// maskJSON parses a JSON object and masks it if it matches a rule.
func (m *StructuredResourceMasker) maskJSON(data string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return data
	}

	anyMasked := false
	if r := m.matchRule(obj); r != nil {
		maskFields(obj, *r)
		anyMasked = true
	} else if r := m.matchListRule(obj); r != nil {
		if m.maskListItems(obj) {
			anyMasked = true
		}
	}
	if !anyMasked {
		return data
	}

	result, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return data
	}
	output := string(result)
	if strings.HasSuffix(data, "\n") {
		output += "\n"
	}
	return output
}

// maskListItems masks matching items within a List-shaped document
// (works for both YAML- and JSON-decoded maps; []any either way).
func (m *StructuredResourceMasker) maskListItems(doc map[string]any) bool {
	items, ok := doc["items"]
	if !ok {
		return false
	}
	itemList, ok := items.([]any)
	if !ok {
		return false
	}

	anyMasked := false
	for _, item := range itemList {
		itemMap, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if r := m.matchRule(itemMap); r != nil {
			maskFields(itemMap, *r)
			anyMasked = true
		}
	}
	return anyMasked
}

// maskFields replaces the values of r.Fields (and, if r.ScanAnnotation is
// set, any matching embedded-JSON annotation) on resource with the masked
// placeholder.
func maskFields(resource map[string]any, r catalog.SensitiveResource) {
	for _, field := range r.Fields {
		fieldVal, ok := resource[field]
		if !ok {
			continue
		}
		dataMap, ok := fieldVal.(map[string]any)
		if !ok {
			continue
		}
		for key := range dataMap {
			dataMap[key] = MaskedSecretValue
		}
	}

	if r.ScanAnnotation != "" {
		maskAnnotation(resource, r)
	}
}

// maskAnnotation checks metadata.annotations[r.ScanAnnotation] (and any
// other annotation whose value looks like embedded JSON for this kind)
// for an embedded copy of the resource — e.g.
// kubectl.kubernetes.io/last-applied-configuration — and masks it too.
func maskAnnotation(resource map[string]any, r catalog.SensitiveResource) {
	metadata, ok := resource["metadata"].(map[string]any)
	if !ok {
		return
	}
	annotations, ok := metadata["annotations"].(map[string]any)
	if !ok {
		return
	}

	for key, val := range annotations {
		strVal, ok := val.(string)
		if !ok {
			continue
		}
		matchesKind := false
		for _, v := range r.KindValues {
			if strings.Contains(strVal, v) {
				matchesKind = true
				break
			}
		}
		if !matchesKind {
			continue
		}

		var embedded map[string]any
		if err := json.Unmarshal([]byte(strVal), &embedded); err != nil {
			continue
		}
		kind, _ := embedded[r.KindField].(string)
		matched := false
		for _, v := range r.KindValues {
			if kind == v {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		for _, field := range r.Fields {
			fieldVal, ok := embedded[field]
			if !ok {
				continue
			}
			dataMap, ok := fieldVal.(map[string]any)
			if !ok {
				continue
			}
			for k := range dataMap {
				dataMap[k] = MaskedSecretValue
			}
		}
		masked, err := json.Marshal(embedded)
		if err != nil {
			continue
		}
		annotations[key] = string(masked)
	}
}
