package mcp

import "encoding/json"

// DefaultMaxContentBytes is the default truncation limit for rendered
// tool-call content (§4.3: "truncate to a configurable maximum length
// (default 4 KiB)").
const DefaultMaxContentBytes = 4 * 1024

const truncationMarker = "... [truncated]"

// renderContent turns a decoded call_tool response payload into the
// single-line-where-possible string the LLM sees, grounded on the same
// "one line if simple, JSON fallback, then truncate" idiom the server
// payload rendering always follows (§4.3).
func renderContent(data any, maxBytes int) string {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxContentBytes
	}

	var s string
	switch v := data.(type) {
	case nil:
		s = ""
	case string:
		s = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			s = "<unrenderable payload>"
		} else {
			s = string(raw)
		}
	}
	return truncate(s, maxBytes)
}

func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncationMarker
}
