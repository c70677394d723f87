// Package result defines Result, the product of one tool execution. It is
// deliberately dependency-free so both the MCP Client Pool and the
// Invocation Executor can produce it without an import cycle.
package result

// Status enumerates the outcomes a single tool call can resolve to (§3,
// §7).
type Status string

const (
	StatusSuccess        Status = "success"
	StatusToolError      Status = "tool_error"
	StatusTimeout        Status = "timeout"
	StatusTransportError Status = "transport_error"
	StatusCancelled      Status = "cancelled"
	StatusParseError     Status = "parse_error"
)

// Result is the product of one tool execution (§3). Content has already
// been rendered (and truncated) for prompt injection; Raw is the opaque,
// untruncated server payload kept only for the trajectory.
type Result struct {
	Index      int    `json:"index"`
	Status     Status `json:"status"`
	Content    string `json:"content"`
	Raw        any    `json:"raw,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Success reports whether the result can feed a placeholder substitution
// (§4.4 Sequential semantics: only a success result may be referenced by a
// later sibling).
func (r Result) Success() bool { return r.Status == StatusSuccess }
