package invocation

import (
	"fmt"
	"strings"

	"github.com/relaymind/orchestrator/pkg/result"
)

// Format renders results as the exact text spliced back into the
// conversation as an assistant-continuation fragment (§4.5). No character
// escaping is performed — content is already sanitized of nested result
// tags by the MCP Client Pool.
func Format(results []result.Result) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "<result index=\"%d\">%s</result>\n", r.Index, r.Content)
	}
	return b.String()
}
