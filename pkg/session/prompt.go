package session

import (
	"fmt"
	"strings"

	"github.com/relaymind/orchestrator/pkg/catalog"
	"github.com/relaymind/orchestrator/pkg/task"
)

// policyPreamble is the fixed system-prompt section defining the XML
// dialect, the stop-and-wait rule, the <answer> contract, and loop
// guidance (§4.6 initial prompt assembly, part (a); dialect per §6.3).
const policyPreamble = `You reason step by step. Wrap free-form thinking in <think>...</think> tags; this is never executed.

To use a tool, write exactly one of:
  <server_name><action_name>payload</action_name></server_name><execute_tools />
  <parallel><server_name><action_name>payload</action_name></server_name>...</parallel><execute_tools />
  <sequential><server_name><action_name>payload</action_name></server_name>...</sequential><execute_tools />

payload is either a JSON object matching the action's parameters, or plain text if the action takes a single value.
In a sequential block, a later invocation may reference an earlier sibling's result with {results[k]} or {results[k].path}, where k is the 0-based position of the earlier invocation.

After you emit <execute_tools />, stop writing immediately. Do not guess at a result. The system will append <result index="N">...</result> blocks with the real outcome, and you continue from there.

When you have a final answer, and only then, write <answer>...</answer> and stop. Do not repeat an identical tool call you have already tried with the same arguments — if it failed, change your approach.`

// assembleInitialPrompt builds the system + user messages described by
// §4.6 part (a)-(c): policy preamble, the catalog rendering relevant to
// the task type, and the task description with its context.
func assembleInitialPrompt(t task.Spec, cat *catalog.Catalog) (system string, user string) {
	var b strings.Builder
	b.WriteString(policyPreamble)
	b.WriteString("\n\n## Available tools\n\n")
	b.WriteString(cat.RenderForPrompt(t.TaskType))

	var u strings.Builder
	u.WriteString(t.Description)
	if len(t.Context) > 0 {
		u.WriteString("\n\n## Context\n")
		for k, v := range t.Context {
			fmt.Fprintf(&u, "- %s: %v\n", k, v)
		}
	}
	return b.String(), u.String()
}
