// Package trajectory implements the Trajectory Writer (C7, §4.7): the
// Step/TrajectoryResult record types and the append-only, period-
// partitioned JSONL persistence for them.
package trajectory

import (
	"time"

	"github.com/relaymind/orchestrator/pkg/task"
)

// StepKind enumerates the per-step segment kinds recorded in a trajectory
// (§3 Step).
type StepKind string

const (
	StepThought     StepKind = "thought"
	StepToolCall    StepKind = "tool_call"
	StepObservation StepKind = "observation"
	StepAnswer      StepKind = "answer"
	StepError       StepKind = "error"
)

// Step is one atomic unit in a trajectory (§3). Payload varies by Kind:
// thought/answer/error carry Text; tool_call carries Invocation; observation
// carries Results.
type Step struct {
	StepID     int      `json:"step_id"`
	Kind       StepKind `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64    `json:"duration_ms"`

	Text       string         `json:"text,omitempty"`
	Invocation *InvocationStep `json:"invocation,omitempty"`
	Results    []ResultStep   `json:"results,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
}

// InvocationStep is the recorded shape of a tool_call step's payload — the
// raw tag text plus its resolved (server, action) pairs, not a re-export of
// xmlstream.Invocation, so the trajectory format doesn't couple to the
// parser's in-memory representation.
type InvocationStep struct {
	Kind    string         `json:"kind"` // "single" | "parallel" | "sequential"
	RawText string         `json:"raw_text"`
	Calls   []InvocationCall `json:"calls"`
}

type InvocationCall struct {
	Server string `json:"server"`
	Action string `json:"action"`
}

// ResultStep is the recorded shape of one Result inside an observation
// step.
type ResultStep struct {
	Index      int    `json:"index"`
	Status     string `json:"status"`
	Content    string `json:"content"`
	DurationMS int64  `json:"duration_ms"`
}

// TerminationReason enumerates why a Session ended (§3, §7).
type TerminationReason string

const (
	TerminationAnswer       TerminationReason = "answer"
	TerminationMaxSteps     TerminationReason = "max_steps"
	TerminationMaxTokens    TerminationReason = "max_tokens"
	TerminationTimeout      TerminationReason = "timeout"
	TerminationLoopDetected TerminationReason = "loop_detected"
	TerminationFatalError   TerminationReason = "fatal_error"
	TerminationCancelled    TerminationReason = "cancelled"
)

// TrajectoryResult is the output of one Session (§3): the structured
// record written to trajectories_<PERIOD>.jsonl.
type TrajectoryResult struct {
	TaskID      string            `json:"task_id"`
	TaskType    task.Type         `json:"task_type"`
	Description string            `json:"description"`
	Success     bool              `json:"success"`
	Answer      string            `json:"answer,omitempty"`
	Steps       []Step            `json:"steps"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     time.Time         `json:"ended_at"`
	DurationMS  int64             `json:"duration_ms"`
	TokensUsed  int               `json:"tokens_used"`
	ToolCalls   int               `json:"tool_calls"`
	Termination TerminationReason `json:"termination_reason"`
}

// RawRecord is the raw artifact (§4.7 item 1): the unprocessed transcript
// alongside enough identity/summary fields to correlate it with its
// structured counterpart.
type RawRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	TaskID         string    `json:"task_id"`
	Description    string    `json:"description"`
	DurationMS     int64     `json:"duration_ms"`
	Success        bool      `json:"success"`
	Answer         string    `json:"answer,omitempty"`
	RawTranscript  string    `json:"raw_transcript"`
	TranscriptLen  int       `json:"transcript_len"`
}
