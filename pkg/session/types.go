// Package session implements the Session Loop (C6, §4.6): the per-task
// state machine that assembles the initial prompt, streams the LLM
// through the Tokenizer and Parser, dispatches tool invocations, splices
// results back into the conversation, and tracks step/token/loop budgets
// until the task answers, exhausts its budget, or fails.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/relaymind/orchestrator/pkg/llmclient"
	"github.com/relaymind/orchestrator/pkg/task"
	"github.com/relaymind/orchestrator/pkg/trajectory"
)

// Status mirrors §3's Session.status enum.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Session is the transient per-task state described by §3. conversation
// and steps are exclusively owned by the Session's own goroutine (§3
// Ownership) — mu guards only the cross-goroutine status/cancel surface a
// Runtime Controller touches from the outside (shutdown, status polling).
type Session struct {
	Task task.Spec

	conversation []llmclient.Message
	steps        []trajectory.Step
	stepCounter  int
	tokenCounter int
	toolCalls    int

	loopRing *loopRing

	startedAt time.Time

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	errMsg string
}

// NewSession constructs a Session for one normalized task.Spec.
func NewSession(t task.Spec) *Session {
	return &Session{
		Task:     t,
		loopRing: newLoopRing(DefaultLoopWindow),
		status:   StatusRunning,
	}
}

// SetCancel stores the cancel function the Runtime Controller uses to
// abort this Session (shutdown grace period, task timeout).
func (s *Session) SetCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// Cancel aborts the Session if it is still running.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// StatusSnapshot returns the current status (thread-safe read for
// external pollers; the Session's own goroutine writes it directly).
func (s *Session) StatusSnapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = msg
	s.status = StatusFailed
}

// appendConversation adds one conversation segment as if the LLM itself
// continued writing (§4.6 Conversation update policy).
func (s *Session) appendConversation(role llmclient.Role, content string) {
	s.conversation = append(s.conversation, llmclient.Message{Role: role, Content: content})
}

// nextStepID returns a fresh monotonic step id (§3 Step.step_id).
func (s *Session) nextStepID() int {
	s.stepCounter++
	return s.stepCounter
}

func (s *Session) recordStep(step trajectory.Step) {
	s.steps = append(s.steps, step)
}

// RawTranscript concatenates every conversation segment in order, as the
// raw artifact the Trajectory Writer's RawRecord carries alongside the
// structured one (§4.7 item 1).
func (s *Session) RawTranscript() string {
	var b strings.Builder
	for _, m := range s.conversation {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
