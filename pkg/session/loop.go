package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/relaymind/orchestrator/pkg/catalog"
	"github.com/relaymind/orchestrator/pkg/invocation"
	"github.com/relaymind/orchestrator/pkg/llmclient"
	"github.com/relaymind/orchestrator/pkg/result"
	"github.com/relaymind/orchestrator/pkg/trajectory"
	"github.com/relaymind/orchestrator/pkg/xmlstream"
)

var tracer = otel.Tracer("github.com/relaymind/orchestrator/pkg/session")

// charsPerToken is the same ~4-chars/token heuristic the MCP content
// renderer uses for truncation bookkeeping, reused here for the token
// budget (§4.6) in the absence of a provider-reported usage count.
const charsPerToken = 4

func estimateTokens(s string) int { return len(s) / charsPerToken }

// Run drives one task through the INIT -> PROMPTING -> STREAMING ->
// (TOOL_PARSE -> TOOL_EXEC -> SPLICE) -> STREAMING ... ->
// ANSWERED|EXHAUSTED|FAILED state machine (§4.6) and returns the
// TrajectoryResult ready for the Writer.
func Run(ctx context.Context, s *Session, cat *catalog.Catalog, llm llmclient.StreamingClient, exec *invocation.Executor) trajectory.TrajectoryResult {
	s.Task = s.Task.Normalize()
	s.startedAt = time.Now()

	if s.Task.TimeoutS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.Task.TimeoutS)*time.Second)
		defer cancel()
	}
	s.SetCancel(func() {}) // overwritten below once the real cancel exists
	childCtx, cancel := context.WithCancel(ctx)
	s.SetCancel(cancel)
	defer cancel()

	system, user := assembleInitialPrompt(s.Task, cat)
	s.appendConversation(llmclient.RoleSystem, system)
	s.appendConversation(llmclient.RoleUser, user)

	var answer string
	var termination trajectory.TerminationReason

turnLoop:
	for {
		select {
		case <-childCtx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				termination = trajectory.TerminationTimeout
			} else {
				termination = trajectory.TerminationCancelled
			}
			break turnLoop
		default:
		}

		if s.stepCounter >= s.Task.MaxSteps {
			termination = trajectory.TerminationMaxSteps
			break turnLoop
		}
		if s.Task.MaxTokens > 0 && s.tokenCounter >= s.Task.MaxTokens {
			termination = trajectory.TerminationMaxTokens
			break turnLoop
		}

		turnOutcome, err := s.runOneTurn(childCtx, llm, cat, exec)
		if err != nil {
			s.setError(err.Error())
			termination = trajectory.TerminationFatalError
			break turnLoop
		}

		switch turnOutcome.kind {
		case turnAnswer:
			answer = turnOutcome.answerText
			termination = trajectory.TerminationAnswer
			break turnLoop
		case turnLoopDetected:
			termination = trajectory.TerminationLoopDetected
			break turnLoop
		case turnToolCall, turnThoughtOnly:
			// budgets re-checked at the top of the loop
		}
	}

	endedAt := time.Now()
	success := termination == trajectory.TerminationAnswer
	if success {
		s.setStatus(StatusCompleted)
	} else if termination == trajectory.TerminationCancelled {
		s.setStatus(StatusCancelled)
	} else {
		s.setStatus(StatusFailed)
	}

	slog.Info("session finished",
		"task_id", s.Task.TaskID,
		"termination", termination,
		"steps", s.stepCounter,
		"tool_calls", s.toolCalls,
		"duration_ms", endedAt.Sub(s.startedAt).Milliseconds(),
	)

	return trajectory.TrajectoryResult{
		TaskID:      s.Task.TaskID,
		TaskType:    s.Task.TaskType,
		Description: s.Task.Description,
		Success:     success,
		Answer:      answer,
		Steps:       s.steps,
		StartedAt:   s.startedAt,
		EndedAt:     endedAt,
		DurationMS:  endedAt.Sub(s.startedAt).Milliseconds(),
		TokensUsed:  s.tokenCounter,
		ToolCalls:   s.toolCalls,
		Termination: termination,
	}
}

type turnKind int

const (
	turnThoughtOnly turnKind = iota
	turnToolCall
	turnAnswer
	turnLoopDetected
)

type turnResult struct {
	kind       turnKind
	answerText string
}

// runOneTurn streams exactly one LLM completion, stopping at the first
// tool block or answer block it recognizes (§6.2: "the client simply
// stops reading and closes the stream when it detects </execute_tools>").
func (s *Session) runOneTurn(ctx context.Context, llm llmclient.StreamingClient, cat *catalog.Catalog, exec *invocation.Executor) (turnResult, error) {
	ctx, span := tracer.Start(ctx, "session.turn")
	defer span.End()

	stream, err := llm.StreamChat(ctx, s.conversation)
	if err != nil {
		return turnResult{}, fmt.Errorf("session: start stream: %w", err)
	}
	defer stream.Close()

	tok := xmlstream.NewTokenizer()
	var thoughtBuf strings.Builder

	for stream.Next() {
		chunk := stream.Current()
		s.tokenCounter += estimateTokens(chunk)

		events, feedErr := tok.Feed(chunk)
		outcome, handled, herr := s.handleEvents(ctx, events, &thoughtBuf, cat, exec)
		if herr != nil {
			return turnResult{}, herr
		}
		if handled {
			return outcome, nil
		}
		if feedErr != nil {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return turnResult{}, fmt.Errorf("session: stream: %w", err)
	}

	events, _ := tok.Close()
	outcome, handled, herr := s.handleEvents(ctx, events, &thoughtBuf, cat, exec)
	if herr != nil {
		return turnResult{}, herr
	}
	if handled {
		return outcome, nil
	}

	// Stream ended with only prose: record it as a thought step and let
	// the outer loop re-prompt if budget remains.
	text := thoughtBuf.String()
	if text != "" {
		s.recordThoughtStep(text)
	}
	return turnResult{kind: turnThoughtOnly}, nil
}

// handleEvents processes Tokenizer events as they arrive, returning
// handled=true once the turn has reached a conclusive event (tool block
// or answer).
func (s *Session) handleEvents(ctx context.Context, events []xmlstream.Event, thoughtBuf *strings.Builder, cat *catalog.Catalog, exec *invocation.Executor) (turnResult, bool, error) {
	var pendingStart xmlstream.Event
	haveStart := false

	for _, ev := range events {
		switch ev.Kind {
		case xmlstream.EventText:
			thoughtBuf.WriteString(ev.Text)

		case xmlstream.EventToolBlockStart:
			pendingStart = ev
			haveStart = true

		case xmlstream.EventToolBlockEnd:
			if thoughtBuf.Len() > 0 {
				s.recordThoughtStep(thoughtBuf.String())
				thoughtBuf.Reset()
			}
			rawBlock := reconstructRawBlock(pendingStart, ev, haveStart)
			s.appendConversation(llmclient.RoleAssistant, rawBlock)

			outcome, err := s.executeToolBlock(ctx, ev.Raw, cat, exec)
			if err != nil {
				return turnResult{}, false, err
			}
			return outcome, true, nil

		case xmlstream.EventAnswerBlock:
			if thoughtBuf.Len() > 0 {
				s.recordThoughtStep(thoughtBuf.String())
				thoughtBuf.Reset()
			}
			s.appendConversation(llmclient.RoleAssistant, "<answer>"+ev.Text+"</answer>")
			s.recordAnswerStep(ev.Text)
			return turnResult{kind: turnAnswer, answerText: ev.Text}, true, nil

		case xmlstream.EventParseError:
			s.recordErrorStep(fmt.Sprintf("tokenizer parse error: %v", ev.Err))
			return turnResult{}, false, nil // stream already ended; outer loop re-evaluates budgets
		}
	}
	return turnResult{}, false, nil
}

func reconstructRawBlock(start xmlstream.Event, end xmlstream.Event, haveStart bool) string {
	if haveStart && start.Raw == "<execute_tools>" {
		return "<execute_tools>" + end.Raw + "</execute_tools>"
	}
	if haveStart && strings.Contains(start.Raw, "/>") {
		return start.Raw // bare self-closing marker, empty block
	}
	return end.Raw + "<execute_tools />"
}

// executeToolBlock runs Parse + Executor + Formatter for one captured
// block and splices the result back into the conversation (§4.2-§4.5).
func (s *Session) executeToolBlock(ctx context.Context, raw string, cat *catalog.Catalog, exec *invocation.Executor) (turnResult, error) {
	inv, perr := xmlstream.Parse(raw, cat)
	if perr != nil {
		guidance := fmt.Sprintf(`<result index="0">parse_error: %s</result>`, perr.Message)
		s.appendConversation(llmclient.RoleUser, guidance)
		s.recordErrorStep("parse_error: " + perr.Error())

		if s.loopRing.push(parseErrorFingerprint(perr.Kind, raw)) {
			return turnResult{kind: turnLoopDetected}, nil
		}
		return turnResult{kind: turnThoughtOnly}, nil
	}

	fp := invocationFingerprint(inv)
	if s.loopRing.push(fp) {
		return turnResult{kind: turnLoopDetected}, nil
	}

	s.recordToolCallStep(inv, raw)

	results := exec.Execute(ctx, inv)
	s.toolCalls += len(results)

	rendered := invocation.Format(results)
	s.appendConversation(llmclient.RoleUser, rendered)
	s.recordObservationStep(results)

	return turnResult{kind: turnToolCall}, nil
}

func (s *Session) recordThoughtStep(text string) {
	s.recordStep(trajectory.Step{StepID: s.nextStepID(), Kind: trajectory.StepThought, StartedAt: time.Now(), Text: text})
}

func (s *Session) recordAnswerStep(text string) {
	s.recordStep(trajectory.Step{StepID: s.nextStepID(), Kind: trajectory.StepAnswer, StartedAt: time.Now(), Text: text})
}

func (s *Session) recordErrorStep(text string) {
	s.recordStep(trajectory.Step{StepID: s.nextStepID(), Kind: trajectory.StepError, StartedAt: time.Now(), Text: text})
}

func (s *Session) recordToolCallStep(inv *xmlstream.Invocation, raw string) {
	calls := leafCalls(inv)
	s.recordStep(trajectory.Step{
		StepID:    s.nextStepID(),
		Kind:      trajectory.StepToolCall,
		StartedAt: time.Now(),
		Invocation: &trajectory.InvocationStep{
			Kind:    invocationKindName(inv.Kind),
			RawText: raw,
			Calls:   calls,
		},
		Warnings: leafWarnings(inv),
	})
}

// leafWarnings flattens the non-fatal parser warnings (e.g. unknown
// parameters, §4.2) attached to each leaf of inv into one slice so they
// land on the tool_call Step instead of being dropped at the parser
// boundary.
func leafWarnings(inv *xmlstream.Invocation) []string {
	var warnings []string
	if inv.Kind == xmlstream.KindSingle {
		return append(warnings, inv.Single.Warnings...)
	}
	for _, c := range inv.Children {
		warnings = append(warnings, c.Warnings...)
	}
	return warnings
}

func (s *Session) recordObservationStep(results []result.Result) {
	id := s.nextStepID()
	steps := make([]trajectory.ResultStep, len(results))
	for i, r := range results {
		steps[i] = trajectory.ResultStep{Index: r.Index, Status: string(r.Status), Content: r.Content, DurationMS: r.DurationMS}
	}
	s.recordStep(trajectory.Step{StepID: id, Kind: trajectory.StepObservation, StartedAt: time.Now(), Results: steps})
}

func leafCalls(inv *xmlstream.Invocation) []trajectory.InvocationCall {
	if inv.Kind == xmlstream.KindSingle {
		return []trajectory.InvocationCall{{Server: inv.Single.Server, Action: inv.Single.Action}}
	}
	calls := make([]trajectory.InvocationCall, len(inv.Children))
	for i, c := range inv.Children {
		calls[i] = trajectory.InvocationCall{Server: c.Server, Action: c.Action}
	}
	return calls
}

func invocationKindName(k xmlstream.Kind) string {
	switch k {
	case xmlstream.KindParallel:
		return "parallel"
	case xmlstream.KindSequential:
		return "sequential"
	default:
		return "single"
	}
}

