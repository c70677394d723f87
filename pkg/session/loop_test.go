package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymind/orchestrator/pkg/catalog"
	"github.com/relaymind/orchestrator/pkg/invocation"
	"github.com/relaymind/orchestrator/pkg/llmclient"
	"github.com/relaymind/orchestrator/pkg/result"
	"github.com/relaymind/orchestrator/pkg/task"
	"github.com/relaymind/orchestrator/pkg/trajectory"
)

const testCatalogYAML = `
servers:
  microsandbox:
    default_action: run
    actions:
      run:
        description: "run python code"
        default_param: code
        parameters:
          properties:
            code: {type: string}
`

func loadTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.LoadBytes([]byte(testCatalogYAML))
	require.NoError(t, err)
	return cat
}

// fakeStream replays a fixed sequence of chunks, one per Next/Current
// pair, mimicking an already-buffered provider stream.
type fakeStream struct {
	chunks []string
	i      int
	closed bool
}

func (f *fakeStream) Next() bool {
	if f.i >= len(f.chunks) {
		return false
	}
	f.i++
	return true
}
func (f *fakeStream) Current() string { return f.chunks[f.i-1] }
func (f *fakeStream) Err() error       { return nil }
func (f *fakeStream) Close() error     { f.closed = true; return nil }

// fakeClient returns one canned turn per call, in order; the last turn
// repeats forever once exhausted, so tests can cap iterations via budget.
type fakeClient struct {
	turns [][]string
	calls int
}

func (f *fakeClient) StreamChat(ctx context.Context, messages []llmclient.Message) (llmclient.Stream, error) {
	idx := f.calls
	if idx >= len(f.turns) {
		idx = len(f.turns) - 1
	}
	f.calls++
	return &fakeStream{chunks: f.turns[idx]}, nil
}

// fakeCaller is a trivial invocation.Caller stub.
type fakeCaller struct {
	fn func(server, action string) result.Result
}

func (f *fakeCaller) Call(ctx context.Context, server, action string, args any, perCallTimeout time.Duration) result.Result {
	return f.fn(server, action)
}

func newExecutor(fn func(server, action string) result.Result) *invocation.Executor {
	return invocation.NewExecutor(&fakeCaller{fn: fn}, invocation.DefaultConfig)
}

func TestRun_AnswersImmediately(t *testing.T) {
	cat := loadTestCatalog(t)
	client := &fakeClient{turns: [][]string{
		{"thinking...", "<answer>42</answer>"},
	}}
	exec := newExecutor(func(server, action string) result.Result { return result.Result{Status: result.StatusSuccess} })

	s := NewSession(task.Spec{TaskID: "t1", Description: "what is the answer", MaxSteps: 5})
	out := Run(context.Background(), s, cat, client, exec)

	assert.True(t, out.Success)
	assert.Equal(t, "42", out.Answer)
	assert.Equal(t, trajectory.TerminationAnswer, out.Termination)
	assert.Equal(t, StatusCompleted, s.StatusSnapshot())
}

func TestRun_ExecutesToolThenAnswers(t *testing.T) {
	cat := loadTestCatalog(t)
	client := &fakeClient{turns: [][]string{
		{`<microsandbox><run>{"code": "print(1)"}</run></microsandbox><execute_tools />`},
		{"<answer>done</answer>"},
	}}
	var called int
	exec := newExecutor(func(server, action string) result.Result {
		called++
		return result.Result{Status: result.StatusSuccess, Content: "1"}
	})

	s := NewSession(task.Spec{TaskID: "t2", Description: "run some code", MaxSteps: 5})
	out := Run(context.Background(), s, cat, client, exec)

	assert.True(t, out.Success)
	assert.Equal(t, "done", out.Answer)
	assert.Equal(t, 1, called)
	assert.Equal(t, 1, out.ToolCalls)

	var sawToolCall, sawObservation bool
	for _, step := range out.Steps {
		switch step.Kind {
		case trajectory.StepToolCall:
			sawToolCall = true
			require.NotNil(t, step.Invocation)
			assert.Equal(t, "microsandbox", step.Invocation.Calls[0].Server)
		case trajectory.StepObservation:
			sawObservation = true
			require.Len(t, step.Results, 1)
			assert.Equal(t, "1", step.Results[0].Content)
		}
	}
	assert.True(t, sawToolCall)
	assert.True(t, sawObservation)
}

func TestRun_MaxStepsExhausts(t *testing.T) {
	cat := loadTestCatalog(t)
	client := &fakeClient{turns: [][]string{
		{"still thinking, no tool call, no answer"},
	}}
	exec := newExecutor(func(server, action string) result.Result { return result.Result{Status: result.StatusSuccess} })

	s := NewSession(task.Spec{TaskID: "t3", Description: "loop forever", MaxSteps: 3})
	out := Run(context.Background(), s, cat, client, exec)

	assert.False(t, out.Success)
	assert.Equal(t, trajectory.TerminationMaxSteps, out.Termination)
	assert.Equal(t, StatusFailed, s.StatusSnapshot())
}

func TestRun_LoopDetectedOnRepeatedIdenticalCall(t *testing.T) {
	cat := loadTestCatalog(t)
	turn := []string{`<microsandbox><run>{"code": "print(1)"}</run></microsandbox><execute_tools />`}
	client := &fakeClient{turns: [][]string{turn, turn, turn, turn, turn, turn}}
	exec := newExecutor(func(server, action string) result.Result { return result.Result{Status: result.StatusSuccess, Content: "1"} })

	s := NewSession(task.Spec{TaskID: "t4", Description: "repeat the same call", MaxSteps: 10})
	out := Run(context.Background(), s, cat, client, exec)

	assert.False(t, out.Success)
	assert.Equal(t, trajectory.TerminationLoopDetected, out.Termination)
}

func TestRun_ParseErrorIsRecordedAndSessionContinues(t *testing.T) {
	cat := loadTestCatalog(t)
	client := &fakeClient{turns: [][]string{
		{`<nosuchserver><run>x</run></nosuchserver><execute_tools />`},
		{"<answer>recovered</answer>"},
	}}
	exec := newExecutor(func(server, action string) result.Result { return result.Result{Status: result.StatusSuccess} })

	s := NewSession(task.Spec{TaskID: "t5", Description: "typo a server name", MaxSteps: 5})
	out := Run(context.Background(), s, cat, client, exec)

	assert.True(t, out.Success)
	assert.Equal(t, "recovered", out.Answer)

	var sawError bool
	for _, step := range out.Steps {
		if step.Kind == trajectory.StepError {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestRun_LoopDetectedOnRepeatedParseError(t *testing.T) {
	cat := loadTestCatalog(t)
	turn := []string{`<nosuchserver><run>x</run></nosuchserver><execute_tools />`}
	client := &fakeClient{turns: [][]string{turn, turn, turn, turn, turn, turn}}
	exec := newExecutor(func(server, action string) result.Result { return result.Result{Status: result.StatusSuccess} })

	s := NewSession(task.Spec{TaskID: "t6", Description: "repeat the same typo", MaxSteps: 10})
	out := Run(context.Background(), s, cat, client, exec)

	assert.False(t, out.Success)
	assert.Equal(t, trajectory.TerminationLoopDetected, out.Termination)
}

func TestRun_UnknownParameterWarningRecordedOnStep(t *testing.T) {
	cat := loadTestCatalog(t)
	client := &fakeClient{turns: [][]string{
		{`<microsandbox><run>{"code": "print(1)", "bogus": true}</run></microsandbox><execute_tools />`},
		{"<answer>done</answer>"},
	}}
	exec := newExecutor(func(server, action string) result.Result { return result.Result{Status: result.StatusSuccess, Content: "1"} })

	s := NewSession(task.Spec{TaskID: "t7", Description: "pass an unknown parameter", MaxSteps: 5})
	out := Run(context.Background(), s, cat, client, exec)

	assert.True(t, out.Success)

	var toolCallStep *trajectory.Step
	for i := range out.Steps {
		if out.Steps[i].Kind == trajectory.StepToolCall {
			toolCallStep = &out.Steps[i]
		}
	}
	require.NotNil(t, toolCallStep)
	require.Len(t, toolCallStep.Warnings, 1)
	assert.Contains(t, toolCallStep.Warnings[0], "bogus")
}
