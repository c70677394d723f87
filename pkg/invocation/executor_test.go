package invocation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymind/orchestrator/pkg/result"
	"github.com/relaymind/orchestrator/pkg/xmlstream"
)

type fakeCaller struct {
	calls int32
	fn    func(server, action string, args any) result.Result
}

func (f *fakeCaller) Call(ctx context.Context, server, action string, args any, timeout time.Duration) result.Result {
	atomic.AddInt32(&f.calls, 1)
	if f.fn != nil {
		return f.fn(server, action, args)
	}
	return result.Result{Status: result.StatusSuccess, Content: "ok"}
}

func TestExecute_Single(t *testing.T) {
	caller := &fakeCaller{}
	exec := NewExecutor(caller, DefaultConfig)
	inv := &xmlstream.Invocation{Kind: xmlstream.KindSingle, Single: &xmlstream.Leaf{Server: "s", Action: "a"}}

	results := exec.Execute(context.Background(), inv)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, result.StatusSuccess, results[0].Status)
}

func TestExecute_ParallelPreservesPositionalIndex(t *testing.T) {
	caller := &fakeCaller{fn: func(server, action string, args any) result.Result {
		if server == "slow" {
			time.Sleep(30 * time.Millisecond)
		}
		return result.Result{Status: result.StatusSuccess, Content: server}
	}}
	exec := NewExecutor(caller, Config{MaxPerCall: time.Second, AggregateCap: time.Second})
	inv := &xmlstream.Invocation{Kind: xmlstream.KindParallel, Children: []*xmlstream.Leaf{
		{Server: "slow", Action: "a"},
		{Server: "fast", Action: "a"},
	}}

	results := exec.Execute(context.Background(), inv)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, "slow", results[0].Content)
	assert.Equal(t, 1, results[1].Index)
	assert.Equal(t, "fast", results[1].Content)
}

func TestExecute_ParallelNoEarlyExitOnFailure(t *testing.T) {
	caller := &fakeCaller{fn: func(server, action string, args any) result.Result {
		if server == "bad" {
			return result.Result{Status: result.StatusToolError, Content: "boom"}
		}
		return result.Result{Status: result.StatusSuccess, Content: "fine"}
	}}
	exec := NewExecutor(caller, DefaultConfig)
	inv := &xmlstream.Invocation{Kind: xmlstream.KindParallel, Children: []*xmlstream.Leaf{
		{Server: "bad", Action: "a"},
		{Server: "good", Action: "a"},
	}}

	results := exec.Execute(context.Background(), inv)
	require.Len(t, results, 2)
	assert.Equal(t, result.StatusToolError, results[0].Status)
	assert.Equal(t, result.StatusSuccess, results[1].Status)
	assert.EqualValues(t, 2, caller.calls)
}

func TestExecute_SequentialSubstitutesPlaceholder(t *testing.T) {
	caller := &fakeCaller{fn: func(server, action string, args any) result.Result {
		if server == "first" {
			return result.Result{Status: result.StatusSuccess, Content: "done", Raw: map[string]any{"stdout": "42"}}
		}
		m := args.(map[string]any)
		return result.Result{Status: result.StatusSuccess, Content: m["q"].(string)}
	}}
	exec := NewExecutor(caller, DefaultConfig)
	inv := &xmlstream.Invocation{Kind: xmlstream.KindSequential, Children: []*xmlstream.Leaf{
		{Server: "first", Action: "run", Payload: map[string]any{"code": "x"}},
		{
			Server: "second", Action: "query",
			Payload:      map[string]any{"q": "value is {results[0].stdout}"},
			Placeholders: []xmlstream.Placeholder{{ParamName: "q", SiblingK: 0, Path: "stdout", Raw: "{results[0].stdout}"}},
		},
	}}

	results := exec.Execute(context.Background(), inv)
	require.Len(t, results, 2)
	assert.Equal(t, "value is 42", results[1].Content)
}

func TestExecute_SequentialAbortsRemainderOnFailure(t *testing.T) {
	caller := &fakeCaller{fn: func(server, action string, args any) result.Result {
		if server == "first" {
			return result.Result{Status: result.StatusToolError, Content: "bad"}
		}
		return result.Result{Status: result.StatusSuccess, Content: "should not run"}
	}}
	exec := NewExecutor(caller, DefaultConfig)
	inv := &xmlstream.Invocation{Kind: xmlstream.KindSequential, Children: []*xmlstream.Leaf{
		{Server: "first", Action: "run"},
		{
			Server: "second", Action: "query",
			Payload:      map[string]any{"q": "{results[0].stdout}"},
			Placeholders: []xmlstream.Placeholder{{ParamName: "q", SiblingK: 0, Raw: "{results[0].stdout}"}},
		},
		{Server: "third", Action: "query"},
	}}

	results := exec.Execute(context.Background(), inv)
	require.Len(t, results, 3)
	assert.Equal(t, result.StatusToolError, results[0].Status)
	assert.Equal(t, result.StatusToolError, results[1].Status)
	assert.Contains(t, results[1].Content, "aborted: prior step 0 failed")
	assert.Equal(t, result.StatusToolError, results[2].Status)
	assert.Contains(t, results[2].Content, "aborted")
	assert.EqualValues(t, 1, caller.calls) // only "first" was ever dispatched
}

func TestFormat_RendersResultTags(t *testing.T) {
	out := Format([]result.Result{
		{Index: 0, Content: "alpha"},
		{Index: 1, Content: "beta"},
	})
	assert.Equal(t, "<result index=\"0\">alpha</result>\n<result index=\"1\">beta</result>\n", out)
}
