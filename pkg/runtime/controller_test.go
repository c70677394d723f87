package runtime

import (
	"context"
	"os"
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
`

type answerStream struct{ sent bool }

func (a *answerStream) Next() bool {
	if a.sent {
		return false
	}
	a.sent = true
	return true
}
func (a *answerStream) Current() string { return "<answer>ok</answer>" }
func (a *answerStream) Err() error       { return nil }
func (a *answerStream) Close() error     { return nil }

type answerClient struct{}

func (answerClient) StreamChat(ctx context.Context, messages []llmclient.Message) (llmclient.Stream, error) {
	return &answerStream{}, nil
}

type noopCaller struct{}

func (noopCaller) Call(ctx context.Context, server, action string, args any, perCallTimeout time.Duration) result.Result {
	return result.Result{Status: result.StatusSuccess}
}

func TestController_ProcessesTasksFromChannel(t *testing.T) {
	cat, err := catalog.LoadBytes([]byte(testCatalogYAML))
	require.NoError(t, err)

	dir := t.TempDir()
	writer := trajectory.NewWriter(dir, trajectory.GroupingDaily)

	tasks := make(chan task.Spec, 2)
	ctrl := New(Config{WorkerCount: 2}, cat, answerClient{}, noopCaller{}, writer, tasks)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { ctrl.Run(ctx); close(done) }()

	tasks <- task.Spec{TaskID: "a", Description: "first", MaxSteps: 3}
	tasks <- task.Spec{TaskID: "b", Description: "second", MaxSteps: 3}

	require.Eventually(t, func() bool {
		entries, _ := os.ReadDir(dir)
		return len(entries) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, 0, ctrl.ActiveCount())
}

func TestController_ShutdownDrainsWithinGrace(t *testing.T) {
	cat, err := catalog.LoadBytes([]byte(testCatalogYAML))
	require.NoError(t, err)
	writer := trajectory.NewWriter(t.TempDir(), trajectory.GroupingDaily)

	tasks := make(chan task.Spec)
	ctrl := New(Config{WorkerCount: 1, ShutdownGrace: 500 * time.Millisecond, ExecutorConfig: invocation.DefaultConfig}, cat, answerClient{}, noopCaller{}, writer, tasks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.Shutdown(context.Background())
	assert.Equal(t, 0, ctrl.ActiveCount())
}
