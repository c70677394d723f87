// Package runtime implements the Runtime Controller (C9, §4.9): a bounded
// worker pool that drains task.Spec records off an in-process channel, runs
// each through its own Session, and coordinates graceful shutdown.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaymind/orchestrator/pkg/catalog"
	"github.com/relaymind/orchestrator/pkg/invocation"
	"github.com/relaymind/orchestrator/pkg/llmclient"
	"github.com/relaymind/orchestrator/pkg/session"
	"github.com/relaymind/orchestrator/pkg/task"
	"github.com/relaymind/orchestrator/pkg/trajectory"
)

// DefaultWorkerCount bounds how many Sessions run concurrently.
const DefaultWorkerCount = 4

// DefaultShutdownGrace is how long Shutdown waits for in-flight Sessions
// to finish on their own before cancelling them (§4.9).
const DefaultShutdownGrace = 30 * time.Second

// Config configures a Controller.
type Config struct {
	WorkerCount    int
	ShutdownGrace  time.Duration
	ExecutorConfig invocation.Config
}

// Controller is the Runtime Controller (C9). It owns the catalog, the LLM
// client, the MCP pool (as an invocation.Caller) and the Writer, and wires
// a fresh Executor + Session for every task it pulls off the channel.
type Controller struct {
	cfg    Config
	cat    *catalog.Catalog
	llm    llmclient.StreamingClient
	caller invocation.Caller
	writer *trajectory.Writer

	tasks <-chan task.Spec

	mu      sync.Mutex
	active  map[string]*session.Session
	wg      sync.WaitGroup
	stopped bool
}

// New builds a Controller. tasks is the in-process ingestion channel; the
// Controller never polls a queue or database itself (§1 Non-goals).
func New(cfg Config, cat *catalog.Catalog, llm llmclient.StreamingClient, caller invocation.Caller, writer *trajectory.Writer, tasks <-chan task.Spec) *Controller {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	return &Controller{
		cfg:    cfg,
		cat:    cat,
		llm:    llm,
		caller: caller,
		writer: writer,
		tasks:  tasks,
		active: make(map[string]*session.Session),
	}
}

// Run starts WorkerCount worker goroutines and blocks until ctx is
// cancelled and every worker has drained, mirroring the pool/worker split
// the queue package uses for its own lifecycle.
func (c *Controller) Run(ctx context.Context) {
	slog.Info("runtime controller starting", "worker_count", c.cfg.WorkerCount)
	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.runWorker(ctx, i)
	}
	c.wg.Wait()
	slog.Info("runtime controller stopped")
}

func (c *Controller) runWorker(ctx context.Context, id int) {
	defer c.wg.Done()
	log := slog.With("worker_id", id)

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down, context cancelled")
			return
		case t, ok := <-c.tasks:
			if !ok {
				log.Info("task channel closed, worker exiting")
				return
			}
			c.process(ctx, log, t)
		}
	}
}

func (c *Controller) process(ctx context.Context, log *slog.Logger, t task.Spec) {
	s := session.NewSession(t)
	c.register(t.TaskID, s)
	defer c.unregister(t.TaskID)

	exec := invocation.NewExecutor(c.caller, c.cfg.ExecutorConfig)

	log.Info("session starting", "task_id", t.TaskID, "task_type", t.TaskType)
	result := session.Run(ctx, s, c.cat, c.llm, exec)
	log.Info("session finished", "task_id", t.TaskID, "success", result.Success, "termination", result.Termination)

	now := time.Now()
	if err := c.writer.WriteStructured(result, now); err != nil {
		log.Error("failed to write trajectory", "task_id", t.TaskID, "error", err)
	}

	raw := s.RawTranscript()
	if err := c.writer.WriteRaw(trajectory.RawRecord{
		Timestamp:     now,
		TaskID:        t.TaskID,
		Description:   t.Description,
		DurationMS:    result.DurationMS,
		Success:       result.Success,
		Answer:        result.Answer,
		RawTranscript: raw,
		TranscriptLen: len(raw),
	}); err != nil {
		log.Error("failed to write raw trajectory", "task_id", t.TaskID, "error", err)
	}
}

func (c *Controller) register(taskID string, s *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[taskID] = s
}

func (c *Controller) unregister(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, taskID)
}

// ActiveCount reports how many Sessions are currently in flight.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Shutdown waits up to cfg.ShutdownGrace for in-flight Sessions to finish
// naturally, then force-cancels whatever remains (§4.9: "after the grace
// period, in-flight MCP calls are forcibly cancelled").
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	deadline := time.NewTimer(c.cfg.ShutdownGrace)
	defer deadline.Stop()

	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		if c.ActiveCount() == 0 {
			slog.Info("runtime controller: all sessions drained before grace period elapsed")
			return
		}
		select {
		case <-deadline.C:
			slog.Warn("runtime controller: grace period elapsed, force-cancelling sessions", "remaining", c.ActiveCount())
			c.cancelAll()
			return
		case <-tick.C:
		case <-ctx.Done():
			c.cancelAll()
			return
		}
	}
}

func (c *Controller) cancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.active {
		s.Cancel()
	}
}
