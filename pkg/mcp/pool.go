// Package mcp implements the MCP Client Pool (C3, §4.3): one persistent
// WebSocket connection per configured MCP server, a small per-connection
// state machine, and the single Call operation the rest of the
// orchestrator uses to reach tool servers.
package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/relaymind/orchestrator/pkg/masking"
	"github.com/relaymind/orchestrator/pkg/result"
)

// ServerConfig is one entry of the process-wide MCP server registry
// (§6.4's servers map, transport half — the catalog half of a server's
// configuration lives in pkg/catalog).
type ServerConfig struct {
	Name            string
	URL             string
	MaxContentBytes int // 0 means DefaultMaxContentBytes

	// RatePerSecond bounds how many calls this server's connection will
	// accept per second; 0 disables limiting (the default — most MCP
	// servers in this repo are local subprocesses, not rate-sensitive
	// remote APIs).
	RatePerSecond float64
	RateBurst     int
}

// Pool is the MCP Client Pool (C3). It owns one connection per configured
// server; connections are shared read-mostly across every Session (§5
// Ownership).
type Pool struct {
	log         *slog.Logger
	connections map[string]*connection
	limiters    map[string]*rate.Limiter
	masker      *masking.Service
	wg          sync.WaitGroup

	closeOnce sync.Once
}

// SetMasker installs the masking pass applied to every successful call's
// rendered content. Optional — a Pool with no masker returns content
// unmodified, which is only appropriate in tests.
func (p *Pool) SetMasker(m *masking.Service) {
	p.masker = m
}

// NewPool dials (asynchronously) one connection per server in cfgs and
// returns immediately; connections reach "ready" in the background.
func NewPool(cfgs []ServerConfig, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		log:         log,
		connections: make(map[string]*connection, len(cfgs)),
		limiters:    make(map[string]*rate.Limiter, len(cfgs)),
	}
	for _, cfg := range cfgs {
		maxBytes := cfg.MaxContentBytes
		if maxBytes <= 0 {
			maxBytes = DefaultMaxContentBytes
		}
		conn := newConnection(cfg.Name, cfg.URL, maxBytes, log.With("mcp_server", cfg.Name))
		p.connections[cfg.Name] = conn
		if cfg.RatePerSecond > 0 {
			burst := cfg.RateBurst
			if burst <= 0 {
				burst = 1
			}
			p.limiters[cfg.Name] = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
		}
		p.wg.Add(1)
		go func(c *connection) {
			defer p.wg.Done()
			c.run()
		}(conn)
	}
	return p
}

// Call implements the Pool's public operation (§4.3): call(server, action,
// args, per_call_timeout) -> Result. The caller has already resolved
// server/action to canonical names and validated the argument shape
// against the catalog.
func (p *Pool) Call(ctx context.Context, server, action string, args any, perCallTimeout time.Duration) result.Result {
	start := time.Now()
	conn, ok := p.connections[server]
	if !ok {
		return result.Result{
			Status:     result.StatusTransportError,
			Content:    "transport_error: unknown server " + server,
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	if lim, ok := p.limiters[server]; ok {
		if err := lim.Wait(ctx); err != nil {
			return result.Result{Status: result.StatusCancelled, Content: "cancelled", DurationMS: time.Since(start).Milliseconds()}
		}
	}

	cr, err := conn.call(ctx, action, args, perCallTimeout)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		switch {
		case ctx.Err() != nil && ctx.Err() == context.Canceled:
			return result.Result{Status: result.StatusCancelled, Content: "cancelled", DurationMS: duration}
		case isDeadlineErr(err):
			return result.Result{Status: result.StatusTimeout, Content: "timeout: per-call deadline exceeded", DurationMS: duration}
		default:
			return result.Result{
				Status:     result.StatusTransportError,
				Content:    "transport_error: connection closed",
				DurationMS: duration,
			}
		}
	}

	if !cr.OK {
		msg := cr.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		msg = truncate(msg, conn.maxContentBytes)
		if p.masker != nil {
			msg = p.masker.Mask(msg)
		}
		return result.Result{Status: result.StatusToolError, Content: msg, Raw: cr.Data, DurationMS: duration}
	}

	content := renderContent(cr.Data, conn.maxContentBytes)
	if p.masker != nil {
		content = p.masker.Mask(content)
	}

	return result.Result{
		Status:     result.StatusSuccess,
		Content:    content,
		Raw:        cr.Data,
		DurationMS: duration,
	}
}

func isDeadlineErr(err error) bool {
	return err == context.DeadlineExceeded
}

// Close stops every connection's goroutine and waits for them to exit.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		for _, conn := range p.connections {
			conn.close()
		}
		p.wg.Wait()
	})
}

// ServerNames reports the servers this Pool maintains connections for.
func (p *Pool) ServerNames() []string {
	names := make([]string, 0, len(p.connections))
	for name := range p.connections {
		names = append(names, name)
	}
	return names
}
