package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// connState is the per-connection state machine described by §4.3:
// connecting -> ready -> degraded -> reconnecting (and back to ready on a
// successful reconnect).
type connState int32

const (
	stateConnecting connState = iota
	stateReady
	stateDegraded
	stateReconnecting
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateReady:
		return "ready"
	case stateDegraded:
		return "degraded"
	case stateReconnecting:
		return "reconnecting"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// pingInterval and idleTimeout implement §6.1's connection-level policy:
// one ping every 30s, idle timeout 5 min after which the connection is
// recycled.
const (
	pingInterval = 30 * time.Second
	idleTimeout  = 5 * time.Minute
)

// connection owns exactly one WebSocket to one MCP server. Its mutable
// state (the live *websocket.Conn, the id->pending map, nextID) is guarded
// by mu, held only for id allocation and delivery per §4.3's shared-
// resource policy; the connection's writer is serialized by writeMu so a
// ping and a call_tool request never interleave on the wire.
type connection struct {
	serverName      string
	url             string
	maxContentBytes int
	log             *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	state   atomic.Int32
	nextID  int64
	pending map[int64]chan response
	lastRX  time.Time

	writeMu sync.Mutex

	closeOnce sync.Once
	closeCh   chan struct{}
}

func newConnection(serverName, url string, maxContentBytes int, log *slog.Logger) *connection {
	c := &connection{
		serverName:      serverName,
		url:             url,
		maxContentBytes: maxContentBytes,
		log:             log,
		pending:         make(map[int64]chan response),
		closeCh:         make(chan struct{}),
	}
	c.state.Store(int32(stateConnecting))
	return c
}

func (c *connection) currentState() connState { return connState(c.state.Load()) }

// run drives the connection's lifecycle until Close is called: dial,
// serve (read loop + ping loop) until the socket dies, then reconnect with
// exponential backoff and full jitter (§4.3).
func (c *connection) run() {
	attempt := 0
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		c.state.Store(int32(stateConnecting))
		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.log.Warn("mcp connection dial failed", "server", c.serverName, "attempt", attempt, "err", err)
			if !c.sleepBackoff(attempt) {
				return
			}
			attempt++
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.lastRX = time.Now()
		c.mu.Unlock()
		c.state.Store(int32(stateReady))
		attempt = 0
		c.log.Info("mcp connection established", "server", c.serverName)

		c.serve(conn) // blocks until the connection dies or Close fires
		c.failAllPending()

		select {
		case <-c.closeCh:
			return
		default:
			c.state.Store(int32(stateReconnecting))
		}
	}
}

func (c *connection) sleepBackoff(attempt int) bool {
	backoffMS := reconnectBackoffBase << attempt
	if backoffMS > reconnectBackoffCap || backoffMS <= 0 {
		backoffMS = reconnectBackoffCap
	}
	jittered := time.Duration(rand.Int63n(int64(backoffMS)+1)) * time.Millisecond
	select {
	case <-time.After(jittered):
		return true
	case <-c.closeCh:
		return false
	}
}

// serve runs the read loop and the idle ping loop until the socket dies.
func (c *connection) serve(conn *websocket.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if isTransportError(err) {
					c.log.Debug("mcp: read loop ending on transport error", "server", c.serverName, "err", err)
				}
				return
			}
			c.mu.Lock()
			c.lastRX = time.Now()
			c.mu.Unlock()

			var resp response
			if err := json.Unmarshal(raw, &resp); err != nil {
				c.log.Warn("mcp: malformed response frame", "server", c.serverName, "err", err)
				continue
			}
			c.deliver(resp)
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.closeCh:
			_ = conn.Close()
			<-done
			return
		case <-ticker.C:
			c.mu.Lock()
			idle := time.Since(c.lastRX)
			c.mu.Unlock()
			if idle > idleTimeout {
				c.log.Info("mcp: recycling idle connection", "server", c.serverName, "idle", idle)
				_ = conn.Close()
				<-done
				return
			}
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				_ = conn.Close()
				<-done
				return
			}
		}
	}
}

func (c *connection) deliver(resp response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	ch <- resp
}

func (c *connection) failAllPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan response)
	c.mu.Unlock()
	for id, ch := range pending {
		ch <- response{ID: id, Result: nil}
		close(ch)
	}
}

// callErrTransport is a sentinel decoded result signaling the caller
// should treat the outcome as a transport_error (deliver sends a zero
// response when a connection dies with callers still pending).
func isTransportFailure(resp response) bool { return resp.Result == nil }

// call sends one call_tool request and waits for its matching response,
// per_call timeout, or ctx cancellation — whichever comes first. It never
// retries; that is the caller's (Pool.Call's) job to classify.
func (c *connection) call(ctx context.Context, action string, args any, timeout time.Duration) (callResult, error) {
	if c.currentState() == stateClosed {
		return callResult{}, fmt.Errorf("mcp: connection to %s closed", c.serverName)
	}

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return callResult{}, fmt.Errorf("mcp: connection to %s not ready", c.serverName)
	}
	c.nextID++
	id := c.nextID
	replyCh := make(chan response, 1)
	c.pending[id] = replyCh
	conn := c.conn
	c.mu.Unlock()

	req := request{ID: id, Method: "call_tool", Params: callParams{Action: action, Arguments: args}}
	raw, err := json.Marshal(req)
	if err != nil {
		c.removePending(id)
		return callResult{}, fmt.Errorf("mcp: marshal request: %w", err)
	}

	c.writeMu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, raw)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.removePending(id)
		return callResult{}, writeErr
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case resp := <-replyCh:
		if isTransportFailure(resp) {
			return callResult{}, fmt.Errorf("mcp: connection to %s dropped mid-call", c.serverName)
		}
		var cr callResult
		if err := json.Unmarshal(resp.Result, &cr); err != nil {
			return callResult{}, fmt.Errorf("mcp: decode result: %w", err)
		}
		return cr, nil
	case <-callCtx.Done():
		c.removePending(id)
		return callResult{}, callCtx.Err()
	}
}

func (c *connection) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosed))
		close(c.closeCh)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}
