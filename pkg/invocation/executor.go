// Package invocation implements the Invocation Executor (C4, §4.4) and the
// Result Formatter (C5, §4.5): turning a parsed xmlstream.Invocation into
// an ordered slice of result.Result, and rendering those back into the
// exact <result index="N">…</result> text spliced into the conversation.
package invocation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relaymind/orchestrator/pkg/result"
	"github.com/relaymind/orchestrator/pkg/xmlstream"
)

// Caller is the one thing the Executor needs from the MCP Client Pool —
// the narrow transport abstraction called for by §9's design notes
// ("a small interface callTool(server, action, args) -> Result
// abstracting only the transport").
type Caller interface {
	Call(ctx context.Context, server, action string, args any, perCallTimeout time.Duration) result.Result
}

// Config bounds how long an invocation's calls are allowed to run.
type Config struct {
	MaxPerCall   time.Duration // per-call timeout passed to the Pool
	AggregateCap time.Duration // ceiling on a whole Parallel block's wall time
}

// DefaultConfig matches the kind of bound a single slow tool call
// shouldn't be allowed to exceed without the block as a whole timing out.
var DefaultConfig = Config{
	MaxPerCall:   60 * time.Second,
	AggregateCap: 120 * time.Second,
}

// Executor is the Invocation Executor (C4).
type Executor struct {
	caller Caller
	cfg    Config
}

func NewExecutor(caller Caller, cfg Config) *Executor {
	if cfg.MaxPerCall <= 0 {
		cfg.MaxPerCall = DefaultConfig.MaxPerCall
	}
	if cfg.AggregateCap <= 0 {
		cfg.AggregateCap = DefaultConfig.AggregateCap
	}
	return &Executor{caller: caller, cfg: cfg}
}

// aggregateDeadline is the shared deadline for a Parallel block: §4.4 calls
// for "min(max_per_call, aggregate_cap)".
func (e *Executor) aggregateDeadline() time.Duration {
	if e.cfg.MaxPerCall < e.cfg.AggregateCap {
		return e.cfg.MaxPerCall
	}
	return e.cfg.AggregateCap
}

// Execute dispatches inv and returns results in strictly positional order
// (§4.4 Determinism), regardless of the order calls actually complete in.
func (e *Executor) Execute(ctx context.Context, inv *xmlstream.Invocation) []result.Result {
	switch inv.Kind {
	case xmlstream.KindSingle:
		return []result.Result{e.callLeaf(ctx, e.cfg.MaxPerCall, inv.Single, 0)}
	case xmlstream.KindParallel:
		return e.executeParallel(ctx, inv.Children)
	case xmlstream.KindSequential:
		return e.executeSequential(ctx, inv.Children)
	default:
		return nil
	}
}

func (e *Executor) callLeaf(ctx context.Context, timeout time.Duration, leaf *xmlstream.Leaf, index int) result.Result {
	if err := ctx.Err(); err != nil {
		return result.Result{Index: index, Status: result.StatusCancelled, Content: "cancelled"}
	}
	r := e.caller.Call(ctx, leaf.Server, leaf.Action, leaf.Payload, timeout)
	r.Index = index
	return r
}

// executeParallel fans out every child concurrently under one shared
// aggregate deadline and waits for all of them — no early exit on a
// first failure (§4.4).
func (e *Executor) executeParallel(ctx context.Context, children []*xmlstream.Leaf) []result.Result {
	aggCtx, cancel := context.WithTimeout(ctx, e.aggregateDeadline())
	defer cancel()

	results := make([]result.Result, len(children))
	var wg sync.WaitGroup
	for i, leaf := range children {
		wg.Add(1)
		go func(i int, leaf *xmlstream.Leaf) {
			defer wg.Done()
			results[i] = e.callLeaf(aggCtx, e.cfg.MaxPerCall, leaf, i)
		}(i, leaf)
	}
	wg.Wait()
	return results
}

// executeSequential iterates children in order, substituting
// {results[k](.path)?} placeholders from prior successful siblings before
// each call, and aborting the remainder (without executing them) the
// moment a referenced sibling did not succeed (§4.4).
func (e *Executor) executeSequential(ctx context.Context, children []*xmlstream.Leaf) []result.Result {
	results := make([]result.Result, len(children))
	aborted := false
	abortedAt := -1

	for i, leaf := range children {
		if aborted {
			results[i] = result.Result{
				Index:   i,
				Status:  result.StatusToolError,
				Content: fmt.Sprintf("aborted: prior step %d failed", abortedAt),
			}
			continue
		}

		payload, ok := substitutePlaceholders(leaf.Payload, leaf.Placeholders, results[:i])
		if !ok {
			abortedAt = lastFailedSibling(leaf.Placeholders, results[:i])
			aborted = true
			results[i] = result.Result{
				Index:   i,
				Status:  result.StatusToolError,
				Content: fmt.Sprintf("aborted: prior step %d failed", abortedAt),
			}
			continue
		}

		substituted := *leaf
		substituted.Payload = payload
		results[i] = e.callLeaf(ctx, e.cfg.MaxPerCall, &substituted, i)
		if !results[i].Success() {
			aborted = true
			abortedAt = i
		}
	}
	return results
}

// substitutePlaceholders resolves every recorded placeholder against prior
// results. Returns ok=false if any referenced sibling did not succeed,
// signaling the caller to abort instead of dispatching this leaf.
func substitutePlaceholders(payload any, placeholders []xmlstream.Placeholder, prior []result.Result) (any, bool) {
	if len(placeholders) == 0 {
		return payload, true
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return payload, true
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, ph := range placeholders {
		if ph.SiblingK < 0 || ph.SiblingK >= len(prior) {
			continue
		}
		sibling := prior[ph.SiblingK]
		if !sibling.Success() {
			return nil, false
		}
		s, ok := out[ph.ParamName].(string)
		if !ok {
			continue
		}
		projection := projectSibling(sibling, ph.Path)
		out[ph.ParamName] = strings.Replace(s, ph.Raw, projection, 1)
	}
	return out, true
}

func lastFailedSibling(placeholders []xmlstream.Placeholder, prior []result.Result) int {
	for _, ph := range placeholders {
		if ph.SiblingK >= 0 && ph.SiblingK < len(prior) && !prior[ph.SiblingK].Success() {
			return ph.SiblingK
		}
	}
	return -1
}

// projectSibling renders a prior sibling's raw payload at path, falling
// back to its content if no structured raw payload is available (§4.4).
func projectSibling(r result.Result, path string) string {
	if r.Raw == nil {
		return r.Content
	}
	if path == "" {
		return marshalProjection(r.Raw)
	}
	v, ok := navigate(r.Raw, strings.Split(path, "."))
	if !ok {
		return r.Content
	}
	return marshalProjection(v)
}

func navigate(v any, segments []string) (any, bool) {
	cur := v
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func marshalProjection(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
