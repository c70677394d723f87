// Package llmclient implements the consumed LLM provider interface (§6.2):
// a streaming chat endpoint accepting an ordered conversation and
// returning an async sequence of text chunks, with the ability to stop
// reading (and therefore billing) the moment the client has seen enough.
package llmclient

import "context"

// Role identifies a conversation segment's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one segment of the ordered conversation sent to the provider.
type Message struct {
	Role    Role
	Content string
}

// Stream is a provider-agnostic iterator over text chunks, shaped after
// the SDK's own streaming iterator (Next/Current/Err/Close) so the
// concrete Anthropic client can wrap its stream with almost no
// translation layer.
type Stream interface {
	// Next advances to the next chunk, returning false when the stream
	// ends (error or normal completion — callers check Err after a false
	// return to distinguish the two).
	Next() bool
	// Current returns the text delta most recently advanced to.
	Current() string
	// Err returns the error that ended the stream, if any.
	Err() error
	// Close releases the underlying connection. Safe to call before the
	// stream is exhausted — this is how the Session Loop "stops
	// generation at the client side without incurring further billable
	// tokens" the moment it has seen a closing </execute_tools> (§6.2).
	Close() error
}

// StreamingClient is the interface the Session Loop depends on.
type StreamingClient interface {
	StreamChat(ctx context.Context, messages []Message) (Stream, error)
}
