package llmclient

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicConfig configures the concrete anthropic-sdk-go-backed client.
type AnthropicConfig struct {
	APIKey    string
	Model     anthropic.Model
	MaxTokens int64
}

// DefaultMaxTokens is used when AnthropicConfig.MaxTokens is unset.
const DefaultMaxTokens = 4096

// AnthropicClient implements StreamingClient against the Anthropic
// Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient builds a client from cfg. An empty APIKey defers to
// the SDK's own ANTHROPIC_API_KEY environment lookup.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

// StreamChat implements StreamingClient. The first Message with
// RoleSystem (if any) becomes the request's system prompt; the remainder
// alternate user/assistant as the conversation requires.
func (c *AnthropicClient) StreamChat(ctx context.Context, messages []Message) (Stream, error) {
	var system string
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = m.Content
		case RoleUser:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			return nil, fmt.Errorf("llmclient: unknown message role %q", m.Role)
		}
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	sdkStream := c.client.Messages.NewStreaming(ctx, params)
	return &anthropicStream{sdkStream: sdkStream}, nil
}

// anthropicStream adapts the SDK's event-level stream (content block
// start/delta/stop, message start/delta/stop, …) to the text-chunk-only
// Stream interface the Session Loop consumes — every non-text-delta event
// is skipped transparently inside Next.
type anthropicStream struct {
	sdkStream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	current   string
	err       error
}

func (s *anthropicStream) Next() bool {
	for s.sdkStream.Next() {
		event := s.sdkStream.Current()
		variant := event.AsAny()
		delta, ok := variant.(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		textDelta, ok := delta.Delta.AsAny().(anthropic.TextDelta)
		if !ok {
			continue
		}
		s.current = textDelta.Text
		return true
	}
	s.err = s.sdkStream.Err()
	return false
}

func (s *anthropicStream) Current() string { return s.current }
func (s *anthropicStream) Err() error      { return s.err }
func (s *anthropicStream) Close() error    { return s.sdkStream.Close() }
