package xmlstream

// EventKind discriminates the events the Tokenizer emits, in the order
// described by §4.1.
type EventKind int

const (
	// EventText carries plain prose (including verbatim <think> blocks)
	// to forward to the trajectory and the running prompt buffer.
	EventText EventKind = iota
	// EventToolBlockStart marks the byte offset at which a tool
	// invocation block began — either the legacy non-self-closing
	// <execute_tools> opening, or the first tag of a block later
	// confirmed by a self-closing <execute_tools />.
	EventToolBlockStart
	// EventToolBlockEnd carries the raw bytes of one captured tool
	// block, ready for the Tool Block Parser (C2).
	EventToolBlockEnd
	// EventAnswerBlock carries the text inside a closed <answer> tag.
	EventAnswerBlock
	// EventStreamEnd signals the LLM stream finished without a
	// terminator (no <answer>, no pending tool block).
	EventStreamEnd
	// EventParseError signals malformed XML per the §4.1 error policy.
	EventParseError
)

// Event is one item from the Tokenizer's output sequence.
type Event struct {
	Kind EventKind

	// Text holds plain prose for EventText, or the inner content for
	// EventAnswerBlock.
	Text string

	// Raw holds the opening tag text for EventToolBlockStart, or the
	// full captured block body for EventToolBlockEnd.
	Raw string

	// Err is set on EventParseError.
	Err error
}

func textEvent(s string) Event         { return Event{Kind: EventText, Text: s} }
func answerEvent(s string) Event       { return Event{Kind: EventAnswerBlock, Text: s} }
func toolStartEvent(raw string) Event  { return Event{Kind: EventToolBlockStart, Raw: raw} }
func toolEndEvent(raw string) Event    { return Event{Kind: EventToolBlockEnd, Raw: raw} }
func parseErrorEvent(err error) Event  { return Event{Kind: EventParseError, Err: err} }
func streamEndEvent() Event            { return Event{Kind: EventStreamEnd} }
