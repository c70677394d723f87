package xmlstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(t *testing.T, tok *Tokenizer, chunks ...string) []Event {
	t.Helper()
	var all []Event
	for _, c := range chunks {
		ev, err := tok.Feed(c)
		require.NoError(t, err)
		all = append(all, ev...)
	}
	ev, err := tok.Close()
	require.NoError(t, err)
	all = append(all, ev...)
	return all
}

func TestTokenizer_PlainText(t *testing.T) {
	tok := NewTokenizer()
	events := feedAll(t, tok, "hello world")

	require.Len(t, events, 2)
	assert.Equal(t, EventText, events[0].Kind)
	assert.Equal(t, "hello world", events[0].Text)
	assert.Equal(t, EventStreamEnd, events[1].Kind)
}

func TestTokenizer_ThinkBlockIsVerbatimText(t *testing.T) {
	tok := NewTokenizer()
	events := feedAll(t, tok, "<think>pondering</think> and more")

	var texts []string
	for _, e := range events {
		if e.Kind == EventText {
			texts = append(texts, e.Text)
		}
	}
	assert.Equal(t, []string{"<think>pondering</think>", " and more"}, texts)
}

func TestTokenizer_AnswerBlock(t *testing.T) {
	tok := NewTokenizer()
	events := feedAll(t, tok, "<answer>42</answer>")

	require.GreaterOrEqual(t, len(events), 1)
	assert.Equal(t, EventAnswerBlock, events[0].Kind)
	assert.Equal(t, "42", events[0].Text)
}

func TestTokenizer_SelfClosingToolBlock(t *testing.T) {
	tok := NewTokenizer()
	input := "<microsandbox><execute_python>print(1)</execute_python></microsandbox><execute_tools />"
	events := feedAll(t, tok, input)

	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, EventToolBlockStart, events[0].Kind)
	assert.Equal(t, EventToolBlockEnd, events[1].Kind)
	assert.Contains(t, events[1].Raw, "<microsandbox>")
}

func TestTokenizer_LegacyExecuteToolsWrapper(t *testing.T) {
	tok := NewTokenizer()
	input := "<execute_tools><microsandbox><execute_python>1</execute_python></microsandbox></execute_tools>"
	events := feedAll(t, tok, input)

	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, EventToolBlockStart, events[0].Kind)
	assert.Equal(t, EventToolBlockEnd, events[1].Kind)
	assert.Contains(t, events[1].Raw, "<microsandbox>")
}

func TestTokenizer_SplitAcrossChunks(t *testing.T) {
	tok := NewTokenizer()
	input := "<microsandbox><execute_python>print(1)</execute_python></microsandbox><execute_tools />"
	// Split at an arbitrary byte offset to exercise the bounded-lookahead path.
	mid := len(input) / 2
	events := feedAll(t, tok, input[:mid], input[mid:])

	var kinds []EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, EventToolBlockStart)
	assert.Contains(t, kinds, EventToolBlockEnd)
}

func TestTokenizer_UnclosedBlockIsParseError(t *testing.T) {
	tok := NewTokenizer()
	_, err := tok.Feed("<microsandbox><execute_python>print(1)")
	require.NoError(t, err)

	events, err := tok.Close()
	require.Error(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventParseError, events[0].Kind)
}

func TestTokenizer_NoResultSubstringInjectedByModel(t *testing.T) {
	// Invariant 3 (§8): the raw transcript shows "<result" only where the
	// orchestrator injected it. The tokenizer itself never manufactures
	// one from model text — it only ever forwards what it saw.
	tok := NewTokenizer()
	events := feedAll(t, tok, "plain <result index=\"0\">not really</result> text")

	var seen string
	for _, e := range events {
		if e.Kind == EventText {
			seen += e.Text
		}
	}
	assert.Contains(t, seen, "<result index=\"0\">not really</result>")
}
