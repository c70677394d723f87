package xmlstream

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/relaymind/orchestrator/pkg/catalog"
)

// ParseErrorKind enumerates the Tool Block Parser's (C2) failure modes
// (§4.2).
type ParseErrorKind string

const (
	ParseErrorEmptyBlock     ParseErrorKind = "empty_block"
	ParseErrorUnknownServer  ParseErrorKind = "unknown_server"
	ParseErrorUnknownAction  ParseErrorKind = "unknown_action"
	ParseErrorMalformed      ParseErrorKind = "malformed"
	ParseErrorInvalidPayload ParseErrorKind = "invalid_payload"
)

// ParseError is returned by Parse when a captured tool block cannot be
// turned into an Invocation tree.
type ParseError struct {
	Kind    ParseErrorKind
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

var placeholderPattern = regexp.MustCompile(`\{results\[(\d+)\](\.[\w.]+)?\}`)

// Parse implements the Tool Block Parser (C2): it turns the raw bytes of
// one tool block captured by the Tokenizer into a typed Invocation tree.
func Parse(raw string, cat *catalog.Catalog) (*Invocation, *ParseError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &ParseError{Kind: ParseErrorEmptyBlock, Message: "tool block is empty"}
	}

	name, body, rest, ok := nextElement(trimmed)
	if !ok || strings.TrimSpace(rest) != "" {
		return nil, &ParseError{Kind: ParseErrorMalformed, Message: "expected exactly one top-level element"}
	}

	switch name {
	case "parallel":
		children, perr := parseChildren(body, cat, false)
		if perr != nil {
			return nil, perr
		}
		if len(children) == 0 {
			return nil, &ParseError{Kind: ParseErrorEmptyBlock, Message: "parallel block has no children"}
		}
		return &Invocation{Kind: KindParallel, Children: children}, nil

	case "sequential":
		children, perr := parseChildren(body, cat, true)
		if perr != nil {
			return nil, perr
		}
		if len(children) == 0 {
			return nil, &ParseError{Kind: ParseErrorEmptyBlock, Message: "sequential block has no children"}
		}
		return &Invocation{Kind: KindSequential, Children: children}, nil

	default:
		leaf, perr := parseLeafFromServerTag(name, body, cat, false)
		if perr != nil {
			return nil, perr
		}
		return &Invocation{Kind: KindSingle, Single: leaf}, nil
	}
}

// parseChildren splits a parallel/sequential body into sibling
// `<server><action>payload</action></server>` elements (§4.2 step 1: "a
// parallel/sequential block may not contain another" — nesting of a
// second parallel/sequential is rejected by parseLeafFromServerTag, since
// only server-name tags are accepted at this level).
func parseChildren(body string, cat *catalog.Catalog, sequential bool) ([]*Leaf, *ParseError) {
	var leaves []*Leaf
	cursor := strings.TrimSpace(body)
	for cursor != "" {
		name, inner, rest, ok := nextElement(cursor)
		if !ok {
			return nil, &ParseError{Kind: ParseErrorMalformed, Message: "malformed child element"}
		}
		if name == "parallel" || name == "sequential" {
			return nil, &ParseError{Kind: ParseErrorMalformed, Message: "nesting beyond one level is not permitted"}
		}
		leaf, perr := parseLeafFromServerTag(name, inner, cat, sequential)
		if perr != nil {
			return nil, perr
		}
		leaves = append(leaves, leaf)
		cursor = strings.TrimSpace(rest)
	}
	return leaves, nil
}

// parseLeafFromServerTag resolves a `<server_name><action_name>body</action_name></server_name>`
// element against the catalog and builds its Leaf.
func parseLeafFromServerTag(serverTag, serverBody string, cat *catalog.Catalog, sequential bool) (*Leaf, *ParseError) {
	serverName, err := cat.Resolve(serverTag)
	if err != nil {
		return nil, &ParseError{Kind: ParseErrorUnknownServer, Message: err.Error()}
	}

	actionTag, actionBody, rest, ok := nextElement(strings.TrimSpace(serverBody))
	if !ok || strings.TrimSpace(rest) != "" {
		return nil, &ParseError{Kind: ParseErrorMalformed, Message: "expected exactly one <action> element inside server tag"}
	}

	actionName, err := cat.ResolveAction(serverName, actionTag)
	if err != nil {
		return nil, &ParseError{Kind: ParseErrorUnknownAction, Message: err.Error()}
	}

	payload, rawBody, perr := parsePayload(serverName, actionName, actionBody, cat)
	if perr != nil {
		return nil, perr
	}

	leaf := &Leaf{Server: serverName, Action: actionName, Payload: payload, RawBody: rawBody}

	if m, ok := payload.(map[string]any); ok {
		known, kerr := cat.KnownParameters(serverName, actionName)
		if kerr == nil {
			for param := range m {
				if !known[param] {
					leaf.Warnings = append(leaf.Warnings,
						fmt.Sprintf("unknown parameter %q for %s.%s", param, serverName, actionName))
				}
			}
		}
		if sequential {
			leaf.Placeholders = scanPlaceholders(m)
		}
	}

	return leaf, nil
}

// parsePayload implements §4.2 step 2: JSON body if it looks like one,
// otherwise wrap the raw string under the action's default parameter.
func parsePayload(serverName, actionName, body string, cat *catalog.Catalog) (any, string, *ParseError) {
	trimmed := strings.TrimSpace(body)

	var payload any
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
			return nil, "", &ParseError{Kind: ParseErrorInvalidPayload, Message: fmt.Sprintf("invalid JSON payload: %v", err)}
		}
	} else {
		def, err := cat.ActionDefinition(serverName, actionName)
		if err != nil {
			return nil, "", &ParseError{Kind: ParseErrorUnknownAction, Message: err.Error()}
		}
		payload = map[string]any{def.DefaultParam: trimmed}
	}

	if m, ok := payload.(map[string]any); ok {
		if err := cat.ValidatePayload(serverName, actionName, m); err != nil {
			return nil, "", &ParseError{Kind: ParseErrorInvalidPayload, Message: err.Error()}
		}
	}
	return payload, trimmed, nil
}

// scanPlaceholders implements §4.2 step 3 / §9's string-leaf-only rule:
// only top-level string values are scanned for `{results[k](.path)?}`.
// The first matching placeholder per string wins (tie-breaker); literal
// braces may be escaped by doubling, which this scan does not need to
// unescape — substitution (in the Invocation Executor) handles that.
func scanPlaceholders(payload map[string]any) []Placeholder {
	var out []Placeholder
	for param, v := range payload {
		s, ok := v.(string)
		if !ok {
			continue
		}
		loc := placeholderPattern.FindStringSubmatchIndex(s)
		if loc == nil {
			continue
		}
		full := s[loc[0]:loc[1]]
		kStr := s[loc[2]:loc[3]]
		k, err := strconv.Atoi(kStr)
		if err != nil {
			continue
		}
		path := ""
		if loc[4] >= 0 {
			path = strings.TrimPrefix(s[loc[4]:loc[5]], ".")
		}
		out = append(out, Placeholder{ParamName: param, SiblingK: k, Path: path, Raw: full})
	}
	return out
}

// nextElement extracts the first top-level "<name>...</name>" element
// from s (after trimming leading whitespace) and returns the remainder.
// It locates the matching close tag by literal substring search rather
// than a backreference, which is safe because element names are
// alphanumeric/underscore/hyphen only and cannot themselves contain "<".
func nextElement(s string) (name, inner, rest string, ok bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	if !strings.HasPrefix(s, "<") {
		return "", "", "", false
	}
	m := openTagPattern.FindStringSubmatch(s)
	if m == nil || len(m[2]) > 0 {
		return "", "", "", false // self-closing tags aren't valid invocation elements
	}
	n := m[1]
	openLen := len(m[0])
	closeTag := "</" + n + ">"
	idx := strings.Index(s[openLen:], closeTag)
	if idx < 0 {
		return "", "", "", false
	}
	inner = s[openLen : openLen+idx]
	rest = s[openLen+idx+len(closeTag):]
	return n, inner, rest, true
}
