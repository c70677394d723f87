package mcp

import "encoding/json"

// request is one outbound call_tool envelope (§6.1).
type request struct {
	ID     int64      `json:"id"`
	Method string     `json:"method"`
	Params callParams `json:"params"`
}

type callParams struct {
	Action    string `json:"action"`
	Arguments any    `json:"arguments"`
}

// response is one inbound envelope (§6.1). Result is left as RawMessage so
// decoding can be deferred until the id is matched to its pending future.
type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
}

// callResult is the decoded form of response.Result.
type callResult struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}
