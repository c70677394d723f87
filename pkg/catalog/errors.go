package catalog

import "errors"

var (
	// ErrUnknownServer is returned when a server name or alias does not
	// resolve to any loaded catalog entry.
	ErrUnknownServer = errors.New("catalog: unknown server")

	// ErrUnknownAction is returned when an action name or alias does not
	// resolve within its (already-resolved) server.
	ErrUnknownAction = errors.New("catalog: unknown action")

	// ErrPayloadInvalid is returned when an invocation payload fails
	// schema validation for its resolved (server, action) pair.
	ErrPayloadInvalid = errors.New("catalog: payload failed schema validation")
)
