package mcp

import "errors"

var (
	// ErrUnknownServer is returned by Pool.Call when server was never
	// registered in the Pool's configuration.
	ErrUnknownServer = errors.New("mcp: unknown server")
	// ErrPoolClosed is returned by Pool.Call once Close has been invoked.
	ErrPoolClosed = errors.New("mcp: pool closed")
)
