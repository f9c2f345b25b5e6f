package chat

import "errors"

var (
	// ErrNotConnected is returned by Send when the connection is not in
	// the Connected state. The caller owns buffering/retry; the core does
	// not queue sends across disconnects.
	ErrNotConnected = errors.New("chat: not connected")

	// ErrClosed is returned when an operation is attempted after
	// Disconnect tore the manager down.
	ErrClosed = errors.New("chat: connection manager closed")
)
