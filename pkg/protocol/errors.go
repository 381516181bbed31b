package protocol

import "errors"

// Error kinds shared by the connection manager and the transfer engine.
// Callers wrap them with fmt.Errorf("...: %w", ErrX) and match with errors.Is.
var (
	// ErrInvalidState indicates an operation attempted outside its valid state.
	ErrInvalidState = errors.New("invalid state")
	// ErrTimeout indicates a handshake or gathering deadline was exceeded.
	ErrTimeout = errors.New("timeout")
	// ErrChannel indicates a transport-level send or receive failure.
	ErrChannel = errors.New("channel error")
	// ErrIntegrity indicates a checksum mismatch or a missing chunk.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrProtocol indicates an unexpected or unparseable message.
	ErrProtocol = errors.New("protocol error")
)
