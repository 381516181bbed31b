// Package signal carries pairing codes between the two peers before a direct
// connection exists.
package signal

import (
	"context"
	"errors"
)

// ErrClosed is returned by adapters after Close.
var ErrClosed = errors.New("signaling adapter closed")

// Adapter moves one opaque string each way.
type Adapter interface {
	Send(ctx context.Context, code string) error
	Receive(ctx context.Context) (string, error)
	Close() error
}
