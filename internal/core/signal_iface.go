package core

import "errors"

// ErrBackpressure is returned by TrySend when the outbound queue is full.
var ErrBackpressure = errors.New("backpressure")

// ErrConnClosed is returned by TrySend after Close.
var ErrConnClosed = errors.New("connection closed")

// Frame is an encoded envelope ready for the wire.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// ID is stable for the connection lifetime; used for logs and rate limits.
	ID() string
	// TrySend never blocks; a full buffer returns ErrBackpressure.
	TrySend(Frame) error
	// Close flushes queued frames and terminates the channel. Idempotent.
	Close()
}
