package client

import "github.com/pkg/errors"

var (
	// ErrSendFailed signals a dispersal round that never got an ack
	// within the ack timeout; the caller decides whether to abort or
	// let the dispersal routine proceed to the next shard.
	ErrSendFailed = errors.New("client: send failed, no ack within timeout")
	// ErrUnavailable signals a collection round that never produced a
	// usable shard body (timeout, or a reassembled body whose digest does
	// not match the requested one).
	ErrUnavailable = errors.New("client: shard unavailable")
	// ErrFileUnrecoverable signals that fewer than N of 2N shards could
	// be collected, including the parity fallback.
	ErrFileUnrecoverable = errors.New("client: file unrecoverable, too few shards collected")
)
