package redipubsub

import (
	"errors"
	"fmt"
)

// ErrClosed signals that Close was called; command submission and
// pending commands receive this once shutdown is complete.
var ErrClosed = errors.New("redipubsub: connection closed")

// errConnLost signals connection loss while a wire command (a
// SUBSCRIBE/UNSUBSCRIBE pipeline) was in flight. The ledger is
// unaffected: pending entries stay pending and are resent on
// reconnect.
var errConnLost = errors.New("redipubsub: connection lost")

// errProtocol signals invalid RESP reception or an unrecognized push
// frame shape.
var errProtocol = errors.New("redipubsub: protocol violation")

// ServerError is a message sent by the Redis server in place of a
// normal reply (a RESP error reply).
type ServerError string

// Error implements the error interface.
func (e ServerError) Error() string {
	return fmt.Sprintf("redipubsub: server error %q", string(e))
}

// Prefix returns the first word of the error, which conventionally
// identifies the error kind (e.g. "ERR", "NOAUTH").
func (e ServerError) Prefix() string {
	s := string(e)
	for i, r := range s {
		if r == ' ' {
			return s[:i]
		}
	}
	return s
}
