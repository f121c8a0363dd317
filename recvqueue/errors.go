package recvqueue

import (
	"fmt"

	"github.com/smnsjas/go-fragengine/fragment"
)

// Scope distinguishes which side of the connection raised a size-limit
// error, matching spec §7's client/server error variants without doubling
// the number of error kinds.
type Scope int

const (
	// ScopeClient marks an error raised by a client-side demuxer/buffer.
	ScopeClient Scope = iota
	// ScopeServer marks an error raised by a server-side demuxer/buffer.
	ScopeServer
)

// String implements fmt.Stringer.
func (s Scope) String() string {
	if s == ScopeServer {
		return "server"
	}
	return "client"
}

// ErrorKind is the closed taxonomy of spec §7. All kinds reset the
// affected reassembly state before the error is returned.
type ErrorKind int

const (
	// KindInvalidObjectID: header carries an object id <= 0. The Demuxer
	// also returns it for a priority outside the two defined classes.
	KindInvalidObjectID ErrorKind = iota
	// KindFragmentTooLarge: header+blob length overflows or otherwise
	// violates reasonable bounds.
	KindFragmentTooLarge
	// KindObjectIDMismatch: mid-object fragment's object id differs from
	// the current one.
	KindObjectIDMismatch
	// KindFragmentOutOfSequence: mid-object fragment id is not expected.
	KindFragmentOutOfSequence
	// KindObjectTooLarge: cumulative reassembled size exceeds
	// MaximumReceivedObjectSize.
	KindObjectTooLarge
	// KindTotalDataTooLarge: aggregate inbound bytes exceed
	// MaximumReceivedDataSize.
	KindTotalDataTooLarge
	// KindDeserialization: the deserializer returned an error; Err holds
	// the opaque cause.
	KindDeserialization
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidObjectID:
		return "InvalidObjectId"
	case KindFragmentTooLarge:
		return "FragmentTooLarge"
	case KindObjectIDMismatch:
		return "ObjectIdMismatch"
	case KindFragmentOutOfSequence:
		return "FragmentOutOfSequence"
	case KindObjectTooLarge:
		return "ObjectTooLarge"
	case KindTotalDataTooLarge:
		return "TotalDataTooLarge"
	case KindDeserialization:
		return "DeserializationError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is a transport-level protocol error raised by the receive
// demuxer or a reassembly buffer. The caller is expected to terminate the
// channel; the protocol offers no resynchronization primitive except
// PrepareForStreamConnect on reconnect.
type Error struct {
	Kind     ErrorKind
	Scope    Scope
	Priority fragment.Priority
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recvqueue: %s (%s, priority=%s): %v", e.Kind, e.Scope, e.Priority, e.Err)
	}
	return fmt.Sprintf("recvqueue: %s (%s, priority=%s)", e.Kind, e.Scope, e.Priority)
}

// Unwrap exposes the wrapped cause, if any (set only for
// KindDeserialization).
func (e *Error) Unwrap() error {
	return e.Err
}
