// Package recvqueue implements the receive side of the priority
// fragmentation engine: the Demuxer (C4), which routes inbound bytes by
// priority and meters aggregate memory, and the ReassemblyBuffer (C5),
// the per-priority stream parser that validates framing, accumulates
// blob bytes, enforces size caps, and hands completed objects to a
// deserializer and callback.
package recvqueue

import (
	"sync"

	"github.com/smnsjas/go-fragengine/enginelog"
	"github.com/smnsjas/go-fragengine/fragment"
)

// Deserializer converts a reassembled blob back into an application
// object. It may fail with an arbitrary error, which ProcessRawData wraps
// as a KindDeserialization Error after resetting the affected state.
type Deserializer interface {
	Deserialize(blob []byte) (interface{}, error)
}

// DeserializerFunc adapts a plain function to Deserializer.
type DeserializerFunc func(blob []byte) (interface{}, error)

// Deserialize implements Deserializer.
func (f DeserializerFunc) Deserialize(blob []byte) (interface{}, error) { return f(blob) }

// ObjectCallback receives one fully reassembled, deserialized object. A
// non-nil return propagates to the caller of ProcessRawData after the
// buffer has already reset its state for the next object.
type ObjectCallback func(obj interface{}) error

// ReassemblyBuffer is the per-priority state machine of spec §4.5: Idle
// or InProgress(objId, nextFragId, partialBlob, receivedSize), fed by
// repeated ProcessRawData calls carrying raw, boundary-unaware bytes.
type ReassemblyBuffer struct {
	priority     fragment.Priority
	deserializer Deserializer
	scope        Scope

	mu                     sync.Mutex
	pending                []byte
	inProgress             bool
	currentObjectID        uint64
	nextExpectedFragmentID uint64
	assembledBlob          []byte
	receivedSizeSoFar      int
	ignoreOffSync          bool
	maxObjectSize          int // 0 = unbounded
	disposed               bool

	gateMu            sync.Mutex
	threadsProcessing int
	maxThreads        int

	sink fragment.EventSink
	log  enginelog.Logger
}

func newReassemblyBuffer(priority fragment.Priority, deserializer Deserializer, scope Scope) *ReassemblyBuffer {
	return &ReassemblyBuffer{
		priority:     priority,
		deserializer: deserializer,
		scope:        scope,
		maxThreads:   1,
		sink:         fragment.NoopEventSink{},
		log:          enginelog.Noop(),
	}
}

// SetLogger installs the diagnostic logger. Nil is equivalent to
// enginelog.Noop().
func (b *ReassemblyBuffer) SetLogger(l enginelog.Logger) {
	b.log = enginelog.Safe(l)
}

// SetEventSink installs the sink notified once per fragment accepted into
// an object (regardless of whether it completes the object). Off-sync
// fragments discarded after PrepareForStreamConnect are not reported.
func (b *ReassemblyBuffer) SetEventSink(sink fragment.EventSink) {
	if sink == nil {
		sink = fragment.NoopEventSink{}
	}
	b.sink = sink
}

// SetMaxObjectSize bounds the cumulative reassembled size of one object.
// 0 means unbounded.
func (b *ReassemblyBuffer) SetMaxObjectSize(n int) {
	b.mu.Lock()
	b.maxObjectSize = n
	b.mu.Unlock()
}

// SetAllowTwoThreads relaxes the single-parser rule to two concurrent
// entrants, for the server-command variant that reenters synchronously
// from its own object callback.
func (b *ReassemblyBuffer) SetAllowTwoThreads(allow bool) {
	b.gateMu.Lock()
	if allow {
		b.maxThreads = 2
	} else {
		b.maxThreads = 1
	}
	b.gateMu.Unlock()
}

// PrepareForStreamConnect marks the buffer to silently discard
// off-sequence fragments until the next start-of-object fragment, for
// tolerating a stream reconnect's trailing fragments from the prior
// connection.
func (b *ReassemblyBuffer) PrepareForStreamConnect() {
	b.mu.Lock()
	b.ignoreOffSync = true
	b.mu.Unlock()
}

// Dispose marks the buffer disposed. A thread already inside
// ProcessRawData finishes its current iteration and exits after its next
// object-delivery callback (or immediately if none is in flight); a
// later ProcessRawData call returns without effect.
func (b *ReassemblyBuffer) Dispose() {
	b.mu.Lock()
	b.disposed = true
	b.mu.Unlock()
}

// PendingBytes reports the number of unparsed bytes buffered, for
// diagnostics/metrics.
func (b *ReassemblyBuffer) PendingBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *ReassemblyBuffer) tryEnter() bool {
	b.gateMu.Lock()
	defer b.gateMu.Unlock()
	if b.threadsProcessing >= b.maxThreads {
		return false
	}
	b.threadsProcessing++
	return true
}

func (b *ReassemblyBuffer) exit() {
	b.gateMu.Lock()
	b.threadsProcessing--
	b.gateMu.Unlock()
}

// resetLocked returns the state machine to Idle. Must be called with mu
// held. ignoreOffSync is deliberately untouched: per spec it resets only
// on receipt of a start fragment, never merely because an error occurred
// or an object completed.
func (b *ReassemblyBuffer) resetLocked() {
	b.inProgress = false
	b.currentObjectID = 0
	b.nextExpectedFragmentID = 0
	b.assembledBlob = nil
	b.receivedSizeSoFar = 0
}

func (b *ReassemblyBuffer) newError(kind ErrorKind) *Error {
	return &Error{Kind: kind, Scope: b.scope, Priority: b.priority}
}

func (b *ReassemblyBuffer) newErrorWrap(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Scope: b.scope, Priority: b.priority, Err: err}
}

// consumeResult reports the outcome of consuming at most one fragment
// from pending.
type consumeResult struct {
	consumed      bool
	completed     bool
	completedBlob []byte
}

// consumeOne parses and applies at most one fragment's worth of the
// pending byte stream, implementing the transition table and the parsing
// loop steps (a)-(f) of spec §4.5. It never holds b.mu while invoking the
// event sink.
func (b *ReassemblyBuffer) consumeOne() (consumeResult, error) {
	b.mu.Lock()

	if b.disposed {
		b.mu.Unlock()
		return consumeResult{}, nil
	}
	if len(b.pending) < fragment.HeaderSize {
		b.mu.Unlock()
		return consumeResult{}, nil
	}

	header := b.pending[:fragment.HeaderSize]
	objectID := fragment.HeaderObjectID(header)
	if objectID == 0 {
		b.resetLocked()
		b.mu.Unlock()
		return consumeResult{}, b.newError(KindInvalidObjectID)
	}

	blobLen := fragment.HeaderBlobLength(header)
	total, err := fragment.CheckedTotalLength(blobLen)
	if err != nil {
		b.resetLocked()
		b.mu.Unlock()
		return consumeResult{}, b.newError(KindFragmentTooLarge)
	}
	if len(b.pending) < total {
		b.mu.Unlock()
		return consumeResult{}, nil // await more bytes
	}

	start := fragment.HeaderIsStart(header)
	prospective := total
	if b.inProgress && !start {
		prospective = b.receivedSizeSoFar + total
	}
	if b.maxObjectSize > 0 && prospective > b.maxObjectSize {
		b.resetLocked()
		b.mu.Unlock()
		return consumeResult{}, b.newError(KindObjectTooLarge)
	}

	frag, derr := fragment.Decode(b.pending[:total])
	if derr != nil {
		b.resetLocked()
		b.mu.Unlock()
		return consumeResult{}, derr
	}
	b.pending = b.pending[total:]

	switch {
	case frag.Start:
		b.ignoreOffSync = false
		b.inProgress = true
		b.currentObjectID = frag.ObjectID
		b.nextExpectedFragmentID = 1
		b.assembledBlob = append([]byte(nil), frag.Blob...)
		b.receivedSizeSoFar = total

	case b.inProgress && frag.ObjectID == b.currentObjectID && frag.FragmentID == b.nextExpectedFragmentID:
		b.assembledBlob = append(b.assembledBlob, frag.Blob...)
		b.receivedSizeSoFar += total
		b.nextExpectedFragmentID++

	default:
		ignoring := b.ignoreOffSync
		kind := KindObjectIDMismatch
		if b.inProgress && frag.ObjectID == b.currentObjectID {
			kind = KindFragmentOutOfSequence
		}
		if ignoring {
			frag.Release()
			b.mu.Unlock()
			b.log.Debugf("recvqueue: discarding off-sync fragment (priority=%s, obj=%d, frag=%d)",
				b.priority, frag.ObjectID, frag.FragmentID)
			return consumeResult{consumed: true}, nil
		}
		b.resetLocked()
		b.mu.Unlock()
		frag.Release()
		return consumeResult{}, b.newError(kind)
	}

	ev := fragment.NewEvent(b.priority, frag)
	end := frag.End
	frag.Release()

	if end {
		blob := b.assembledBlob
		b.resetLocked()
		b.mu.Unlock()
		b.sink.FragmentReceived(ev)
		return consumeResult{consumed: true, completed: true, completedBlob: blob}, nil
	}

	b.mu.Unlock()
	b.sink.FragmentReceived(ev)
	return consumeResult{consumed: true}, nil
}

// ProcessRawData feeds newly received bytes into the buffer and drains as
// many complete objects as the stream now contains. It panics if called
// concurrently beyond the configured thread limit (a programmer error:
// the transport is expected to serialize its own delivery except for the
// explicitly enabled two-thread reentrant mode).
func (b *ReassemblyBuffer) ProcessRawData(data []byte, cb ObjectCallback) error {
	if !b.tryEnter() {
		panic("recvqueue: ProcessRawData re-entered beyond the allowed thread limit")
	}
	defer b.exit()

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil
	}
	b.pending = append(b.pending, data...)
	b.mu.Unlock()

	for {
		res, err := b.consumeOne()
		if err != nil {
			return err
		}
		if !res.consumed {
			return nil
		}
		if !res.completed {
			continue
		}

		obj, derr := b.deserializer.Deserialize(res.completedBlob)
		if derr != nil {
			return b.newErrorWrap(KindDeserialization, derr)
		}

		if cb != nil {
			if cerr := cb(obj); cerr != nil {
				return cerr
			}
		}

		b.mu.Lock()
		disposed := b.disposed
		b.mu.Unlock()
		if disposed {
			return nil
		}
	}
}
