// Package engine wires the fragment, sendqueue, and recvqueue packages
// behind one Engine type: the outer seam an application plugs a
// transport and a deserializer into, analogous to how psrp.Client wires
// runspace.Pool on top of an io.ReadWriter in the teacher repo.
package engine

import (
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/smnsjas/go-fragengine/enginelog"
	"github.com/smnsjas/go-fragengine/fragment"
	"github.com/smnsjas/go-fragengine/recvqueue"
	"github.com/smnsjas/go-fragengine/sendqueue"
)

// Engine is one fragmentation/defragmentation session over a bidirectional
// byte transport: a Fragmentor-backed send queue feeding Write, and a
// Demuxer fed by Read. Each Engine carries an identifier returned by ID;
// it is not attached to log output or events.
type Engine struct {
	id        uuid.UUID
	transport io.ReadWriter

	send *sendqueue.Queue
	recv *recvqueue.Demuxer

	log enginelog.Logger
}

// Options configures a new Engine. FragmentSize must be set; every other
// field's zero value gives the defaults: no size caps, single-threaded
// receive processing.
type Options struct {
	// FragmentSize is the maximum wire size of one outbound fragment. A
	// value <= fragment.HeaderSize is rejected by New.
	FragmentSize int
	// MaximumReceivedObjectSize bounds one reassembled inbound object.
	// Zero means unbounded.
	MaximumReceivedObjectSize int
	// MaximumReceivedDataSize bounds the aggregate inbound bytes charged
	// across both receive priorities. Zero means unbounded.
	MaximumReceivedDataSize int64
	// AllowTwoThreadsToProcessRawData permits a synchronous reentrant
	// ProcessRawData call from within an object callback.
	AllowTwoThreadsToProcessRawData bool
	// Scope tags errors raised by the receive side as client- or
	// server-originated.
	Scope recvqueue.Scope
	// Logger receives diagnostic output from both queues. Nil is
	// equivalent to enginelog.Noop().
	Logger enginelog.Logger
	// EventSink receives one Event per fragment sent and received. Nil is
	// equivalent to fragment.NoopEventSink{}.
	EventSink fragment.EventSink
}

// New creates an Engine over transport using deserializer to reconstruct
// inbound objects. It returns an error if FragmentSize is too small to
// carry a header plus at least one payload byte.
func New(transport io.ReadWriter, deserializer recvqueue.Deserializer, opts Options) (*Engine, error) {
	if opts.FragmentSize <= fragment.HeaderSize {
		return nil, fmt.Errorf("engine: FragmentSize must exceed %d, got %d", fragment.HeaderSize, opts.FragmentSize)
	}

	log := enginelog.Safe(opts.Logger)
	sink := opts.EventSink
	if sink == nil {
		sink = fragment.NoopEventSink{}
	}

	send := sendqueue.New(opts.FragmentSize)
	send.SetLogger(log)
	send.SetEventSink(sink)

	recv := recvqueue.NewDemuxer(deserializer, opts.Scope)
	recv.SetLogger(log)
	recv.SetEventSink(sink)
	recv.SetMaxObjectSize(opts.MaximumReceivedObjectSize)
	recv.SetMaxMemory(opts.MaximumReceivedDataSize)
	recv.SetAllowTwoThreads(opts.AllowTwoThreadsToProcessRawData)

	return &Engine{
		id:        uuid.New(),
		transport: transport,
		send:      send,
		recv:      recv,
		log:       log,
	}, nil
}

// ID returns the engine's correlation identifier, stamped once at
// construction and stable for the Engine's lifetime.
func (e *Engine) ID() uuid.UUID {
	return e.id
}

// SetObjectID resumes the outbound fragment counter after id, for
// sessions whose first fragmented message must continue a sequence
// started by an out-of-band handshake exchange.
func (e *Engine) SetObjectID(id uint64) {
	e.send.SetObjectID(id)
}

// Send fragments serializedObj and enqueues it for delivery on priority.
// It does not itself write to the transport; call PumpOnce to drain the
// queue.
func (e *Engine) Send(serializedObj []byte, priority fragment.Priority) error {
	return e.send.Add(serializedObj, priority)
}

// PumpOnce writes at most one pending fragment to the transport,
// implementing the priority pull in terms of a concrete io.Writer. It
// returns wrote=false if nothing was queued and registered cb (if non-nil)
// as the one-shot notifier for the next available fragment.
func (e *Engine) PumpOnce(cb sendqueue.Callback) (wrote bool, err error) {
	data, _, ok := e.send.ReadOrRegister(cb)
	if !ok {
		return false, nil
	}
	if _, err := e.transport.Write(data); err != nil {
		return false, fmt.Errorf("engine: transport write: %w", err)
	}
	return true, nil
}

// ReceiveOnce reads one chunk from the transport and feeds it to the
// receive demuxer for priority, invoking cb for each object it completes.
// Most real transports carry their own priority multiplexing (e.g. the
// teacher's outofproc Stream tag); callers that demultiplex priority
// out-of-band call Demuxer.ProcessRawData directly via Recv instead.
func (e *Engine) ReceiveOnce(priority fragment.Priority, cb recvqueue.ObjectCallback) error {
	buf := make([]byte, 64*1024)
	n, err := e.transport.Read(buf)
	if n > 0 {
		if perr := e.recv.ProcessRawData(buf[:n], priority, cb); perr != nil {
			return perr
		}
	}
	if err != nil {
		return fmt.Errorf("engine: transport read: %w", err)
	}
	return nil
}

// Recv exposes the underlying Demuxer for callers that already have raw
// bytes in hand (e.g. from a transport with its own framing/priority
// tagging) and don't want Engine driving transport I/O itself.
func (e *Engine) Recv() *recvqueue.Demuxer {
	return e.recv
}

// PrepareForStreamConnect marks the receive side to tolerate trailing
// fragments from a prior connection attempt, per spec.md's reconnect
// scenario.
func (e *Engine) PrepareForStreamConnect() {
	e.recv.PrepareForStreamConnect()
}

// Close disposes the receive side and discards any queued outbound
// fragments. It does not close the underlying transport; callers own that.
func (e *Engine) Close() error {
	e.recv.Dispose()
	e.send.Clear()
	return nil
}

// Depth reports the number of outbound fragments currently queued for
// priority, for metrics/diagnostics.
func (e *Engine) Depth(priority fragment.Priority) int {
	return e.send.Depth(priority)
}
