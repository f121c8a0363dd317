package recvqueue

import (
	"sync"

	"github.com/smnsjas/go-fragengine/enginelog"
	"github.com/smnsjas/go-fragengine/fragment"
)

// Demuxer is the receive-side entry point (C4): it owns one
// ReassemblyBuffer per priority and a session-wide memory meter bounding
// the cumulative bytes received across both, per spec §4.4.
type Demuxer struct {
	scope Scope
	bufs  [fragment.NumPriorities]*ReassemblyBuffer

	memMu         sync.Mutex
	maxMemory     int64 // 0 = unbounded
	receivedTotal int64

	log enginelog.Logger
}

// NewDemuxer creates a Demuxer that deserializes completed objects with
// deserializer and tags its errors with scope.
func NewDemuxer(deserializer Deserializer, scope Scope) *Demuxer {
	d := &Demuxer{
		scope: scope,
		log:   enginelog.Noop(),
	}
	for p := 0; p < fragment.NumPriorities; p++ {
		d.bufs[p] = newReassemblyBuffer(fragment.Priority(p), deserializer, scope)
	}
	return d
}

// SetLogger installs the diagnostic logger on the Demuxer and propagates
// it to both per-priority buffers.
func (d *Demuxer) SetLogger(l enginelog.Logger) {
	d.log = enginelog.Safe(l)
	for _, b := range d.bufs {
		b.SetLogger(l)
	}
}

// SetEventSink propagates sink to both per-priority buffers.
func (d *Demuxer) SetEventSink(sink fragment.EventSink) {
	for _, b := range d.bufs {
		b.SetEventSink(sink)
	}
}

// SetMaxObjectSize propagates MaximumReceivedObjectSize to both
// per-priority buffers.
func (d *Demuxer) SetMaxObjectSize(n int) {
	for _, b := range d.bufs {
		b.SetMaxObjectSize(n)
	}
}

// SetMaxMemory bounds the aggregate bytes charged across both priorities
// via ProcessRawData. 0 means unbounded.
func (d *Demuxer) SetMaxMemory(n int64) {
	d.memMu.Lock()
	d.maxMemory = n
	d.memMu.Unlock()
}

// SetAllowTwoThreads propagates the reentrant-callback thread allowance
// to both per-priority buffers.
func (d *Demuxer) SetAllowTwoThreads(allow bool) {
	for _, b := range d.bufs {
		b.SetAllowTwoThreads(allow)
	}
}

// PrepareForStreamConnect propagates the reconnect-tolerance flag to both
// per-priority buffers.
func (d *Demuxer) PrepareForStreamConnect() {
	for _, b := range d.bufs {
		b.PrepareForStreamConnect()
	}
}

// Dispose propagates disposal to both per-priority buffers.
func (d *Demuxer) Dispose() {
	for _, b := range d.bufs {
		b.Dispose()
	}
}

func (d *Demuxer) chargeMemory(n int64) error {
	d.memMu.Lock()
	defer d.memMu.Unlock()
	if d.maxMemory > 0 && d.receivedTotal+n > d.maxMemory {
		return &Error{Kind: KindTotalDataTooLarge, Scope: d.scope}
	}
	d.receivedTotal += n
	return nil
}

// ProcessRawData routes data to the reassembly buffer for priority after
// charging its length against the session memory meter. The memory
// charge is never reversed, including on reassembly error: a single
// rejected channel is expected to be torn down, not retried in place.
func (d *Demuxer) ProcessRawData(data []byte, priority fragment.Priority, cb ObjectCallback) error {
	if !priority.Valid() {
		return &Error{Kind: KindInvalidObjectID, Scope: d.scope, Priority: priority}
	}
	if err := d.chargeMemory(int64(len(data))); err != nil {
		return err
	}
	return d.bufs[priority].ProcessRawData(data, cb)
}

// PendingBytes reports the unparsed byte count for priority, for
// metrics/diagnostics.
func (d *Demuxer) PendingBytes(priority fragment.Priority) int {
	if !priority.Valid() {
		return 0
	}
	return d.bufs[priority].PendingBytes()
}
