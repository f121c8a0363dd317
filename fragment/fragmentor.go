package fragment

import "sync/atomic"

// Sink receives the wire-encoded bytes of one fragment at a time, in
// order. A Fragmentor calls Append once per fragment it produces; making
// the whole sequence atomic with respect to other writers is the caller's
// job (sendqueue.Queue.Add does this by holding its per-priority writer
// mutex across the entire FragmentInto call).
type Sink interface {
	Append(encoded []byte) error
}

// Fragmentor splits one serialized object into an ordered run of
// fragments of bounded size, per spec: each fragment carries at most
// maxSize-HeaderSize bytes of blob, fragment 0 has the start bit, the last
// fragment has the end bit, and a single-fragment object carries both.
//
// ObjectIds are drawn from a monotonic counter private to the Fragmentor,
// starting at 1. Uniqueness within one connection/direction suffices; the
// counter need not persist across sessions.
type Fragmentor struct {
	maxSize  int
	objectID atomic.Uint64
	sink     EventSink
}

// NewFragmentor creates a Fragmentor whose fragments (including header)
// are at most maxSize bytes. If maxSize <= HeaderSize, no payload fits,
// and each object is emitted whole as a single fragment instead.
func NewFragmentor(maxSize int) *Fragmentor {
	return &Fragmentor{maxSize: maxSize, sink: NoopEventSink{}}
}

// NewFragmentorWithID creates a Fragmentor whose first produced ObjectId
// is currentObjectID+1. Use this to resume a counter sequenced by an
// out-of-band handshake message that already consumed earlier ids.
func NewFragmentorWithID(maxSize int, currentObjectID uint64) *Fragmentor {
	f := NewFragmentor(maxSize)
	f.objectID.Store(currentObjectID)
	return f
}

// SetObjectID sets the counter so the next Fragment/FragmentInto call
// produces ObjectId id+1.
func (f *Fragmentor) SetObjectID(id uint64) {
	f.objectID.Store(id)
}

// SetEventSink installs the sink notified once per fragment produced. A
// nil sink installs NoopEventSink.
func (f *Fragmentor) SetEventSink(sink EventSink) {
	if sink == nil {
		sink = NoopEventSink{}
	}
	f.sink = sink
}

// Fragment splits data into one or more Fragment values without writing
// them anywhere. Zero-length data still produces exactly one fragment
// with both Start and End set and an empty Blob.
func (f *Fragmentor) Fragment(data []byte) []*Fragment {
	objectID := f.objectID.Add(1)

	maxPayload := f.maxSize - HeaderSize
	if maxPayload <= 0 {
		maxPayload = len(data)
		if maxPayload == 0 {
			maxPayload = 1
		}
	}

	var frags []*Fragment
	var fragmentID uint64

	for offset := 0; offset < len(data); {
		end := offset + maxPayload
		if end > len(data) {
			end = len(data)
		}
		frags = append(frags, &Fragment{
			ObjectID:   objectID,
			FragmentID: fragmentID,
			Start:      offset == 0,
			End:        end == len(data),
			Blob:       data[offset:end],
		})
		offset = end
		fragmentID++
	}

	if len(frags) == 0 {
		frags = append(frags, &Fragment{
			ObjectID:   objectID,
			FragmentID: 0,
			Start:      true,
			End:        true,
			Blob:       nil,
		})
	}

	return frags
}

// FragmentInto splits data and writes each fragment's wire encoding to
// sink in order, emitting one EventSink.FragmentSent per fragment. This is
// the operation the priority send queue drives: one call appends the
// complete sequence for one object to a single priority's buffer.
func (f *Fragmentor) FragmentInto(data []byte, priority Priority, sink Sink) error {
	for _, frag := range f.Fragment(data) {
		if err := sink.Append(frag.Encode()); err != nil {
			return err
		}
		f.sink.FragmentSent(NewEvent(priority, frag))
	}
	return nil
}
