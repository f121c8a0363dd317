package fragment

// previewLength bounds how much of a fragment's blob is copied into an
// Event for logging/tracing; never echo an entire multi-kilobyte blob into
// an event sink.
const previewLength = 32

// Event is the structured record emitted once per fragment sent and once
// per fragment received, per the engine's event sink contract. Consumers
// (loggers, metrics, ETW-style tracers) receive this instead of raw bytes.
type Event struct {
	Priority    Priority
	ObjectID    uint64
	FragmentID  uint64
	Start       bool
	End         bool
	BlobLength  int
	BlobPreview []byte
}

// NewEvent builds an Event from a fragment, truncating the blob preview.
func NewEvent(priority Priority, f *Fragment) Event {
	n := len(f.Blob)
	if n > previewLength {
		n = previewLength
	}
	preview := make([]byte, n)
	copy(preview, f.Blob[:n])

	return Event{
		Priority:    priority,
		ObjectID:    f.ObjectID,
		FragmentID:  f.FragmentID,
		Start:       f.Start,
		End:         f.End,
		BlobLength:  len(f.Blob),
		BlobPreview: preview,
	}
}

// EventSink receives one notification per fragment sent (appended to a
// priority send buffer) and one per fragment received (parsed off an
// inbound byte stream). Implementations must be cheap or defer work.
// FragmentReceived is invoked with the reassembly buffer's lock released.
// FragmentSent is invoked from Fragmentor.FragmentInto, which
// sendqueue.Queue.Add runs while holding the writer mutex of the object's
// priority.
type EventSink interface {
	FragmentSent(Event)
	FragmentReceived(Event)
}

// NoopEventSink discards all events. It is the default when no sink is
// configured.
type NoopEventSink struct{}

// FragmentSent implements EventSink.
func (NoopEventSink) FragmentSent(Event) {}

// FragmentReceived implements EventSink.
func (NoopEventSink) FragmentReceived(Event) {}
