// Package sendqueue implements the priority send queue (spec §4.3): two
// per-priority append-only fragment buffers and a single-reader pull
// interface with one-shot callback registration, sitting on top of the
// fragment package's codec and Fragmentor.
package sendqueue

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/smnsjas/go-fragengine/enginelog"
	"github.com/smnsjas/go-fragengine/fragment"
)

// ErrInvalidPriority is returned by Add when given a Priority outside the
// closed PromptResponse/Default enumeration.
var ErrInvalidPriority = errors.New("sendqueue: invalid priority")

// Callback is invoked at most once per registration, when a fragment
// becomes available after a prior empty ReadOrRegister call.
type Callback func(data []byte, priority fragment.Priority)

// Queue is the priority send queue. One Queue serves one connection: its
// Fragmentor allocates a single per-direction monotonic ObjectId sequence
// shared by both priorities.
type Queue struct {
	readMu   sync.Mutex
	writerMu [fragment.NumPriorities]sync.Mutex
	buf      [fragment.NumPriorities]*buffer

	fragmentor *fragment.Fragmentor
	log        enginelog.Logger
}

// New creates a Queue whose fragments (including header) are at most
// fragmentSize bytes.
func New(fragmentSize int) *Queue {
	return &Queue{
		buf:        [fragment.NumPriorities]*buffer{newBuffer(), newBuffer()},
		fragmentor: fragment.NewFragmentor(fragmentSize),
		log:        enginelog.Noop(),
	}
}

// SetLogger installs the logger used for notify-race diagnostics. A nil
// logger is equivalent to enginelog.Noop().
func (q *Queue) SetLogger(l enginelog.Logger) {
	q.log = enginelog.Safe(l)
}

// SetEventSink installs the sink that receives one FragmentSent event per
// fragment appended to either priority buffer.
func (q *Queue) SetEventSink(sink fragment.EventSink) {
	q.fragmentor.SetEventSink(sink)
}

// SetObjectID resumes the shared ObjectId counter after id, for sessions
// whose first fragmented message must continue a sequence started by an
// out-of-band handshake exchange.
func (q *Queue) SetObjectID(id uint64) {
	q.fragmentor.SetObjectID(id)
}

// Add fragments serializedObj and appends the complete sequence to
// priority's buffer atomically with respect to other writers on the same
// priority: no other object's fragments can interleave with this one on
// the same priority buffer.
func (q *Queue) Add(serializedObj []byte, priority fragment.Priority) error {
	if !priority.Valid() {
		return ErrInvalidPriority
	}
	q.writerMu[priority].Lock()
	defer q.writerMu[priority].Unlock()
	return q.fragmentor.FragmentInto(serializedObj, priority, q.buf[priority])
}

// Clear drains both priority buffers, discarding any pending fragments.
func (q *Queue) Clear() {
	for p := range q.buf {
		q.writerMu[p].Lock()
		q.buf[p].Clear()
		q.writerMu[p].Unlock()
	}
}

// Depth returns the number of fragments currently queued per priority,
// for metrics/diagnostics.
func (q *Queue) Depth(priority fragment.Priority) int {
	if !priority.Valid() {
		return 0
	}
	return q.buf[priority].Len()
}

// ReadOrRegister implements the pull algorithm of spec §4.3:
//
//  1. PromptResponse is checked first; if it has a fragment, return it.
//  2. Otherwise Default is checked; if it has a fragment, return it.
//  3. Otherwise cb is registered as the pending notifier and ReadOrRegister
//     returns ok=false. cb fires at most once, the next time either
//     priority transitions from empty to non-empty, with the same
//     prompt-first precedence re-applied at delivery time. A nil cb is
//     not registered.
func (q *Queue) ReadOrRegister(cb Callback) (data []byte, priority fragment.Priority, ok bool) {
	q.readMu.Lock()
	defer q.readMu.Unlock()

	if data, ok := q.buf[fragment.PromptResponse].TryPop(); ok {
		return data, fragment.PromptResponse, true
	}
	if data, ok := q.buf[fragment.Default].TryPop(); ok {
		return data, fragment.Default, true
	}
	if cb == nil {
		return nil, 0, false
	}

	var fired atomic.Bool
	notify := func() { q.deliver(&fired, cb) }

	promptTok, promptRegistered := q.buf[fragment.PromptResponse].RegisterWaiter(notify)
	defaultTok, defaultRegistered := q.buf[fragment.Default].RegisterWaiter(notify)

	// A writer may have appended to PromptResponse in the gap between our
	// TryPop above and RegisterWaiter just now; RegisterWaiter reports
	// this by returning ok=false instead of racing a notification that
	// would never fire.
	if !promptRegistered {
		if data, ok := q.buf[fragment.PromptResponse].TryPop(); ok {
			if defaultRegistered {
				q.buf[fragment.Default].CancelWaiter(defaultTok)
			}
			return data, fragment.PromptResponse, true
		}
	}
	if !defaultRegistered {
		if data, ok := q.buf[fragment.Default].TryPop(); ok {
			if promptRegistered {
				q.buf[fragment.PromptResponse].CancelWaiter(promptTok)
			}
			return data, fragment.Default, true
		}
	}

	return nil, 0, false
}

// deliver is the shared inner callback both buffers' waiters resolve to.
// is_handling_callback is the atomic.Bool CAS: whichever priority's
// writer observes the empty-to-non-empty transition first wins and
// re-scans both buffers on the consumer's behalf; a concurrent fire from
// the other priority is dropped, per spec §4.3 — the drop is safe because
// this re-scan already checks both buffers before calling cb.
func (q *Queue) deliver(fired *atomic.Bool, cb Callback) {
	if !fired.CompareAndSwap(false, true) {
		q.log.Debugf("sendqueue: dropped concurrent notify, already handling")
		return
	}

	q.readMu.Lock()
	data, ok := q.buf[fragment.PromptResponse].TryPop()
	priority := fragment.PromptResponse
	if !ok {
		data, ok = q.buf[fragment.Default].TryPop()
		priority = fragment.Default
	}
	q.readMu.Unlock()

	if !ok {
		// Clear() raced the notification and drained the fragment that
		// triggered it; nothing to deliver.
		q.log.Debugf("sendqueue: notify fired with nothing to deliver")
		return
	}
	cb(data, priority)
}
