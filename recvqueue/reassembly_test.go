package recvqueue

import (
	"bytes"
	"errors"
	"testing"

	"github.com/smnsjas/go-fragengine/fragment"
)

// echoDeserializer returns the blob unchanged, wrapped in a []byte so
// tests can compare it directly.
var echoDeserializer = DeserializerFunc(func(blob []byte) (interface{}, error) {
	return append([]byte(nil), blob...), nil
})

func fragBytes(t *testing.T, objID, fragID uint64, start, end bool, blob string) []byte {
	t.Helper()
	f := &fragment.Fragment{ObjectID: objID, FragmentID: fragID, Start: start, End: end, Blob: []byte(blob)}
	return f.Encode()
}

// TestReassemblySingleFragmentObject is scenario S1: one fragment that is
// both start and end reassembles to its own blob.
func TestReassemblySingleFragmentObject(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)

	var got []byte
	data := fragBytes(t, 1, 0, true, true, "hello")
	if err := b.ProcessRawData(data, func(obj interface{}) error {
		got = obj.([]byte)
		return nil
	}); err != nil {
		t.Fatalf("ProcessRawData: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

// TestReassemblyEmptyObject covers a zero-length serialized body: it still
// arrives as exactly one header-only fragment (start+end, BlobLength=0)
// and must be delivered rather than treated as an incomplete header.
func TestReassemblyEmptyObject(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)

	delivered := false
	var got []byte
	data := fragBytes(t, 1, 0, true, true, "")
	if err := b.ProcessRawData(data, func(obj interface{}) error {
		delivered = true
		got = obj.([]byte)
		return nil
	}); err != nil {
		t.Fatalf("ProcessRawData: %v", err)
	}
	if !delivered {
		t.Fatal("empty object was never delivered")
	}
	if len(got) != 0 {
		t.Errorf("got %q, want empty", got)
	}
}

// TestReassemblyMultiFragmentObject is scenario S2: start + middle + end
// fragments concatenate their blobs in order.
func TestReassemblyMultiFragmentObject(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)

	var stream []byte
	stream = append(stream, fragBytes(t, 1, 0, true, false, "ab")...)
	stream = append(stream, fragBytes(t, 1, 1, false, false, "cd")...)
	stream = append(stream, fragBytes(t, 1, 2, false, true, "ef")...)

	var got []byte
	if err := b.ProcessRawData(stream, func(obj interface{}) error {
		got = obj.([]byte)
		return nil
	}); err != nil {
		t.Fatalf("ProcessRawData: %v", err)
	}
	if !bytes.Equal(got, []byte("abcdef")) {
		t.Errorf("got %q, want %q", got, "abcdef")
	}
}

// TestReassemblyByteAtATime exercises property 6: a stream split into
// single-byte ProcessRawData calls still reassembles correctly.
func TestReassemblyByteAtATime(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)

	var stream []byte
	stream = append(stream, fragBytes(t, 1, 0, true, false, "ab")...)
	stream = append(stream, fragBytes(t, 1, 1, false, true, "cd")...)

	var got []byte
	for i := 0; i < len(stream); i++ {
		if err := b.ProcessRawData(stream[i:i+1], func(obj interface{}) error {
			got = obj.([]byte)
			return nil
		}); err != nil {
			t.Fatalf("byte %d: ProcessRawData: %v", i, err)
		}
	}
	if !bytes.Equal(got, []byte("abcd")) {
		t.Errorf("got %q, want %q", got, "abcd")
	}
}

// TestReassemblyMultipleObjectsInOneCall exercises delivering more than
// one complete object from a single ProcessRawData call.
func TestReassemblyMultipleObjectsInOneCall(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)

	var stream []byte
	stream = append(stream, fragBytes(t, 1, 0, true, true, "first")...)
	stream = append(stream, fragBytes(t, 2, 0, true, true, "second")...)

	var got []string
	if err := b.ProcessRawData(stream, func(obj interface{}) error {
		got = append(got, string(obj.([]byte)))
		return nil
	}); err != nil {
		t.Fatalf("ProcessRawData: %v", err)
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("got %v, want [first second]", got)
	}
}

// TestReassemblyOutOfSequenceFragmentID is scenario S4: a mid-object
// fragment arriving with the wrong FragmentId is a protocol error, and
// resets state for the next object.
func TestReassemblyOutOfSequenceFragmentID(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)

	var stream []byte
	stream = append(stream, fragBytes(t, 1, 0, true, false, "ab")...)
	stream = append(stream, fragBytes(t, 1, 5, false, true, "cd")...) // expected fragId 1

	err := b.ProcessRawData(stream, nil)
	var rqErr *Error
	if !errors.As(err, &rqErr) || rqErr.Kind != KindFragmentOutOfSequence {
		t.Fatalf("err = %v, want KindFragmentOutOfSequence", err)
	}

	// State reset: a fresh start fragment for a new object now succeeds.
	var got []byte
	next := fragBytes(t, 2, 0, true, true, "ok")
	if err := b.ProcessRawData(next, func(obj interface{}) error {
		got = obj.([]byte)
		return nil
	}); err != nil {
		t.Fatalf("ProcessRawData after reset: %v", err)
	}
	if !bytes.Equal(got, []byte("ok")) {
		t.Errorf("got %q, want %q", got, "ok")
	}
}

// TestReassemblyObjectIDMismatchMidObject covers a mid-stream fragment
// whose ObjectId differs from the in-progress object.
func TestReassemblyObjectIDMismatchMidObject(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)

	var stream []byte
	stream = append(stream, fragBytes(t, 1, 0, true, false, "ab")...)
	stream = append(stream, fragBytes(t, 99, 1, false, true, "cd")...)

	err := b.ProcessRawData(stream, nil)
	var rqErr *Error
	if !errors.As(err, &rqErr) || rqErr.Kind != KindObjectIDMismatch {
		t.Fatalf("err = %v, want KindObjectIDMismatch", err)
	}
}

// TestReassemblyInvalidObjectID covers a header with ObjectId == 0.
func TestReassemblyInvalidObjectID(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)

	data := fragBytes(t, 0, 0, true, true, "x")
	err := b.ProcessRawData(data, nil)
	var rqErr *Error
	if !errors.As(err, &rqErr) || rqErr.Kind != KindInvalidObjectID {
		t.Fatalf("err = %v, want KindInvalidObjectID", err)
	}
}

// TestReassemblyMaxObjectSizeExceeded is scenario S6: a cumulative object
// size (header plus blob of each fragment) crossing
// MaximumReceivedObjectSize is rejected.
func TestReassemblyMaxObjectSizeExceeded(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)
	b.SetMaxObjectSize(3)

	var stream []byte
	stream = append(stream, fragBytes(t, 1, 0, true, false, "ab")...)
	stream = append(stream, fragBytes(t, 1, 1, false, true, "cd")...)

	err := b.ProcessRawData(stream, nil)
	var rqErr *Error
	if !errors.As(err, &rqErr) || rqErr.Kind != KindObjectTooLarge {
		t.Fatalf("err = %v, want KindObjectTooLarge", err)
	}
}

// TestReassemblyMaxObjectSizeStartFragmentAlone verifies a start fragment
// is checked against maxObjectSize using its own total alone, not any
// residue from a previously discarded object (the deliberate reading of
// the size check for start fragments).
func TestReassemblyMaxObjectSizeStartFragmentAlone(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)
	b.SetMaxObjectSize(fragment.HeaderSize + 2)

	data := fragBytes(t, 1, 0, true, true, "ab")
	var got []byte
	if err := b.ProcessRawData(data, func(obj interface{}) error {
		got = obj.([]byte)
		return nil
	}); err != nil {
		t.Fatalf("ProcessRawData: %v", err)
	}
	if !bytes.Equal(got, []byte("ab")) {
		t.Errorf("got %q, want %q", got, "ab")
	}
}

// TestReassemblyMaxObjectSizeNotPollutedByAbandonedObject verifies that a
// start fragment arriving mid-object (abandoning the in-progress object
// per the "any state -> InProgress on start" transition) is sized against
// its own total alone, not against the abandoned object's
// receivedSizeSoFar — the scenario the stale-state reading of the size
// check would otherwise mishandle.
func TestReassemblyMaxObjectSizeNotPollutedByAbandonedObject(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)
	b.SetMaxObjectSize(fragment.HeaderSize + 3)

	abandoned := fragBytes(t, 1, 0, true, false, "ab") // leaves receivedSizeSoFar at HeaderSize+2

	var stream []byte
	stream = append(stream, abandoned...)
	stream = append(stream, fragBytes(t, 2, 0, true, true, "xy")...) // fresh start, well under the cap alone

	var got []byte
	if err := b.ProcessRawData(stream, func(obj interface{}) error {
		got = obj.([]byte)
		return nil
	}); err != nil {
		t.Fatalf("ProcessRawData: %v", err)
	}
	if !bytes.Equal(got, []byte("xy")) {
		t.Errorf("got %q, want %q", got, "xy")
	}
}

// TestReassemblyPrepareForStreamConnectDiscardsStaleTail is scenario S5:
// trailing mid-object fragments from a prior connection are silently
// discarded until the next start fragment, without raising an error.
func TestReassemblyPrepareForStreamConnectDiscardsStaleTail(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)
	b.PrepareForStreamConnect()

	var stream []byte
	stream = append(stream, fragBytes(t, 1, 3, false, false, "stale")...)
	stream = append(stream, fragBytes(t, 2, 0, true, true, "fresh")...)

	var got []byte
	if err := b.ProcessRawData(stream, func(obj interface{}) error {
		got = obj.([]byte)
		return nil
	}); err != nil {
		t.Fatalf("ProcessRawData: %v", err)
	}
	if !bytes.Equal(got, []byte("fresh")) {
		t.Errorf("got %q, want %q", got, "fresh")
	}
}

// TestReassemblyIgnoreOffSyncClearsOnStart verifies ignoreOffSync is
// cleared by the first start fragment, so a subsequent genuinely
// out-of-sequence fragment after that raises an error again.
func TestReassemblyIgnoreOffSyncClearsOnStart(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)
	b.PrepareForStreamConnect()

	start := fragBytes(t, 1, 0, true, false, "ab")
	if err := b.ProcessRawData(start, nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	bad := fragBytes(t, 1, 9, false, true, "cd")
	err := b.ProcessRawData(bad, nil)
	var rqErr *Error
	if !errors.As(err, &rqErr) || rqErr.Kind != KindFragmentOutOfSequence {
		t.Fatalf("err = %v, want KindFragmentOutOfSequence (ignoreOffSync should have cleared)", err)
	}
}

// TestReassemblyResetIsIdempotent exercises property 7: resetting state
// (via an error) twice in a row, with no data in between, is harmless.
func TestReassemblyResetIsIdempotent(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)

	for i := 0; i < 2; i++ {
		data := fragBytes(t, 0, 0, true, true, "x")
		err := b.ProcessRawData(data, nil)
		var rqErr *Error
		if !errors.As(err, &rqErr) || rqErr.Kind != KindInvalidObjectID {
			t.Fatalf("iteration %d: err = %v, want KindInvalidObjectID", i, err)
		}
	}
}

// TestReassemblyDeserializationErrorWraps verifies a deserializer failure
// surfaces as KindDeserialization with the original error reachable via
// errors.Unwrap.
func TestReassemblyDeserializationErrorWraps(t *testing.T) {
	boom := errors.New("boom")
	failing := DeserializerFunc(func([]byte) (interface{}, error) { return nil, boom })
	b := newReassemblyBuffer(fragment.Default, failing, ScopeServer)

	data := fragBytes(t, 1, 0, true, true, "x")
	err := b.ProcessRawData(data, nil)
	var rqErr *Error
	if !errors.As(err, &rqErr) || rqErr.Kind != KindDeserialization {
		t.Fatalf("err = %v, want KindDeserialization", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("errors.Is(err, boom) = false, want true")
	}
	if rqErr.Scope != ScopeServer {
		t.Errorf("Scope = %v, want ScopeServer", rqErr.Scope)
	}
}

// TestReassemblyDisposeStopsDelivery verifies that once disposed, further
// ProcessRawData calls are no-ops.
func TestReassemblyDisposeStopsDelivery(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)
	b.Dispose()

	called := false
	data := fragBytes(t, 1, 0, true, true, "x")
	if err := b.ProcessRawData(data, func(interface{}) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("ProcessRawData: %v", err)
	}
	if called {
		t.Error("callback invoked after Dispose")
	}
}

// TestReassemblyAllowTwoThreadsPermitsReentry verifies a reentrant call
// from within the object callback succeeds once AllowTwoThreads is set,
// and sees clean Idle state.
func TestReassemblyAllowTwoThreadsPermitsReentry(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)
	b.SetAllowTwoThreads(true)

	outer := fragBytes(t, 1, 0, true, true, "outer")
	inner := fragBytes(t, 2, 0, true, true, "inner")

	var order []string
	err := b.ProcessRawData(outer, func(obj interface{}) error {
		order = append(order, string(obj.([]byte)))
		return b.ProcessRawData(inner, func(innerObj interface{}) error {
			order = append(order, string(innerObj.([]byte)))
			return nil
		})
	})
	if err != nil {
		t.Fatalf("ProcessRawData: %v", err)
	}
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Errorf("order = %v, want [outer inner]", order)
	}
}

// TestReassemblyRejectsThirdConcurrentEntrant verifies the concurrency
// gate panics when entered beyond its configured thread limit.
func TestReassemblyRejectsThirdConcurrentEntrant(t *testing.T) {
	b := newReassemblyBuffer(fragment.Default, echoDeserializer, ScopeClient)
	b.SetAllowTwoThreads(true)

	if !b.tryEnter() {
		t.Fatal("first tryEnter should succeed")
	}
	if !b.tryEnter() {
		t.Fatal("second tryEnter should succeed with two threads allowed")
	}
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on third concurrent entry")
		}
	}()
	_ = b.ProcessRawData(fragBytes(t, 1, 0, true, true, "x"), nil)
}
