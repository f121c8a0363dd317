// Package fragment implements the wire framing for the priority
// fragmentation engine: the fixed 21-byte fragment header, the pure codec
// functions over it, and the send-side Fragmentor that splits one
// serialized object into an ordered run of fragments.
//
// # Fragment Structure
//
// Each fragment has the following structure:
//
//	┌─────────────────────────────────────────────────────────┐
//	│  ObjectId (8 bytes) - identifies the logical object     │
//	├─────────────────────────────────────────────────────────┤
//	│  FragmentId (8 bytes) - sequence number within object    │
//	├─────────────────────────────────────────────────────────┤
//	│  Flags (1 byte)                                          │
//	│    bit0: start-of-object   bit1: end-of-object            │
//	├─────────────────────────────────────────────────────────┤
//	│  BlobLength (4 bytes)                                    │
//	├─────────────────────────────────────────────────────────┤
//	│  Blob (variable)                                         │
//	└─────────────────────────────────────────────────────────┘
//
// All multi-byte integer fields are big-endian (network byte order). This
// is the wire format and must be bit-exact with existing peers; the upper
// six bits of the flags byte are reserved, written as 0, ignored on read.
package fragment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
)

// HeaderSize is the fixed fragment header size in bytes.
const HeaderSize = 21

// Flag bits occupying the low two bits of the flags byte.
const (
	FlagStart byte = 1 << 0
	FlagEnd   byte = 1 << 1
)

var (
	// ErrShortBuffer is returned when a slice is too small to hold a header
	// or the header's advertised blob.
	ErrShortBuffer = errors.New("fragment: buffer shorter than header")
	// ErrInvalidObjectID is returned when the header's ObjectId is not
	// strictly positive.
	ErrInvalidObjectID = errors.New("fragment: object id must be positive")
	// ErrFragmentTooLarge is returned when HeaderSize+BlobLength would
	// overflow a signed 32-bit integer.
	ErrFragmentTooLarge = errors.New("fragment: header+blob length overflows int32")
)

// EncodeHeader packs one 21-byte fragment header. It is total over its
// arguments; validation (e.g. objectID > 0) is the caller's job.
func EncodeHeader(objectID, fragmentID uint64, start, end bool, blobLen uint32) [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint64(buf[0:8], objectID)
	binary.BigEndian.PutUint64(buf[8:16], fragmentID)

	var flags byte
	if start {
		flags |= FlagStart
	}
	if end {
		flags |= FlagEnd
	}
	buf[16] = flags

	binary.BigEndian.PutUint32(buf[17:21], blobLen)
	return buf
}

// HeaderObjectID reads the ObjectId field from a header-sized slice.
// Total over any slice of length >= 8.
func HeaderObjectID(header []byte) uint64 {
	return binary.BigEndian.Uint64(header[0:8])
}

// HeaderFragmentID reads the FragmentId field. Total over slices >= 16.
func HeaderFragmentID(header []byte) uint64 {
	return binary.BigEndian.Uint64(header[8:16])
}

// HeaderFlags reads the raw flags byte. Total over slices >= 17.
func HeaderFlags(header []byte) byte {
	return header[16]
}

// HeaderIsStart reports whether the start-of-object bit is set.
func HeaderIsStart(header []byte) bool {
	return HeaderFlags(header)&FlagStart != 0
}

// HeaderIsEnd reports whether the end-of-object bit is set.
func HeaderIsEnd(header []byte) bool {
	return HeaderFlags(header)&FlagEnd != 0
}

// HeaderBlobLength reads the BlobLength field. Total over slices >= 21.
func HeaderBlobLength(header []byte) uint32 {
	return binary.BigEndian.Uint32(header[17:21])
}

// CheckedTotalLength returns HeaderSize+blobLength as an int, failing if
// the sum would overflow a signed 32-bit integer. Per the wire invariant,
// HeaderSize+BlobLength must fit in int32 even on 64-bit builds.
func CheckedTotalLength(blobLength uint32) (int, error) {
	if blobLength > uint32(math.MaxInt32)-HeaderSize {
		return 0, ErrFragmentTooLarge
	}
	return HeaderSize + int(blobLength), nil
}

// Fragment is the decoded, in-memory view of one wire fragment.
type Fragment struct {
	ObjectID   uint64
	FragmentID uint64
	Start      bool
	End        bool
	Blob       []byte
}

// Encode serializes the fragment to its wire form (header followed by
// blob). len(f.Blob) must not exceed math.MaxUint32; callers that split
// via Fragmentor never produce such a fragment.
func (f *Fragment) Encode() []byte {
	if uint64(len(f.Blob)) > math.MaxUint32 {
		panic("fragment: blob too large to encode")
	}
	buf := make([]byte, HeaderSize+len(f.Blob))
	header := EncodeHeader(f.ObjectID, f.FragmentID, f.Start, f.End, uint32(len(f.Blob))) // #nosec G115 -- bounds checked above
	copy(buf[:HeaderSize], header[:])
	copy(buf[HeaderSize:], f.Blob)
	return buf
}

var blobPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 0, 4096)
	},
}

// Decode parses one complete fragment from data, which must contain at
// least HeaderSize+BlobLength bytes. The returned Fragment's Blob is taken
// from a pool; call Release when done with it to avoid per-object churn
// under sustained load.
func Decode(data []byte) (*Fragment, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortBuffer
	}
	objectID := HeaderObjectID(data)
	if objectID == 0 {
		return nil, ErrInvalidObjectID
	}
	blobLen := HeaderBlobLength(data)
	total, err := CheckedTotalLength(blobLen)
	if err != nil {
		return nil, err
	}
	if len(data) < total {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, total, len(data))
	}

	buf := blobPool.Get().([]byte)
	if cap(buf) < int(blobLen) {
		buf = make([]byte, blobLen)
	} else {
		buf = buf[:blobLen]
	}
	copy(buf, data[HeaderSize:total])

	return &Fragment{
		ObjectID:   objectID,
		FragmentID: HeaderFragmentID(data),
		Start:      HeaderIsStart(data),
		End:        HeaderIsEnd(data),
		Blob:       buf,
	}, nil
}

// Release returns the fragment's blob buffer to the shared pool. Safe to
// call at most once per Fragment; a nil Blob is a no-op.
func (f *Fragment) Release() {
	if f.Blob == nil {
		return
	}
	//nolint:staticcheck // SA6002: pointer-pool overhead exceeds the value here
	blobPool.Put(f.Blob[:0])
	f.Blob = nil
}
