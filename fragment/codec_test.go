package fragment

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		frag *Fragment
	}{
		{
			name: "single fragment",
			frag: &Fragment{ObjectID: 1, FragmentID: 0, Start: true, End: true, Blob: []byte("hello world")},
		},
		{
			name: "start fragment",
			frag: &Fragment{ObjectID: 42, FragmentID: 0, Start: true, End: false, Blob: []byte("part one")},
		},
		{
			name: "end fragment",
			frag: &Fragment{ObjectID: 42, FragmentID: 2, Start: false, End: true, Blob: []byte("part three")},
		},
		{
			name: "empty blob",
			frag: &Fragment{ObjectID: 1, FragmentID: 0, Start: true, End: true, Blob: nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.frag.Encode()
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			defer decoded.Release()

			if decoded.ObjectID != tt.frag.ObjectID {
				t.Errorf("ObjectID: got %d, want %d", decoded.ObjectID, tt.frag.ObjectID)
			}
			if decoded.FragmentID != tt.frag.FragmentID {
				t.Errorf("FragmentID: got %d, want %d", decoded.FragmentID, tt.frag.FragmentID)
			}
			if decoded.Start != tt.frag.Start {
				t.Errorf("Start: got %v, want %v", decoded.Start, tt.frag.Start)
			}
			if decoded.End != tt.frag.End {
				t.Errorf("End: got %v, want %v", decoded.End, tt.frag.End)
			}
			if !bytes.Equal(decoded.Blob, tt.frag.Blob) {
				t.Errorf("Blob: got %v, want %v", decoded.Blob, tt.frag.Blob)
			}
		})
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	if _, err := Decode(make([]byte, HeaderSize-1)); err != ErrShortBuffer {
		t.Errorf("got %v, want ErrShortBuffer", err)
	}
	if _, err := Decode(nil); err != ErrShortBuffer {
		t.Errorf("got %v, want ErrShortBuffer", err)
	}
}

func TestDecodeInvalidObjectID(t *testing.T) {
	header := EncodeHeader(0, 0, true, true, 0)
	if _, err := Decode(header[:]); err != ErrInvalidObjectID {
		t.Errorf("got %v, want ErrInvalidObjectID", err)
	}
}

func TestDecodeTruncatedBlob(t *testing.T) {
	header := EncodeHeader(1, 0, true, true, 10)
	buf := append(header[:], []byte("short")...) // advertises 10, carries 5
	if _, err := Decode(buf); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestCheckedTotalLengthOverflow(t *testing.T) {
	if _, err := CheckedTotalLength(^uint32(0)); err != ErrFragmentTooLarge {
		t.Errorf("got %v, want ErrFragmentTooLarge", err)
	}
}

func TestHeaderAccessors(t *testing.T) {
	header := EncodeHeader(7, 3, false, true, 99)
	if got := HeaderObjectID(header[:]); got != 7 {
		t.Errorf("ObjectID: got %d", got)
	}
	if got := HeaderFragmentID(header[:]); got != 3 {
		t.Errorf("FragmentID: got %d", got)
	}
	if HeaderIsStart(header[:]) {
		t.Error("expected start=false")
	}
	if !HeaderIsEnd(header[:]) {
		t.Error("expected end=true")
	}
	if got := HeaderBlobLength(header[:]); got != 99 {
		t.Errorf("BlobLength: got %d", got)
	}
}

func TestEncodeHeaderReservedBitsZeroed(t *testing.T) {
	header := EncodeHeader(1, 0, true, true, 0)
	if header[16]&^(FlagStart|FlagEnd) != 0 {
		t.Errorf("reserved flag bits not zero: %08b", header[16])
	}
}
