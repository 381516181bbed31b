package transfer

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sheerbytes/lanbeam/pkg/protocol"
)

func TestSplitAssembleRoundTrip(t *testing.T) {
	chunkSizes := []int{1, 7, 1024, 64 * 1024}
	for _, chunkSize := range chunkSizes {
		sizes := []int{0, 1, chunkSize - 1, chunkSize, chunkSize + 1, 3*chunkSize + 7}
		for _, size := range sizes {
			data := patterned(size)
			chunks := Split(data, chunkSize)
			if want := ChunkCount(int64(size), chunkSize); len(chunks) != want {
				t.Fatalf("chunk=%d size=%d: %d chunks, want %d", chunkSize, size, len(chunks), want)
			}
			for i, c := range chunks {
				if len(c) > chunkSize || len(c) == 0 {
					t.Fatalf("chunk=%d size=%d: chunk %d has %d bytes", chunkSize, size, i, len(c))
				}
			}
			if got := Assemble(chunks); !bytes.Equal(got, data) {
				t.Fatalf("chunk=%d size=%d: round trip mismatch", chunkSize, size)
			}
		}
	}
}

func TestChunkBounds(t *testing.T) {
	const size = 150 * 1024
	const chunkSize = 64 * 1024
	if n := ChunkCount(size, chunkSize); n != 3 {
		t.Fatalf("ChunkCount = %d, want 3", n)
	}
	wantLens := []int{65536, 65536, 22528}
	for i, want := range wantLens {
		off, n := ChunkBounds(i, size, chunkSize)
		if off != int64(i*chunkSize) || n != want {
			t.Fatalf("chunk %d: off=%d n=%d, want off=%d n=%d", i, off, n, i*chunkSize, want)
		}
	}
}

func TestReadChunkShortSource(t *testing.T) {
	buf := make([]byte, 8)
	_, err := readChunk(bytes.NewReader([]byte("abc")), buf, 0, 8, 8)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("readChunk error = %v, want ErrUnexpectedEOF", err)
	}
}

func TestArenaReleaseAndClear(t *testing.T) {
	a := newArena()
	fb := &fileBuffer{index: 0, expected: 2, present: NewBitmap(2), desc: FileDescriptor{Size: 4}}
	a.files[0] = fb
	a.put(0, 0, []byte("ab"))
	fb.present.Set(0)

	if _, err := a.assemble(fb); !errors.Is(err, protocol.ErrIntegrity) || !strings.Contains(err.Error(), "missing chunk 1") {
		t.Fatalf("assemble error = %v", err)
	}

	a.put(0, 1, []byte("cd"))
	fb.present.Set(1)
	fb.received = 4
	got, err := a.assemble(fb)
	if err != nil || string(got) != "abcd" {
		t.Fatalf("assemble = %q, %v", got, err)
	}

	a.release(0)
	if a.len() != 0 || len(a.files) != 0 {
		t.Fatalf("release left %d chunks, %d files", a.len(), len(a.files))
	}

	a.files[1] = &fileBuffer{index: 1, expected: 1, present: NewBitmap(1)}
	a.put(1, 0, []byte("x"))
	a.clear()
	if a.len() != 0 || len(a.files) != 0 {
		t.Fatal("clear left entries behind")
	}
}
