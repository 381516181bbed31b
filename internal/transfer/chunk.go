package transfer

import (
	"fmt"
	"io"

	"github.com/sheerbytes/lanbeam/pkg/protocol"
)

// ChunkCount returns the number of chunks for a file of size bytes.
func ChunkCount(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size-1)/int64(chunkSize) + 1)
}

// ChunkBounds returns the byte offset and length of chunk index.
func ChunkBounds(index int, size int64, chunkSize int) (int64, int) {
	off := int64(index) * int64(chunkSize)
	n := min(int64(chunkSize), size-off)
	if n < 0 {
		n = 0
	}
	return off, int(n)
}

// readChunk fills buf with chunk index of r.
func readChunk(r io.ReaderAt, buf []byte, index int, size int64, chunkSize int) ([]byte, error) {
	off, n := ChunkBounds(index, size, chunkSize)
	p := buf[:n]
	read, err := r.ReadAt(p, off)
	if read == n {
		return p, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("read chunk %d at offset %d: %w", index, off, err)
}

// Split cuts data into chunkSize pieces.
func Split(data []byte, chunkSize int) [][]byte {
	count := ChunkCount(int64(len(data)), chunkSize)
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		off, n := ChunkBounds(i, int64(len(data)), chunkSize)
		out = append(out, data[off:off+int64(n)])
	}
	return out
}

// Assemble concatenates chunks in ascending index order.
func Assemble(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

type chunkKey struct {
	file  int
	chunk int
}

// arena holds received chunk payloads until their file is assembled.
type arena struct {
	chunks map[chunkKey][]byte
	files  map[int]*fileBuffer
}

type fileBuffer struct {
	index    int
	desc     FileDescriptor
	start    protocol.FileStart
	expected int
	present  *Bitmap
	received int64
	hasher   integrityChecker
}

// integrityChecker is the part of integrity.Service the receive path needs.
type integrityChecker interface {
	HashBytes(data []byte) string
	ChunkChecksum(p []byte) uint32
}

func newArena() *arena {
	return &arena{
		chunks: make(map[chunkKey][]byte),
		files:  make(map[int]*fileBuffer),
	}
}

func (a *arena) put(file, chunk int, data []byte) {
	a.chunks[chunkKey{file, chunk}] = data
}

func (a *arena) assemble(fb *fileBuffer) ([]byte, error) {
	if missing, ok := fb.present.FirstClear(); ok {
		return nil, fmt.Errorf("%w: missing chunk %d (%d of %d received)", protocol.ErrIntegrity, missing, fb.present.CountSet(), fb.present.LenBits())
	}
	out := make([]byte, 0, fb.received)
	for i := 0; i < fb.expected; i++ {
		out = append(out, a.chunks[chunkKey{fb.index, i}]...)
	}
	if int64(len(out)) != fb.desc.Size {
		return nil, fmt.Errorf("%w: assembled %d bytes, want %d", protocol.ErrIntegrity, len(out), fb.desc.Size)
	}
	return out, nil
}

// release drops every chunk of file and its buffer.
func (a *arena) release(file int) {
	fb, ok := a.files[file]
	if !ok {
		return
	}
	for i := 0; i < fb.expected; i++ {
		delete(a.chunks, chunkKey{file, i})
	}
	delete(a.files, file)
}

func (a *arena) clear() {
	clear(a.chunks)
	clear(a.files)
}

func (a *arena) len() int {
	return len(a.chunks)
}
