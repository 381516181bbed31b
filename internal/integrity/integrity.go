// Package integrity computes whole-file content hashes and per-chunk checksums.
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"golang.org/x/crypto/blake2b"
)

const (
	HashSHA256  = "sha256"
	HashBLAKE2b = "blake2b"

	ChunkCRC32  = "crc32"
	ChunkCRC32C = "crc32c"
)

const hashReadSize = 256 * 1024

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Service is the hashing capability consumed by the transfer engine.
type Service interface {
	// HashAlg names the whole-file hash written on the wire.
	HashAlg() string
	// ChunkAlg names the per-chunk checksum written on the wire.
	ChunkAlg() string
	// HashReader hashes size bytes of r and returns lowercase hex.
	HashReader(ctx context.Context, r io.ReaderAt, size int64) (string, error)
	// HashBytes hashes data and returns lowercase hex.
	HashBytes(data []byte) string
	// ChunkChecksum returns the fast checksum of p.
	ChunkChecksum(p []byte) uint32
}

// Hasher implements Service for a fixed pair of algorithms.
type Hasher struct {
	hashAlg  string
	chunkAlg string
	newHash  func() hash.Hash
	table    *crc32.Table
}

var _ Service = (*Hasher)(nil)

// New returns a Hasher. Empty names select sha256 and crc32.
func New(hashAlg, chunkAlg string) (*Hasher, error) {
	h := &Hasher{}
	switch hashAlg {
	case "", HashSHA256:
		h.hashAlg = HashSHA256
		h.newHash = sha256.New
	case HashBLAKE2b:
		h.hashAlg = HashBLAKE2b
		h.newHash = func() hash.Hash {
			d, _ := blake2b.New256(nil)
			return d
		}
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", hashAlg)
	}
	switch chunkAlg {
	case "", ChunkCRC32:
		h.chunkAlg = ChunkCRC32
		h.table = crc32.IEEETable
	case ChunkCRC32C:
		h.chunkAlg = ChunkCRC32C
		h.table = crc32cTable
	default:
		return nil, fmt.Errorf("unknown chunk checksum %q", chunkAlg)
	}
	return h, nil
}

// Default returns the sha256/crc32 Hasher.
func Default() *Hasher {
	h, _ := New("", "")
	return h
}

func (h *Hasher) HashAlg() string  { return h.hashAlg }
func (h *Hasher) ChunkAlg() string { return h.chunkAlg }

func (h *Hasher) HashReader(ctx context.Context, r io.ReaderAt, size int64) (string, error) {
	d := h.newHash()
	buf := make([]byte, hashReadSize)
	var off int64
	for off < size {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n := min(int64(len(buf)), size-off)
		read, err := r.ReadAt(buf[:n], off)
		if read > 0 {
			d.Write(buf[:read])
			off += int64(read)
		}
		if err != nil && !(err == io.EOF && off == size) {
			if err == io.EOF {
				return "", fmt.Errorf("short read at offset %d: %w", off, io.ErrUnexpectedEOF)
			}
			return "", fmt.Errorf("read at offset %d: %w", off, err)
		}
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

func (h *Hasher) HashBytes(data []byte) string {
	d := h.newHash()
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil))
}

func (h *Hasher) ChunkChecksum(p []byte) uint32 {
	return crc32.Checksum(p, h.table)
}
