package transfer

import (
	"log/slog"
	"time"

	"github.com/sheerbytes/lanbeam/internal/integrity"
)

const (
	DefaultChunkSize          = 64 * 1024
	DefaultMaxBufferedAmount  = 1024 * 1024
	DefaultPausePollInterval  = 100 * time.Millisecond
	DefaultBufferPollInterval = 10 * time.Millisecond
	DefaultProgressInterval   = 100 * time.Millisecond

	maxChunkSize = 16 * 1024 * 1024
	// maxChunkCount bounds the presence bitmap a peer can make us allocate.
	maxChunkCount = 1 << 24
)

// Options configures an Engine.
type Options struct {
	ChunkSize         int
	MaxBufferedAmount uint64
	// ChecksumEnabled turns on whole-file hashes and per-chunk checksums for
	// sending, and their verification for receiving.
	ChecksumEnabled    bool
	PausePollInterval  time.Duration
	BufferPollInterval time.Duration
	ProgressInterval   time.Duration
	Integrity          integrity.Service
	Logger             *slog.Logger
	Now                func() time.Time
}

// DefaultOptions returns the engine defaults with checksums on.
func DefaultOptions() Options {
	return Options{
		ChunkSize:          DefaultChunkSize,
		MaxBufferedAmount:  DefaultMaxBufferedAmount,
		ChecksumEnabled:    true,
		PausePollInterval:  DefaultPausePollInterval,
		BufferPollInterval: DefaultBufferPollInterval,
		ProgressInterval:   DefaultProgressInterval,
	}
}

// NormalizeOptions fills zero values with defaults and clamps the chunk size.
// ChecksumEnabled is taken as given.
func NormalizeOptions(opts Options) Options {
	out := opts
	if out.ChunkSize <= 0 {
		out.ChunkSize = DefaultChunkSize
	}
	if out.ChunkSize > maxChunkSize {
		out.ChunkSize = maxChunkSize
	}
	if out.MaxBufferedAmount == 0 {
		out.MaxBufferedAmount = DefaultMaxBufferedAmount
	}
	if out.PausePollInterval <= 0 {
		out.PausePollInterval = DefaultPausePollInterval
	}
	if out.BufferPollInterval <= 0 {
		out.BufferPollInterval = DefaultBufferPollInterval
	}
	if out.ProgressInterval <= 0 {
		out.ProgressInterval = DefaultProgressInterval
	}
	if out.Integrity == nil {
		out.Integrity = integrity.Default()
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}
