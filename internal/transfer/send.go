package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sheerbytes/lanbeam/internal/bufpool"
	"github.com/sheerbytes/lanbeam/pkg/protocol"
)

// SendFiles streams files in order. It blocks until the session completes,
// fails or is cancelled. Cancel makes it return nil; ctx cancellation cancels
// the session and returns ctx.Err().
func (e *Engine) SendFiles(ctx context.Context, files []File) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: no files to send", protocol.ErrInvalidState)
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}

	e.mu.Lock()
	if e.send != nil || e.recv != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: transfer already in progress", protocol.ErrInvalidState)
	}
	if !e.link.Connected() {
		e.mu.Unlock()
		return fmt.Errorf("%w: link not connected", protocol.ErrInvalidState)
	}
	s := &sendSession{cancel: make(chan struct{})}
	e.send = s
	e.meter.Start(total)
	e.mu.Unlock()

	e.log.Info("transfer starting", "files", len(files), "bytes", total)
	err := e.runSend(ctx, s, files, total)

	e.mu.Lock()
	if e.send == s {
		e.send = nil
	}
	stopErr := s.err
	e.mu.Unlock()

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errSessionStopped):
		if stopErr != nil {
			e.emit(TransferFailed{Err: stopErr})
			return stopErr
		}
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		e.mu.Lock()
		s.stop(nil)
		e.mu.Unlock()
		e.notifyCancel()
		e.emit(TransferCancelled{})
		return ctx.Err()
	default:
		e.log.Error("transfer failed", "err", err)
		e.emit(TransferFailed{Err: err})
		return err
	}
}

func (e *Engine) runSend(ctx context.Context, s *sendSession, files []File, total int64) error {
	e.emit(TransferStarted{FileCount: len(files), TotalSize: total})

	start := protocol.TransferStart{
		FileCount: len(files),
		TotalSize: total,
		Files:     make([]protocol.FileMeta, 0, len(files)),
	}
	for _, f := range files {
		start.Files = append(start.Files, protocol.FileMeta{
			Name:         f.Name,
			Size:         f.Size,
			Type:         f.MimeType,
			LastModified: wireTime(f.LastModified),
		})
	}
	if err := e.sendControl(s, start); err != nil {
		return err
	}

	for i, f := range files {
		if err := e.sendFile(ctx, s, i, f); err != nil {
			return err
		}
	}

	stats := e.Stats()
	if err := e.sendControl(s, protocol.TransferComplete{Stats: stats.wire()}); err != nil {
		return err
	}
	e.log.Info("transfer complete", "bytes", stats.BytesTransferred)
	e.emit(TransferCompleted{Stats: stats, Duration: e.opts.Now().Sub(stats.StartTime)})
	return nil
}

func (e *Engine) sendFile(ctx context.Context, s *sendSession, index int, f File) (err error) {
	desc := f.FileDescriptor
	defer func() {
		if err != nil && !errors.Is(err, errSessionStopped) {
			e.emit(FileFailed{Index: index, File: desc, Err: err})
		}
	}()

	if e.opts.ChecksumEnabled {
		sum, err := e.opts.Integrity.HashReader(ctx, f.Data, f.Size)
		if err != nil {
			return fmt.Errorf("hash %s: %w", f.Name, err)
		}
		desc.Checksum = sum
	}
	e.emit(FileStarted{Index: index, File: desc})

	chunkSize := e.opts.ChunkSize
	totalChunks := ChunkCount(f.Size, chunkSize)
	fs := protocol.FileStart{
		FileIndex:    index,
		Name:         desc.Name,
		Size:         desc.Size,
		Type:         desc.MimeType,
		LastModified: wireTime(desc.LastModified),
		Checksum:     desc.Checksum,
		ChunkSize:    chunkSize,
	}
	if e.opts.ChecksumEnabled {
		fs.HashAlg = e.opts.Integrity.HashAlg()
		fs.ChunkChecksumAlg = e.opts.Integrity.ChunkAlg()
	}
	if err := e.sendControl(s, fs); err != nil {
		return err
	}
	e.log.Debug("file started", "index", index, "name", desc.Name, "size", desc.Size, "chunks", totalChunks)

	pool := bufpool.For(chunkSize)
	buf := pool.Get()
	defer pool.Put(buf)

	var fileBytes int64
	for idx := 0; idx < totalChunks; idx++ {
		if err := e.waitWhilePaused(ctx, s); err != nil {
			return err
		}
		if err := e.waitForBufferSpace(ctx, s); err != nil {
			return err
		}

		data, err := readChunk(f.Data, buf, idx, f.Size, chunkSize)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		hdr := protocol.Chunk{
			FileIndex:   index,
			ChunkIndex:  idx,
			TotalChunks: totalChunks,
			DataSize:    len(data),
		}
		if e.opts.ChecksumEnabled {
			sum := e.opts.Integrity.ChunkChecksum(data)
			hdr.Checksum = &sum
		}
		if err := e.sendChunk(s, hdr, data); err != nil {
			return err
		}

		fileBytes += int64(len(data))
		if !e.recordProgress(s, len(data)) {
			return errSessionStopped
		}
		e.emit(SendProgress{Progress{
			FileIndex:   index,
			FileName:    desc.Name,
			ChunkIndex:  idx,
			TotalChunks: totalChunks,
			FileBytes:   fileBytes,
			FileSize:    desc.Size,
			Stats:       e.Stats(),
		}})
	}

	if err := e.sendControl(s, protocol.FileEnd{FileIndex: index, Checksum: desc.Checksum}); err != nil {
		return err
	}
	e.log.Debug("file sent", "index", index, "name", desc.Name)
	e.emit(FileCompleted{Index: index, File: desc, Checksum: desc.Checksum})
	return nil
}

func (e *Engine) stopped(s *sendSession) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.stopped
}

func (e *Engine) recordProgress(s *sendSession, n int) bool {
	e.mu.Lock()
	current := e.send == s && !s.stopped
	e.mu.Unlock()
	if !current {
		return false
	}
	e.meter.Add(n)
	return true
}

func (e *Engine) sendControl(s *sendSession, msg protocol.Control) error {
	raw, err := protocol.EncodeControl(msg)
	if err != nil {
		return err
	}
	e.wireMu.Lock()
	defer e.wireMu.Unlock()
	if e.stopped(s) {
		return errSessionStopped
	}
	if err := e.link.SendText(string(raw)); err != nil {
		return fmt.Errorf("send %s: %w", msg.ControlType(), wrapChannel(err))
	}
	return nil
}

func (e *Engine) sendChunk(s *sendSession, hdr protocol.Chunk, data []byte) error {
	raw, err := protocol.EncodeControl(hdr)
	if err != nil {
		return err
	}
	e.wireMu.Lock()
	defer e.wireMu.Unlock()
	if e.stopped(s) {
		return errSessionStopped
	}
	if err := e.link.SendText(string(raw)); err != nil {
		return fmt.Errorf("send chunk %d header: %w", hdr.ChunkIndex, wrapChannel(err))
	}
	if err := e.link.SendBinary(data); err != nil {
		return fmt.Errorf("send chunk %d payload: %w", hdr.ChunkIndex, wrapChannel(err))
	}
	return nil
}

func wrapChannel(err error) error {
	if errors.Is(err, protocol.ErrChannel) {
		return err
	}
	return fmt.Errorf("%w: %v", protocol.ErrChannel, err)
}

func (e *Engine) waitWhilePaused(ctx context.Context, s *sendSession) error {
	paused := func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return s.paused
	}
	if !paused() {
		return e.checkStopped(ctx, s)
	}
	ticker := time.NewTicker(e.opts.PausePollInterval)
	defer ticker.Stop()
	for paused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.cancel:
			return errSessionStopped
		case <-ticker.C:
		}
	}
	return e.checkStopped(ctx, s)
}

func (e *Engine) waitForBufferSpace(ctx context.Context, s *sendSession) error {
	if e.link.BufferedAmount() <= e.opts.MaxBufferedAmount {
		return nil
	}
	ticker := time.NewTicker(e.opts.BufferPollInterval)
	defer ticker.Stop()
	for e.link.BufferedAmount() > e.opts.MaxBufferedAmount {
		if !e.link.Connected() {
			return fmt.Errorf("%w: link closed while draining", protocol.ErrChannel)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.cancel:
			return errSessionStopped
		case <-ticker.C:
		}
	}
	return nil
}

func (e *Engine) checkStopped(ctx context.Context, s *sendSession) error {
	select {
	case <-s.cancel:
		return errSessionStopped
	default:
	}
	return ctx.Err()
}
