package transfer

import (
	"fmt"

	"github.com/sheerbytes/lanbeam/internal/channel"
	"github.com/sheerbytes/lanbeam/internal/integrity"
	"github.com/sheerbytes/lanbeam/pkg/protocol"
)

// HandleMessage consumes one inbound channel message. Protocol violations are
// logged and dropped; they never fail the session.
func (e *Engine) HandleMessage(msg channel.Message) {
	if msg.Binary {
		e.handleChunkData(msg.Data)
		return
	}
	ctrl, err := protocol.DecodeControl(msg.Data)
	if err != nil {
		e.log.Warn("dropping control message", "err", err)
		return
	}
	switch m := ctrl.(type) {
	case protocol.TransferStart:
		e.handleTransferStart(m)
	case protocol.FileStart:
		e.handleFileStart(m)
	case protocol.Chunk:
		e.handleChunkHeader(m)
	case protocol.FileEnd:
		e.handleFileEnd(m)
	case protocol.TransferComplete:
		e.handleTransferComplete(m)
	case protocol.TransferCancel:
		e.handleTransferCancel()
	}
}

func (e *Engine) handleTransferStart(m protocol.TransferStart) {
	files := make([]FileDescriptor, 0, len(m.Files))
	for _, f := range m.Files {
		files = append(files, FileDescriptor{
			Name:         f.Name,
			Size:         f.Size,
			MimeType:     f.Type,
			LastModified: fromWireTime(f.LastModified),
		})
	}

	e.mu.Lock()
	if e.send != nil {
		e.mu.Unlock()
		e.log.Warn("dropping transfer_start while sending", "err", protocol.ErrProtocol)
		return
	}
	e.resetReceiveLocked()
	e.recv = &recvSession{fileCount: m.FileCount, totalSize: m.TotalSize, files: files}
	e.meter.Start(m.TotalSize)
	e.mu.Unlock()

	e.log.Info("receive starting", "files", m.FileCount, "bytes", m.TotalSize)
	e.emit(ReceiveStarted{FileCount: m.FileCount, TotalSize: m.TotalSize, Files: files})
}

func (e *Engine) handleFileStart(m protocol.FileStart) {
	desc := FileDescriptor{
		Name:         m.Name,
		Size:         m.Size,
		MimeType:     m.Type,
		LastModified: fromWireTime(m.LastModified),
		Checksum:     m.Checksum,
	}

	e.mu.Lock()
	if e.recv == nil {
		e.mu.Unlock()
		e.log.Warn("dropping file_start outside a session", "index", m.FileIndex, "err", protocol.ErrProtocol)
		return
	}
	if reason := checkFileStart(e.recv, m); reason != "" {
		e.mu.Unlock()
		e.log.Warn("dropping file_start", "index", m.FileIndex, "size", m.Size, "chunkSize", m.ChunkSize, "reason", reason, "err", protocol.ErrProtocol)
		return
	}

	var checker integrityChecker = e.opts.Integrity
	if m.HashAlg != "" || m.ChunkChecksumAlg != "" {
		h, err := integrity.New(m.HashAlg, m.ChunkChecksumAlg)
		if err != nil {
			e.mu.Unlock()
			e.emit(FileReceiveFailed{Index: m.FileIndex, File: desc, Err: fmt.Errorf("%w: %v", protocol.ErrProtocol, err)})
			return
		}
		checker = h
	}

	e.arena.release(m.FileIndex)
	expected := ChunkCount(m.Size, m.ChunkSize)
	e.arena.files[m.FileIndex] = &fileBuffer{
		index:    m.FileIndex,
		desc:     desc,
		start:    m,
		expected: expected,
		present:  NewBitmap(expected),
		hasher:   checker,
	}
	e.mu.Unlock()

	e.log.Debug("file receive started", "index", m.FileIndex, "name", m.Name, "size", m.Size, "chunks", expected)
	e.emit(FileReceiveStarted{Index: m.FileIndex, File: desc})
}

// checkFileStart returns why m cannot belong to r, or "".
func checkFileStart(r *recvSession, m protocol.FileStart) string {
	switch {
	case m.FileIndex < 0 || m.FileIndex >= r.fileCount:
		return fmt.Sprintf("file index outside [0,%d)", r.fileCount)
	case m.Size < 0:
		return "negative size"
	case m.Size > r.totalSize:
		return fmt.Sprintf("size exceeds announced total %d", r.totalSize)
	case m.ChunkSize <= 0 || m.ChunkSize > maxChunkSize:
		return fmt.Sprintf("chunk size outside (0,%d]", maxChunkSize)
	case ChunkCount(m.Size, m.ChunkSize) > maxChunkCount:
		return fmt.Sprintf("more than %d chunks", maxChunkCount)
	}
	return ""
}

func (e *Engine) handleChunkHeader(m protocol.Chunk) {
	e.mu.Lock()
	if e.pending != nil {
		e.log.Debug("chunk header replaced before payload", "file", e.pending.FileIndex, "chunk", e.pending.ChunkIndex)
	}
	hdr := m
	e.pending = &hdr
	e.mu.Unlock()
}

func (e *Engine) handleChunkData(data []byte) {
	e.mu.Lock()
	hdr := e.pending
	e.pending = nil
	if hdr == nil {
		e.mu.Unlock()
		e.log.Warn("dropping binary message without chunk header", "bytes", len(data), "err", protocol.ErrProtocol)
		return
	}
	fb, ok := e.arena.files[hdr.FileIndex]
	if !ok || e.recv == nil {
		e.mu.Unlock()
		e.log.Warn("dropping chunk for unknown file", "file", hdr.FileIndex, "chunk", hdr.ChunkIndex, "err", protocol.ErrProtocol)
		return
	}
	if reason := e.rejectChunk(fb, hdr, data); reason != "" {
		e.mu.Unlock()
		e.log.Debug("chunk dropped", "file", hdr.FileIndex, "chunk", hdr.ChunkIndex, "reason", reason)
		return
	}

	e.arena.put(hdr.FileIndex, hdr.ChunkIndex, data)
	fb.present.Set(hdr.ChunkIndex)
	fb.received += int64(len(data))
	e.meter.Add(len(data))
	ev := ReceiveProgress{Progress{
		FileIndex:   hdr.FileIndex,
		FileName:    fb.desc.Name,
		ChunkIndex:  hdr.ChunkIndex,
		TotalChunks: hdr.TotalChunks,
		FileBytes:   fb.received,
		FileSize:    fb.desc.Size,
		Stats:       statsFrom(e.meter.Snapshot()),
	}}
	e.mu.Unlock()

	e.emit(ev)
}

// rejectChunk returns why a payload cannot be stored, or "".
func (e *Engine) rejectChunk(fb *fileBuffer, hdr *protocol.Chunk, data []byte) string {
	if len(data) != hdr.DataSize {
		return fmt.Sprintf("size %d does not match announced %d", len(data), hdr.DataSize)
	}
	if hdr.ChunkIndex < 0 || hdr.ChunkIndex >= fb.expected {
		return fmt.Sprintf("index outside [0,%d)", fb.expected)
	}
	if fb.present.Get(hdr.ChunkIndex) {
		return "duplicate"
	}
	if e.opts.ChecksumEnabled && hdr.Checksum != nil {
		if got := fb.hasher.ChunkChecksum(data); got != *hdr.Checksum {
			return fmt.Sprintf("checksum %d does not match announced %d", got, *hdr.Checksum)
		}
	}
	return ""
}

func (e *Engine) handleFileEnd(m protocol.FileEnd) {
	e.mu.Lock()
	fb, ok := e.arena.files[m.FileIndex]
	if !ok {
		e.mu.Unlock()
		e.log.Warn("dropping file_end for unknown file", "file", m.FileIndex, "err", protocol.ErrProtocol)
		return
	}
	data, err := e.arena.assemble(fb)
	e.arena.release(m.FileIndex)
	e.mu.Unlock()

	desc := fb.desc
	if err == nil {
		announced := m.Checksum
		if announced == "" {
			announced = fb.start.Checksum
		}
		if e.opts.ChecksumEnabled && announced != "" {
			if got := fb.hasher.HashBytes(data); got != announced {
				err = fmt.Errorf("%w: checksum %s does not match announced %s", protocol.ErrIntegrity, got, announced)
			}
		}
		desc.Checksum = announced
	}
	if err != nil {
		e.log.Error("file receive failed", "index", m.FileIndex, "name", desc.Name, "err", err)
		e.emit(FileReceiveFailed{Index: m.FileIndex, File: desc, Err: err})
		return
	}

	e.log.Info("file received", "index", m.FileIndex, "name", desc.Name, "size", desc.Size)
	e.emit(FileReceived{Index: m.FileIndex, File: desc, Data: data, Checksum: desc.Checksum})
}

func (e *Engine) handleTransferComplete(protocol.TransferComplete) {
	e.mu.Lock()
	if e.recv == nil {
		e.mu.Unlock()
		e.log.Warn("dropping transfer_complete outside a session", "err", protocol.ErrProtocol)
		return
	}
	e.resetReceiveLocked()
	stats := statsFrom(e.meter.Snapshot())
	e.mu.Unlock()

	e.log.Info("receive complete", "bytes", stats.BytesTransferred)
	e.emit(ReceiveCompleted{Stats: stats, Duration: e.opts.Now().Sub(stats.StartTime)})
}

func (e *Engine) handleTransferCancel() {
	e.mu.Lock()
	s, r := e.send, e.recv
	if s != nil {
		s.stop(nil)
		e.send = nil
	}
	if r != nil {
		e.resetReceiveLocked()
	}
	e.mu.Unlock()
	if s == nil && r == nil {
		e.log.Debug("transfer_cancel while idle")
		return
	}
	e.log.Info("transfer cancelled by peer")
	e.emit(TransferCancelled{Remote: true})
}
