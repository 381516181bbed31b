// Package transfer streams files over a connected message channel: control
// messages, chunk framing, backpressure, integrity checks, and reassembly.
package transfer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sheerbytes/lanbeam/internal/progress"
	"github.com/sheerbytes/lanbeam/pkg/protocol"
)

// Link is the channel surface the engine sends through.
type Link interface {
	Connected() bool
	SendText(s string) error
	SendBinary(p []byte) error
	BufferedAmount() uint64
}

// errSessionStopped unwinds a send loop after Cancel, remote cancel or disconnect.
var errSessionStopped = errors.New("session stopped")

// Engine runs at most one send or receive session at a time over a Link.
type Engine struct {
	link Link
	opts Options
	log  *slog.Logger

	// wireMu keeps a chunk announcement and its payload adjacent on the wire.
	wireMu sync.Mutex

	mu        sync.Mutex
	send      *sendSession
	recv      *recvSession
	pending   *protocol.Chunk
	arena     *arena
	meter     *progress.Meter
	listeners map[int]func(Event)
	nextID    int
}

type sendSession struct {
	paused  bool
	stopped bool
	cancel  chan struct{}
	// err is set when the session was stopped by connection loss.
	err error
}

func (s *sendSession) stop(err error) {
	if s.stopped {
		return
	}
	s.stopped = true
	s.paused = false
	s.err = err
	close(s.cancel)
}

type recvSession struct {
	fileCount int
	totalSize int64
	files     []FileDescriptor
}

// NewEngine returns an idle engine sending through link.
func NewEngine(link Link, opts Options) *Engine {
	opts = NormalizeOptions(opts)
	return &Engine{
		link:      link,
		opts:      opts,
		log:       opts.Logger.With("component", "transfer"),
		arena:     newArena(),
		meter:     progress.NewMeterWithNow(opts.ProgressInterval, opts.Now),
		listeners: make(map[int]func(Event)),
	}
}

// AddListener registers fn for every engine event and returns a function that
// removes it. Listeners run on the goroutine that produced the event.
func (e *Engine) AddListener(fn func(Event)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *Engine) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.listeners))
	for id := 0; id < e.nextID; id++ {
		if fn, ok := e.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	e.mu.Unlock()
	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// IsActive reports whether a send or receive session is in progress.
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.send != nil || e.recv != nil
}

// IsPaused reports whether the active send session is paused.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.send != nil && e.send.paused
}

// Stats returns a snapshot of the current or most recent session.
func (e *Engine) Stats() Stats {
	return statsFrom(e.meter.Snapshot())
}

func statsFrom(s progress.Stats) Stats {
	return Stats{
		BytesTransferred: s.BytesDone,
		TotalBytes:       s.Total,
		StartTime:        s.StartedAt,
		CurrentSpeed:     s.CurrentBps,
		AverageSpeed:     s.AverageBps,
		ETA:              s.ETA,
		ETAKnown:         s.ETAKnown,
		Percent:          s.Percent,
	}
}

func (s Stats) wire() protocol.TransferStats {
	out := protocol.TransferStats{
		BytesTransferred: s.BytesTransferred,
		TotalBytes:       s.TotalBytes,
		CurrentSpeed:     s.CurrentSpeed,
		AverageSpeed:     s.AverageSpeed,
	}
	if !s.StartTime.IsZero() {
		out.StartTime = s.StartTime.UnixMilli()
	}
	if s.ETAKnown {
		out.ETA = s.ETA.Seconds()
	}
	return out
}

// Pause holds the send loop at the next chunk boundary. No-op unless a send
// session is active and running.
func (e *Engine) Pause() {
	e.mu.Lock()
	s := e.send
	if s == nil || s.paused || s.stopped {
		e.mu.Unlock()
		return
	}
	s.paused = true
	e.mu.Unlock()
	e.log.Info("transfer paused")
	e.emit(TransferPaused{})
}

// Resume releases a paused send loop. No-op unless paused.
func (e *Engine) Resume() {
	e.mu.Lock()
	s := e.send
	if s == nil || !s.paused {
		e.mu.Unlock()
		return
	}
	s.paused = false
	e.mu.Unlock()
	e.log.Info("transfer resumed")
	e.emit(TransferResumed{})
}

// Cancel stops the active session immediately and tells the peer with a
// best-effort transfer_cancel. No-op when idle.
func (e *Engine) Cancel() {
	e.mu.Lock()
	s, r := e.send, e.recv
	if s == nil && r == nil {
		e.mu.Unlock()
		return
	}
	if s != nil {
		s.stop(nil)
		e.send = nil
	}
	if r != nil {
		e.resetReceiveLocked()
	}
	e.mu.Unlock()

	e.notifyCancel()
	e.log.Info("transfer cancelled")
	e.emit(TransferCancelled{})
}

func (e *Engine) notifyCancel() {
	raw, err := protocol.EncodeControl(protocol.TransferCancel{})
	if err != nil {
		return
	}
	e.wireMu.Lock()
	defer e.wireMu.Unlock()
	if !e.link.Connected() {
		return
	}
	if err := e.link.SendText(string(raw)); err != nil {
		e.log.Debug("transfer_cancel not delivered", "err", err)
	}
}

// HandleDisconnect aborts any active session after the connection dropped.
func (e *Engine) HandleDisconnect() {
	lost := fmt.Errorf("%w: connection lost", protocol.ErrChannel)
	e.mu.Lock()
	s, r := e.send, e.recv
	if s != nil {
		s.stop(lost)
		e.send = nil
	}
	if r != nil {
		e.resetReceiveLocked()
	}
	e.mu.Unlock()
	if s == nil && r == nil {
		return
	}
	e.log.Warn("transfer interrupted", "err", lost)
	e.emit(TransferInterrupted{Err: lost})
}

func (e *Engine) resetReceiveLocked() {
	e.recv = nil
	e.pending = nil
	e.arena.clear()
}

func wireTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromWireTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
