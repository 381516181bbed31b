package channel

import (
	"fmt"
	"sync"
	"time"

	"github.com/sheerbytes/lanbeam/pkg/protocol"
)

// PipeEnd is one side of an in-memory Channel pair. Messages are delivered to
// the remote handler in send order on a dedicated goroutine.
type PipeEnd struct {
	label string

	mu       sync.Mutex
	cond     *sync.Cond
	peer     *PipeEnd
	handler  Handler
	state    ReadyState
	inbox    []pipeEvent
	buffered uint64
	held     bool
	delay    time.Duration
	done     bool

	lowThreshold uint64
	lowFn        func()
}

type pipeEventKind int

const (
	eventOpen pipeEventKind = iota
	eventMessage
	eventClose
	eventError
)

type pipeEvent struct {
	kind pipeEventKind
	msg  Message
	err  error
}

var _ Channel = (*PipeEnd)(nil)

// NewPipe returns two connected, open channel ends.
func NewPipe(label string) (*PipeEnd, *PipeEnd) {
	a := newPipeEnd(label)
	b := newPipeEnd(label)
	a.peer = b
	b.peer = a
	go a.deliver()
	go b.deliver()
	return a, b
}

func newPipeEnd(label string) *PipeEnd {
	e := &PipeEnd{label: label, state: StateOpen}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *PipeEnd) Label() string { return e.label }

func (e *PipeEnd) SendText(s string) error {
	return e.send(Message{Data: []byte(s)})
}

func (e *PipeEnd) SendBinary(p []byte) error {
	data := make([]byte, len(p))
	copy(data, p)
	return e.send(Message{Data: data, Binary: true})
}

func (e *PipeEnd) send(msg Message) error {
	e.mu.Lock()
	if e.state != StateOpen {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("send on %s channel: %w", state, protocol.ErrChannel)
	}
	e.buffered += uint64(len(msg.Data))
	e.mu.Unlock()

	e.peer.enqueue(pipeEvent{kind: eventMessage, msg: msg})
	return nil
}

func (e *PipeEnd) ReadyState() ReadyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *PipeEnd) BufferedAmount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffered
}

func (e *PipeEnd) SetBufferedAmountLowThreshold(threshold uint64, fn func()) {
	e.mu.Lock()
	e.lowThreshold = threshold
	e.lowFn = fn
	e.mu.Unlock()
}

func (e *PipeEnd) SetHandler(h Handler) {
	e.mu.Lock()
	e.handler = h
	open := e.state == StateOpen
	if open {
		e.inbox = append([]pipeEvent{{kind: eventOpen}}, e.inbox...)
	}
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Close closes both ends. Each end's handler receives OnClose once.
func (e *PipeEnd) Close() error {
	if !e.markClosed() {
		return nil
	}
	e.peer.markClosed()
	return nil
}

func (e *PipeEnd) markClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return false
	}
	e.state = StateClosed
	e.inbox = append(e.inbox, pipeEvent{kind: eventClose})
	e.cond.Broadcast()
	return true
}

// FailWith delivers err to this end's handler.
func (e *PipeEnd) FailWith(err error) {
	e.enqueue(pipeEvent{kind: eventError, err: err})
}

// Hold stops delivery of inbound messages to this end until Release.
func (e *PipeEnd) Hold() {
	e.mu.Lock()
	e.held = true
	e.mu.Unlock()
}

// Release resumes delivery after Hold.
func (e *PipeEnd) Release() {
	e.mu.Lock()
	e.held = false
	e.cond.Broadcast()
	e.mu.Unlock()
}

// SetDelay slows delivery of every inbound message to this end by d.
func (e *PipeEnd) SetDelay(d time.Duration) {
	e.mu.Lock()
	e.delay = d
	e.mu.Unlock()
}

func (e *PipeEnd) enqueue(ev pipeEvent) {
	e.mu.Lock()
	if !e.done {
		e.inbox = append(e.inbox, ev)
		e.cond.Broadcast()
	}
	e.mu.Unlock()
}

func (e *PipeEnd) deliver() {
	for {
		e.mu.Lock()
		for !e.readyLocked() {
			e.cond.Wait()
		}
		ev := e.inbox[0]
		e.inbox = e.inbox[1:]
		h := e.handler
		delay := e.delay
		if ev.kind == eventClose {
			e.done = true
			e.inbox = nil
		}
		e.mu.Unlock()

		switch ev.kind {
		case eventOpen:
			h.OnOpen()
		case eventMessage:
			if delay > 0 {
				time.Sleep(delay)
			}
			h.OnMessage(ev.msg)
			e.peer.drained(uint64(len(ev.msg.Data)))
		case eventError:
			h.OnError(ev.err)
		case eventClose:
			if h != nil {
				h.OnClose()
			}
			return
		}
	}
}

func (e *PipeEnd) readyLocked() bool {
	if len(e.inbox) == 0 {
		return false
	}
	next := e.inbox[0].kind
	if next == eventClose {
		return true
	}
	if e.handler == nil {
		return false
	}
	return !(e.held && next == eventMessage && e.state == StateOpen)
}

func (e *PipeEnd) drained(n uint64) {
	e.mu.Lock()
	before := e.buffered
	if n > e.buffered {
		n = e.buffered
	}
	e.buffered -= n
	fn := e.lowFn
	crossed := fn != nil && before > e.lowThreshold && e.buffered <= e.lowThreshold
	e.mu.Unlock()
	if crossed {
		fn()
	}
}
