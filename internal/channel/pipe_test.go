package channel

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sheerbytes/lanbeam/pkg/protocol"
)

type recorder struct {
	mu     sync.Mutex
	opens  int
	closes int
	msgs   []Message
	got    chan Message
	closed chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan Message, 64), closed: make(chan struct{})}
}

func (r *recorder) OnOpen() {
	r.mu.Lock()
	r.opens++
	r.mu.Unlock()
}

func (r *recorder) OnMessage(m Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	r.got <- m
}

func (r *recorder) OnClose() {
	r.mu.Lock()
	r.closes++
	r.mu.Unlock()
	close(r.closed)
}

func (r *recorder) OnError(error) {}

func waitMessage(t *testing.T, r *recorder) Message {
	t.Helper()
	select {
	case m := <-r.got:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestPipeOrderedDelivery(t *testing.T) {
	a, b := NewPipe("test")
	rb := newRecorder()
	b.SetHandler(rb)

	payload := []byte{1, 2, 3}
	if err := a.SendText(`{"type":"chunk"}`); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := a.SendBinary(payload); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}
	payload[0] = 9

	first := waitMessage(t, rb)
	second := waitMessage(t, rb)
	if first.Binary || string(first.Data) != `{"type":"chunk"}` {
		t.Fatalf("first message = %+v", first)
	}
	if !second.Binary || second.Data[0] != 1 {
		t.Fatalf("second message = %+v, payload must not be retained", second)
	}
}

func TestPipeBufferedAmountTracksDelivery(t *testing.T) {
	a, b := NewPipe("test")
	rb := newRecorder()
	b.SetHandler(rb)
	b.Hold()

	lowFired := make(chan struct{}, 1)
	a.SetBufferedAmountLowThreshold(0, func() { lowFired <- struct{}{} })

	if err := a.SendBinary(make([]byte, 100)); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}
	if got := a.BufferedAmount(); got != 100 {
		t.Fatalf("BufferedAmount = %d, want 100", got)
	}

	b.Release()
	waitMessage(t, rb)
	select {
	case <-lowFired:
	case <-time.After(2 * time.Second):
		t.Fatal("buffered amount low callback not fired")
	}
	if got := a.BufferedAmount(); got != 0 {
		t.Fatalf("BufferedAmount = %d after drain, want 0", got)
	}
}

func TestPipeCloseBothEnds(t *testing.T) {
	a, b := NewPipe("test")
	ra, rb := newRecorder(), newRecorder()
	a.SetHandler(ra)
	b.SetHandler(rb)

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	for _, r := range []*recorder{ra, rb} {
		select {
		case <-r.closed:
		case <-time.After(2 * time.Second):
			t.Fatal("OnClose not delivered")
		}
	}
	if b.ReadyState() != StateClosed {
		t.Fatalf("remote state = %s, want closed", b.ReadyState())
	}
	err := b.SendText("late")
	if !errors.Is(err, protocol.ErrChannel) {
		t.Fatalf("send after close error = %v, want ErrChannel", err)
	}
}

func TestHandlerFuncsIgnoresNil(t *testing.T) {
	var h Handler = HandlerFuncs{}
	h.OnOpen()
	h.OnMessage(Message{})
	h.OnClose()
	h.OnError(errors.New("x"))
}
