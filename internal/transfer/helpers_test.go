package transfer

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sheerbytes/lanbeam/internal/channel"
)

type pipeLink struct {
	end *channel.PipeEnd
}

func (l pipeLink) Connected() bool           { return l.end.ReadyState() == channel.StateOpen }
func (l pipeLink) SendText(s string) error   { return l.end.SendText(s) }
func (l pipeLink) SendBinary(p []byte) error { return l.end.SendBinary(p) }
func (l pipeLink) BufferedAmount() uint64    { return l.end.BufferedAmount() }

// recordingLink captures what the engine puts on the wire.
type recordingLink struct {
	inner Link

	mu               sync.Mutex
	types            []string
	binarySizes      []int
	bufferedAtBinary []uint64
}

func (l *recordingLink) Connected() bool        { return l.inner.Connected() }
func (l *recordingLink) BufferedAmount() uint64 { return l.inner.BufferedAmount() }

func (l *recordingLink) SendText(s string) error {
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal([]byte(s), &head)
	l.mu.Lock()
	l.types = append(l.types, head.Type)
	l.mu.Unlock()
	return l.inner.SendText(s)
}

func (l *recordingLink) SendBinary(p []byte) error {
	buffered := l.inner.BufferedAmount()
	l.mu.Lock()
	l.binarySizes = append(l.binarySizes, len(p))
	l.bufferedAtBinary = append(l.bufferedAtBinary, buffered)
	l.mu.Unlock()
	return l.inner.SendBinary(p)
}

func (l *recordingLink) sentTypes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.types...)
}

func (l *recordingLink) sentBinarySizes() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.binarySizes...)
}

// nullLink is a connected link that discards everything.
type nullLink struct {
	mu       sync.Mutex
	texts    []string
	down     bool
	buffered uint64
}

func (l *nullLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.down
}

func (l *nullLink) SendText(s string) error {
	l.mu.Lock()
	l.texts = append(l.texts, s)
	l.mu.Unlock()
	return nil
}

func (l *nullLink) SendBinary([]byte) error { return nil }

func (l *nullLink) BufferedAmount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buffered
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func eventsOf[T Event](l *eventLog) []T {
	var out []T
	for _, ev := range l.all() {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func waitForEvent[T Event](t *testing.T, l *eventLog) T {
	t.Helper()
	require.Eventually(t, func() bool { return len(eventsOf[T](l)) > 0 }, 5*time.Second, 5*time.Millisecond)
	return eventsOf[T](l)[0]
}

type enginePair struct {
	sender       *Engine
	receiver     *Engine
	sendEnd      *channel.PipeEnd
	recvEnd      *channel.PipeEnd
	wire         *recordingLink
	senderEvents *eventLog
	recvEvents   *eventLog
}

func newEnginePair(t *testing.T, opts Options) *enginePair {
	t.Helper()
	sendEnd, recvEnd := channel.NewPipe("test")
	p := &enginePair{
		sendEnd:      sendEnd,
		recvEnd:      recvEnd,
		wire:         &recordingLink{inner: pipeLink{end: sendEnd}},
		senderEvents: &eventLog{},
		recvEvents:   &eventLog{},
	}
	p.sender = NewEngine(p.wire, opts)
	p.receiver = NewEngine(pipeLink{end: recvEnd}, opts)
	p.sender.AddListener(p.senderEvents.add)
	p.receiver.AddListener(p.recvEvents.add)
	sendEnd.SetHandler(channel.HandlerFuncs{Message: p.sender.HandleMessage})
	recvEnd.SetHandler(channel.HandlerFuncs{Message: p.receiver.HandleMessage})
	t.Cleanup(func() { _ = sendEnd.Close() })
	return p
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.PausePollInterval = 5 * time.Millisecond
	opts.BufferPollInterval = time.Millisecond
	return opts
}

func patterned(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*31 + i/251)
	}
	return out
}
