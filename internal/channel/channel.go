// Package channel defines the ordered, message-oriented duplex channel the
// connection manager and transfer engine are built on.
package channel

// ReadyState mirrors the lifecycle of a data channel.
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message is one delivered channel message. Text messages carry UTF-8 JSON.
type Message struct {
	Data   []byte
	Binary bool
}

// Handler receives channel notifications. Calls for one channel are serialized
// but may arrive on any goroutine.
type Handler interface {
	OnOpen()
	OnMessage(Message)
	OnClose()
	OnError(error)
}

// HandlerFuncs adapts optional callbacks to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	Open    func()
	Message func(Message)
	Close   func()
	Error   func(error)
}

func (h HandlerFuncs) OnOpen() {
	if h.Open != nil {
		h.Open()
	}
}

func (h HandlerFuncs) OnMessage(msg Message) {
	if h.Message != nil {
		h.Message(msg)
	}
}

func (h HandlerFuncs) OnClose() {
	if h.Close != nil {
		h.Close()
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// Channel is an ordered, reliable-enough message channel between two peers.
//
// SendBinary must not retain p after it returns. BufferedAmount reports bytes
// accepted by Send* but not yet handed to the network.
type Channel interface {
	Label() string
	SendText(s string) error
	SendBinary(p []byte) error
	ReadyState() ReadyState
	BufferedAmount() uint64
	// SetBufferedAmountLowThreshold registers fn to run whenever the buffered
	// amount drops to or below threshold.
	SetBufferedAmountLowThreshold(threshold uint64, fn func())
	// SetHandler installs h. If the channel is already open, h.OnOpen is
	// delivered asynchronously.
	SetHandler(h Handler)
	Close() error
}
