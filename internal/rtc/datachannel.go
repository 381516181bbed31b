package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/sheerbytes/lanbeam/internal/channel"
	"github.com/sheerbytes/lanbeam/pkg/protocol"
)

var _ channel.Channel = (*dataChannel)(nil)

// dataChannel adapts a pion DataChannel to channel.Channel. pion callbacks are
// registered once and forwarded to whichever handler is current.
type dataChannel struct {
	dc *webrtc.DataChannel

	mu      sync.Mutex
	handler channel.Handler
}

func newDataChannel(dc *webrtc.DataChannel) *dataChannel {
	d := &dataChannel{dc: dc}
	dc.OnOpen(func() {
		if h := d.current(); h != nil {
			h.OnOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if h := d.current(); h != nil {
			h.OnMessage(channel.Message{Data: msg.Data, Binary: !msg.IsString})
		}
	})
	dc.OnClose(func() {
		if h := d.current(); h != nil {
			h.OnClose()
		}
	})
	dc.OnError(func(err error) {
		if h := d.current(); h != nil {
			h.OnError(err)
		}
	})
	return d
}

func (d *dataChannel) current() channel.Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handler
}

func (d *dataChannel) Label() string { return d.dc.Label() }

func (d *dataChannel) SendText(s string) error {
	if err := d.dc.SendText(s); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrChannel, err)
	}
	return nil
}

// SendBinary hands p to SCTP, which copies it into its own chunks.
func (d *dataChannel) SendBinary(p []byte) error {
	if err := d.dc.Send(p); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrChannel, err)
	}
	return nil
}

func (d *dataChannel) ReadyState() channel.ReadyState {
	switch d.dc.ReadyState() {
	case webrtc.DataChannelStateOpen:
		return channel.StateOpen
	case webrtc.DataChannelStateClosing:
		return channel.StateClosing
	case webrtc.DataChannelStateClosed:
		return channel.StateClosed
	default:
		return channel.StateConnecting
	}
}

func (d *dataChannel) BufferedAmount() uint64 { return d.dc.BufferedAmount() }

func (d *dataChannel) SetBufferedAmountLowThreshold(threshold uint64, fn func()) {
	d.dc.SetBufferedAmountLowThreshold(threshold)
	d.dc.OnBufferedAmountLow(fn)
}

func (d *dataChannel) SetHandler(h channel.Handler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
	if h != nil && d.dc.ReadyState() == webrtc.DataChannelStateOpen {
		go h.OnOpen()
	}
}

func (d *dataChannel) Close() error {
	return d.dc.Close()
}
