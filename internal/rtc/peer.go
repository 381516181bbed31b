// Package rtc implements conn.Peer and channel.Channel on pion WebRTC.
package rtc

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/sheerbytes/lanbeam/internal/channel"
	"github.com/sheerbytes/lanbeam/internal/conn"
)

var _ conn.Peer = (*Peer)(nil)

// Peer wraps a pion PeerConnection.
type Peer struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	mu      sync.Mutex
	onState func(conn.PeerState)
	onDC    func(channel.Channel)
	closed  bool
}

// NewPeer creates a PeerConnection with no ICE servers.
func NewPeer(cfg Config) (*Peer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine(cfg)))
	pc, err := api.NewPeerConnection(peerConnectionConfig())
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	p := &Peer{pc: pc, logger: logger.With("component", "rtc")}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Debug("peer connection state", "state", s.String())
		p.mu.Lock()
		fn := p.onState
		p.mu.Unlock()
		if fn != nil {
			fn(peerState(s))
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.logger.Debug("remote data channel", "label", dc.Label())
		p.mu.Lock()
		fn := p.onDC
		p.mu.Unlock()
		ch := newDataChannel(dc)
		if fn == nil {
			_ = ch.Close()
			return
		}
		fn(ch)
	})
	return p, nil
}

// Factory returns a conn.PeerFactory creating peers from cfg.
func Factory(cfg Config) conn.PeerFactory {
	return func() (conn.Peer, error) {
		return NewPeer(cfg)
	}
}

func (p *Peer) CreateDataChannel(cfg conn.ChannelConfig) (channel.Channel, error) {
	ordered := cfg.Ordered
	retransmits := cfg.MaxRetransmits
	subprotocol := cfg.Protocol
	dc, err := p.pc.CreateDataChannel(cfg.Label, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
		Protocol:       &subprotocol,
	})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return newDataChannel(dc), nil
}

func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (p *Peer) CreateAnswer() (string, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (p *Peer) SetLocalDescription(t conn.DescriptionType, desc string) (<-chan struct{}, error) {
	// The promise must exist before gathering starts or completion can be missed.
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(webrtc.SessionDescription{Type: sdpType(t), SDP: desc}); err != nil {
		return nil, err
	}
	return gathered, nil
}

func (p *Peer) SetRemoteDescription(t conn.DescriptionType, desc string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType(t), SDP: desc})
}

func (p *Peer) LocalDescription() string {
	desc := p.pc.LocalDescription()
	if desc == nil {
		return ""
	}
	return desc.SDP
}

func (p *Peer) OnDataChannel(fn func(channel.Channel)) {
	p.mu.Lock()
	p.onDC = fn
	p.mu.Unlock()
}

func (p *Peer) OnStateChange(fn func(conn.PeerState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

// Close closes the PeerConnection and every data channel on it.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.onState = nil
	p.onDC = nil
	p.mu.Unlock()
	return p.pc.Close()
}

func sdpType(t conn.DescriptionType) webrtc.SDPType {
	if t == conn.DescriptionAnswer {
		return webrtc.SDPTypeAnswer
	}
	return webrtc.SDPTypeOffer
}

func peerState(s webrtc.PeerConnectionState) conn.PeerState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return conn.PeerConnecting
	case webrtc.PeerConnectionStateConnected:
		return conn.PeerConnected
	case webrtc.PeerConnectionStateDisconnected:
		return conn.PeerDisconnected
	case webrtc.PeerConnectionStateFailed:
		return conn.PeerFailed
	case webrtc.PeerConnectionStateClosed:
		return conn.PeerClosed
	default:
		return conn.PeerNew
	}
}
