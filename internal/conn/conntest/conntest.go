// Package conntest provides an in-memory conn.Peer pair for tests.
package conntest

import (
	"sync"

	"github.com/sheerbytes/lanbeam/internal/channel"
	"github.com/sheerbytes/lanbeam/internal/conn"
)

// GatedChannel reports connecting until the network opens it.
type GatedChannel struct {
	*channel.PipeEnd

	mu      sync.Mutex
	opened  bool
	handler channel.Handler
}

func (g *GatedChannel) ReadyState() channel.ReadyState {
	g.mu.Lock()
	opened := g.opened
	g.mu.Unlock()
	if !opened {
		return channel.StateConnecting
	}
	return g.PipeEnd.ReadyState()
}

func (g *GatedChannel) SetHandler(h channel.Handler) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
	g.PipeEnd.SetHandler(channel.HandlerFuncs{
		Open: func() {
			g.mu.Lock()
			opened := g.opened
			g.mu.Unlock()
			if opened {
				h.OnOpen()
			}
		},
		Message: h.OnMessage,
		Close:   h.OnClose,
		Error:   h.OnError,
	})
}

func (g *GatedChannel) open() {
	g.mu.Lock()
	g.opened = true
	h := g.handler
	g.mu.Unlock()
	if h != nil {
		h.OnOpen()
	}
}

// Network pairs one initiator peer with one responder peer. Applying the
// answer on the initiator opens the channel on both sides.
type Network struct {
	mu        sync.Mutex
	initiator *Peer
	responder *Peer
	local     *GatedChannel
	remote    *GatedChannel
	created   int

	// NeverGather leaves candidate gathering incomplete forever.
	NeverGather bool
	// RemoteErr fails every SetRemoteDescription.
	RemoteErr error
	// NoConnect keeps the pair connecting after the answer is applied.
	NoConnect bool
}

// Factory returns a PeerFactory creating the initiator or responder side.
func (n *Network) Factory(initiator bool) conn.PeerFactory {
	return func() (conn.Peer, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.created++
		p := &Peer{net: n, initiator: initiator}
		if initiator {
			n.initiator = p
		} else {
			n.responder = p
		}
		return p, nil
	}
}

func (n *Network) connect() {
	n.mu.Lock()
	ini, resp, local, remote := n.initiator, n.responder, n.local, n.remote
	n.mu.Unlock()
	if ini == nil || resp == nil || local == nil {
		return
	}
	ini.SetState(conn.PeerConnected)
	resp.SetState(conn.PeerConnected)
	remote.mu.Lock()
	remote.opened = true
	remote.mu.Unlock()
	resp.deliverChannel(remote)
	local.open()
}

// Peer is a conn.Peer backed by a channel.PipeEnd.
type Peer struct {
	net       *Network
	initiator bool

	mu      sync.Mutex
	onState func(conn.PeerState)
	onDC    func(channel.Channel)
	closed  bool
}

func (p *Peer) CreateDataChannel(cfg conn.ChannelConfig) (channel.Channel, error) {
	a, b := channel.NewPipe(cfg.Label)
	local := &GatedChannel{PipeEnd: a}
	p.net.mu.Lock()
	p.net.local = local
	p.net.remote = &GatedChannel{PipeEnd: b}
	p.net.mu.Unlock()
	return local, nil
}

func (p *Peer) CreateOffer() (string, error)  { return SampleDescription, nil }
func (p *Peer) CreateAnswer() (string, error) { return SampleDescription, nil }

func (p *Peer) SetLocalDescription(conn.DescriptionType, string) (<-chan struct{}, error) {
	done := make(chan struct{})
	if !p.net.NeverGather {
		close(done)
	}
	return done, nil
}

func (p *Peer) SetRemoteDescription(t conn.DescriptionType, _ string) error {
	if p.net.RemoteErr != nil {
		return p.net.RemoteErr
	}
	if t == conn.DescriptionAnswer && !p.net.NoConnect {
		go p.net.connect()
	}
	return nil
}

func (p *Peer) LocalDescription() string { return SampleDescription }

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

// SetState reports s to the manager owning p.
func (p *Peer) SetState(s conn.PeerState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (p *Peer) deliverChannel(ch channel.Channel) {
	p.mu.Lock()
	fn := p.onDC
	p.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
}

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// IsClosed reports whether the manager released p.
func (p *Peer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

var _ conn.Peer = (*Peer)(nil)

// Initiator returns the most recently created initiator peer.
func (n *Network) Initiator() *Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.initiator
}

// Responder returns the most recently created responder peer.
func (n *Network) Responder() *Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.responder
}

// Remote returns the responder's end of the current channel.
func (n *Network) Remote() *GatedChannel {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.remote
}

// Created returns how many peers the factories have made.
func (n *Network) Created() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.created
}

// SampleDescription is a minimal data-channel session description with one
// host candidate.
const SampleDescription = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0\r\n" +
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host\r\n" +
	"a=ice-ufrag:abcd\r\n" +
	"a=ice-pwd:0123456789abcdefghijklmn\r\n" +
	"a=fingerprint:sha-256 8F:2D:3A:11:9C:4B:5E:77:01:AB:CD:EF:10:32:54:76:98:BA:DC:FE:01:23:45:67:89:AB:CD:EF:01:23:45:67\r\n" +
	"a=setup:actpass\r\n" +
	"a=mid:0\r\n" +
	"a=sctp-port:5000\r\n"
