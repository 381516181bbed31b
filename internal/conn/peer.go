package conn

import "github.com/sheerbytes/lanbeam/internal/channel"

// DescriptionType tells offers and answers apart.
type DescriptionType int

const (
	DescriptionOffer DescriptionType = iota
	DescriptionAnswer
)

func (t DescriptionType) String() string {
	if t == DescriptionAnswer {
		return "answer"
	}
	return "offer"
}

// PeerState is the transport-level state reported by a Peer.
type PeerState int

const (
	PeerNew PeerState = iota
	PeerConnecting
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerNew:
		return "new"
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChannelConfig describes the single data channel the initiator opens.
type ChannelConfig struct {
	Label          string
	Protocol       string
	Ordered        bool
	MaxRetransmits uint16
}

// Peer is one side of a peer connection negotiated through session descriptions.
type Peer interface {
	CreateDataChannel(cfg ChannelConfig) (channel.Channel, error)
	CreateOffer() (string, error)
	CreateAnswer() (string, error)
	// SetLocalDescription applies desc and starts candidate gathering. The
	// returned channel closes when gathering completes.
	SetLocalDescription(t DescriptionType, desc string) (<-chan struct{}, error)
	SetRemoteDescription(t DescriptionType, desc string) error
	// LocalDescription returns the local description with every candidate
	// gathered so far.
	LocalDescription() string
	OnDataChannel(fn func(channel.Channel))
	OnStateChange(fn func(PeerState))
	Close() error
}

// PeerFactory creates a fresh Peer for each handshake.
type PeerFactory func() (Peer, error)
