package conn

import (
	"time"

	"github.com/sheerbytes/lanbeam/internal/channel"
)

// Event is one of the manager notifications below.
type Event interface {
	connEvent()
}

type (
	StateChanged struct {
		Old State
		New State
		At  time.Time
	}
	OfferReady struct {
		Blob string
	}
	AnswerReady struct {
		Blob string
	}
	Connected struct {
		Role Role
	}
	Disconnected struct{}
	Failed       struct {
		Err error
	}
	Closed          struct{}
	MessageReceived struct {
		Message channel.Message
	}
	ChannelError struct {
		Err error
	}
	BufferLow struct{}
)

func (StateChanged) connEvent()    {}
func (OfferReady) connEvent()      {}
func (AnswerReady) connEvent()     {}
func (Connected) connEvent()       {}
func (Disconnected) connEvent()    {}
func (Failed) connEvent()          {}
func (Closed) connEvent()          {}
func (MessageReceived) connEvent() {}
func (ChannelError) connEvent()    {}
func (BufferLow) connEvent()       {}
