// Package beam pairs a connection manager with a transfer engine and runs
// the pairing exchange over a signaling adapter.
package beam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sheerbytes/lanbeam/internal/conn"
	"github.com/sheerbytes/lanbeam/internal/signal"
	"github.com/sheerbytes/lanbeam/internal/transfer"
	"github.com/sheerbytes/lanbeam/pkg/protocol"
)

// Options configures a Session.
type Options struct {
	Peer         conn.PeerFactory
	Conn         conn.Options
	Transfer     transfer.Options
	DeviceID     string
	ReplayWindow time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Session is one peer-to-peer link and the transfers run over it.
type Session struct {
	mgr    *conn.Manager
	engine *transfer.Engine
	opts   Options
	log    *slog.Logger

	connected chan struct{}
	ended     chan struct{}
	connOnce  sync.Once
	endOnce   sync.Once

	mu           sync.Mutex
	endErr       error
	remoteDevice string
}

// New wires a manager and an engine together. Channel messages feed the
// engine and connection loss interrupts any active transfer.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReplayWindow <= 0 {
		opts.ReplayWindow = protocol.DefaultReplayWindow
	}
	opts.Conn.Logger = opts.Logger
	opts.Transfer.Logger = opts.Logger

	s := &Session{
		opts:      opts,
		log:       opts.Logger.With("component", "beam"),
		connected: make(chan struct{}),
		ended:     make(chan struct{}),
	}
	s.mgr = conn.NewManager(opts.Peer, opts.Conn)
	s.engine = transfer.NewEngine(s.mgr, opts.Transfer)
	s.mgr.AddListener(s.route)
	return s
}

func (s *Session) route(ev conn.Event) {
	switch ev := ev.(type) {
	case conn.MessageReceived:
		s.engine.HandleMessage(ev.Message)
	case conn.Connected:
		s.log.Info("peer connected", "role", ev.Role)
		s.connOnce.Do(func() { close(s.connected) })
	case conn.Disconnected:
		s.engine.HandleDisconnect()
		s.end(fmt.Errorf("%w: connection lost", protocol.ErrChannel))
	case conn.Failed:
		s.end(ev.Err)
	case conn.Closed:
		s.end(nil)
	}
}

func (s *Session) end(err error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.endErr = err
		s.mu.Unlock()
		close(s.ended)
	})
}

// Manager returns the connection manager.
func (s *Session) Manager() *conn.Manager { return s.mgr }

// Engine returns the transfer engine.
func (s *Session) Engine() *transfer.Engine { return s.engine }

// RemoteDevice returns the device id from the peer's pairing code.
func (s *Session) RemoteDevice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteDevice
}

// Done is closed once the link has failed, dropped or been closed.
func (s *Session) Done() <-chan struct{} { return s.ended }

// Err returns why the link ended, nil after an explicit Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endErr
}

// Offer runs the initiator side of pairing: publish the offer, wait for the
// answer and apply it.
func (s *Session) Offer(ctx context.Context, adapter signal.Adapter) error {
	blob, err := s.mgr.CreateOffer(ctx)
	if err != nil {
		return err
	}
	code, err := protocol.EncodePairing(protocol.NewPairing(protocol.PairingOffer, blob, s.opts.DeviceID, s.opts.Now()))
	if err != nil {
		return err
	}
	if err := adapter.Send(ctx, code); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	reply, err := adapter.Receive(ctx)
	if err != nil {
		return fmt.Errorf("receive answer: %w", err)
	}
	answer, err := s.decode(reply, protocol.PairingAnswer)
	if err != nil {
		return err
	}
	if answer.ReplyTo != "" && answer.ReplyTo != s.opts.DeviceID {
		s.log.Warn("answer addressed to another device", "replyTo", answer.ReplyTo, "deviceId", s.opts.DeviceID)
	}
	return s.mgr.HandleAnswer(ctx, answer.SDP)
}

// Answer runs the responder side of pairing: wait for an offer, answer it and
// publish the answer.
func (s *Session) Answer(ctx context.Context, adapter signal.Adapter) error {
	code, err := adapter.Receive(ctx)
	if err != nil {
		return fmt.Errorf("receive offer: %w", err)
	}
	offer, err := s.decode(code, protocol.PairingOffer)
	if err != nil {
		return err
	}
	blob, err := s.mgr.HandleOffer(ctx, offer.SDP)
	if err != nil {
		return err
	}
	p := protocol.NewPairing(protocol.PairingAnswer, blob, s.opts.DeviceID, s.opts.Now())
	p.ReplyTo = offer.DeviceID
	reply, err := protocol.EncodePairing(p)
	if err != nil {
		return err
	}
	if err := adapter.Send(ctx, reply); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

func (s *Session) decode(code, want string) (protocol.Pairing, error) {
	p, warnings, err := protocol.DecodePairing(code, s.opts.Now(), s.opts.ReplayWindow)
	if err != nil {
		return p, err
	}
	for _, w := range warnings {
		s.log.Warn("pairing code", "warning", w, "deviceId", p.DeviceID)
	}
	if p.Type != want {
		return p, fmt.Errorf("%w: expected %s pairing code, got %s", protocol.ErrProtocol, want, p.Type)
	}
	s.mu.Lock()
	s.remoteDevice = p.DeviceID
	s.mu.Unlock()
	return p, nil
}

// WaitConnected blocks until the data channel opens or the link ends.
func (s *Session) WaitConnected(ctx context.Context) error {
	select {
	case <-s.connected:
		return nil
	case <-s.ended:
		if err := s.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: closed before connecting", protocol.ErrInvalidState)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendFiles sends files over the connected link.
func (s *Session) SendFiles(ctx context.Context, files []transfer.File) error {
	return s.engine.SendFiles(ctx, files)
}

// Close cancels any active transfer and closes the link.
func (s *Session) Close() error {
	if s.engine.IsActive() {
		s.engine.Cancel()
	}
	return s.mgr.Close()
}
