// Package conn drives the offer/answer handshake that turns two opaque blobs
// into one connected data channel.
package conn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sheerbytes/lanbeam/internal/channel"
	"github.com/sheerbytes/lanbeam/pkg/protocol"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Role records which side of the handshake this manager plays.
type Role int

const (
	RoleNone Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "none"
	}
}

var transitions = map[State][]State{
	StateDisconnected: {StateConnecting, StateClosed},
	StateConnecting:   {StateConnected, StateFailed, StateClosed},
	StateConnected:    {StateDisconnected, StateClosed},
}

// Stats is a snapshot of the manager and its channel.
type Stats struct {
	State            State
	Role             Role
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
	BufferedAmount   uint64
}

// Manager owns one peer connection and its data channel.
type Manager struct {
	newPeer PeerFactory
	opts    Options
	log     *slog.Logger

	mu            sync.Mutex
	state         State
	role          Role
	peer          Peer
	ch            channel.Channel
	localBlob     string
	remoteBlob    string
	remoteApplied bool
	closeEmitted  bool
	timer         *time.Timer
	// gen invalidates callbacks from peers that were released.
	gen          uint64
	stats        Stats
	lowThreshold uint64
	lowSet       bool
	listeners    map[int]func(Event)
	nextID       int
}

// NewManager returns a disconnected manager that creates peers with newPeer.
func NewManager(newPeer PeerFactory, opts Options) *Manager {
	opts = normalizeOptions(opts)
	return &Manager{
		newPeer:   newPeer,
		opts:      opts,
		log:       opts.Logger.With("component", "conn"),
		listeners: make(map[int]func(Event)),
	}
}

// AddListener registers fn for every manager event and returns a function
// that removes it. Listeners are called without the manager lock held.
func (m *Manager) AddListener(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// dispatch delivers events collected under the lock.
func (m *Manager) dispatch(events []Event) {
	if len(events) == 0 {
		return
	}
	m.mu.Lock()
	fns := make([]func(Event), 0, len(m.listeners))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()
	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Role returns the handshake role.
func (m *Manager) Role() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

// LocalBlob returns the compressed local description, once produced.
func (m *Manager) LocalBlob() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localBlob
}

// RemoteBlob returns the blob applied as remote description.
func (m *Manager) RemoteBlob() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteBlob
}

// Stats returns counters for the current connection.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.State = m.state
	s.Role = m.role
	if m.ch != nil {
		s.BufferedAmount = m.ch.BufferedAmount()
	}
	return s
}

func (m *Manager) transitionLocked(next State, events *[]Event) bool {
	if m.state == next {
		return false
	}
	allowed := false
	for _, s := range transitions[m.state] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		m.log.Debug("ignoring transition", "from", m.state, "to", next)
		return false
	}
	old := m.state
	m.state = next
	m.log.Info("state changed", "from", old, "to", next, "role", m.role)
	*events = append(*events, StateChanged{Old: old, New: next, At: m.opts.Now()})
	return true
}

// CreateOffer starts a handshake as initiator and returns the offer blob.
func (m *Manager) CreateOffer(ctx context.Context) (string, error) {
	var events []Event
	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return "", fmt.Errorf("%w: create offer in state %s", protocol.ErrInvalidState, state)
	}
	stale := m.releaseLocked()
	peer, gen, err := m.beginLocked(RoleInitiator, &events)
	if err != nil {
		m.mu.Unlock()
		stale()
		m.dispatch(events)
		return "", m.fail(gen, err)
	}
	ch, err := peer.CreateDataChannel(m.opts.Channel)
	if err != nil {
		m.mu.Unlock()
		stale()
		m.dispatch(events)
		return "", m.fail(gen, fmt.Errorf("create data channel: %w", err))
	}
	m.attachLocked(ch, gen)
	m.mu.Unlock()
	stale()
	m.dispatch(events)

	offer, err := peer.CreateOffer()
	if err != nil {
		return "", m.fail(gen, fmt.Errorf("create offer: %w", err))
	}
	blob, err := m.publishLocal(ctx, peer, gen, DescriptionOffer, offer)
	if err != nil {
		return "", err
	}
	return blob, nil
}

// HandleOffer answers a remote offer blob as responder and returns the answer blob.
func (m *Manager) HandleOffer(ctx context.Context, blob string) (string, error) {
	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return "", fmt.Errorf("%w: handle offer in state %s", protocol.ErrInvalidState, state)
	}
	m.mu.Unlock()

	desc, sd, err := ParseBlob(blob)
	if err != nil {
		return "", err
	}
	m.log.Debug("remote offer parsed", "hostCandidates", HostCandidates(sd))

	var events []Event
	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return "", fmt.Errorf("%w: handle offer in state %s", protocol.ErrInvalidState, state)
	}
	stale := m.releaseLocked()
	peer, gen, err := m.beginLocked(RoleResponder, &events)
	if err != nil {
		m.mu.Unlock()
		stale()
		m.dispatch(events)
		return "", m.fail(gen, err)
	}
	m.remoteBlob = blob
	m.remoteApplied = true
	peer.OnDataChannel(func(ch channel.Channel) {
		m.mu.Lock()
		if m.gen != gen || m.ch != nil {
			m.mu.Unlock()
			m.log.Warn("ignoring extra data channel", "label", ch.Label())
			_ = ch.Close()
			return
		}
		m.attachLocked(ch, gen)
		m.mu.Unlock()
	})
	m.mu.Unlock()
	stale()
	m.dispatch(events)

	if err := peer.SetRemoteDescription(DescriptionOffer, desc); err != nil {
		return "", m.fail(gen, fmt.Errorf("apply remote offer: %w", err))
	}
	answer, err := peer.CreateAnswer()
	if err != nil {
		return "", m.fail(gen, fmt.Errorf("create answer: %w", err))
	}
	return m.publishLocal(ctx, peer, gen, DescriptionAnswer, answer)
}

// HandleAnswer applies the responder's answer blob. It is only valid for an
// initiator that is connecting and has not applied an answer yet.
func (m *Manager) HandleAnswer(ctx context.Context, blob string) error {
	m.mu.Lock()
	if m.role != RoleInitiator || m.state != StateConnecting || m.remoteApplied || m.localBlob == "" {
		state, role := m.state, m.role
		m.mu.Unlock()
		return fmt.Errorf("%w: handle answer in state %s as %s", protocol.ErrInvalidState, state, role)
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	desc, sd, err := ParseBlob(blob)
	if err != nil {
		return err
	}
	m.log.Debug("remote answer parsed", "hostCandidates", HostCandidates(sd))

	m.mu.Lock()
	if m.role != RoleInitiator || m.state != StateConnecting || m.remoteApplied {
		state, role := m.state, m.role
		m.mu.Unlock()
		return fmt.Errorf("%w: handle answer in state %s as %s", protocol.ErrInvalidState, state, role)
	}
	m.remoteApplied = true
	m.remoteBlob = blob
	peer, gen := m.peer, m.gen
	m.mu.Unlock()

	if err := peer.SetRemoteDescription(DescriptionAnswer, desc); err != nil {
		return m.fail(gen, fmt.Errorf("apply remote answer: %w", err))
	}
	m.log.Info("answer applied, waiting for channel")
	return nil
}

// beginLocked enters Connecting with the connection timer armed, then creates
// the peer. A factory error is returned with the new generation so the caller
// can fail the connection.
func (m *Manager) beginLocked(role Role, events *[]Event) (Peer, uint64, error) {
	m.gen++
	gen := m.gen
	m.role = role
	m.localBlob = ""
	m.remoteBlob = ""
	m.remoteApplied = false
	m.stats = Stats{}
	m.transitionLocked(StateConnecting, events)
	m.timer = time.AfterFunc(m.opts.ConnectionTimeout, func() { m.onTimeout(gen) })

	peer, err := m.newPeer()
	if err != nil {
		return nil, gen, fmt.Errorf("create peer: %w", err)
	}
	m.peer = peer
	peer.OnStateChange(func(s PeerState) { m.onPeerState(gen, s) })
	return peer, gen, nil
}

// publishLocal applies the local description, waits for gathering and
// returns the compressed blob.
func (m *Manager) publishLocal(ctx context.Context, peer Peer, gen uint64, kind DescriptionType, desc string) (string, error) {
	gathered, err := peer.SetLocalDescription(kind, desc)
	if err != nil {
		return "", m.fail(gen, fmt.Errorf("apply local %s: %w", kind, err))
	}

	timer := time.NewTimer(m.opts.GatheringTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		m.log.Warn("candidate gathering timed out, using partial candidates", "timeout", m.opts.GatheringTimeout, "err", protocol.ErrTimeout)
	case <-ctx.Done():
		return "", m.fail(gen, fmt.Errorf("gather candidates: %w", ctx.Err()))
	}

	blob := CompressBlob(peer.LocalDescription())

	var events []Event
	m.mu.Lock()
	if m.gen != gen || m.state.terminal() {
		state := m.state
		m.mu.Unlock()
		return "", fmt.Errorf("%w: connection %s during handshake", protocol.ErrInvalidState, state)
	}
	m.localBlob = blob
	if kind == DescriptionOffer {
		events = append(events, OfferReady{Blob: blob})
	} else {
		events = append(events, AnswerReady{Blob: blob})
	}
	m.mu.Unlock()
	m.log.Info("local description ready", "type", kind, "bytes", len(blob))
	m.dispatch(events)
	return blob, nil
}

func (m *Manager) attachLocked(ch channel.Channel, gen uint64) {
	m.ch = ch
	if m.lowSet {
		ch.SetBufferedAmountLowThreshold(m.lowThreshold, func() { m.onBufferLow(gen) })
	}
	ch.SetHandler(channel.HandlerFuncs{
		Open:    func() { m.onChannelOpen(gen) },
		Message: func(msg channel.Message) { m.onChannelMessage(gen, msg) },
		Close:   func() { m.onChannelClose(gen) },
		Error:   func(err error) { m.onChannelError(gen, err) },
	})
}

// fail moves a connecting manager to Failed and releases its peer. It returns
// err for the caller to propagate.
func (m *Manager) fail(gen uint64, err error) error {
	var events []Event
	m.mu.Lock()
	if m.gen != gen || m.state.terminal() {
		m.mu.Unlock()
		return err
	}
	m.stopTimerLocked()
	if !m.transitionLocked(StateFailed, &events) {
		m.mu.Unlock()
		return err
	}
	m.gen++
	peer, ch := m.peer, m.ch
	m.peer, m.ch = nil, nil
	events = append(events, Failed{Err: err})
	m.mu.Unlock()

	m.log.Error("connection failed", "err", err)
	closeChannel(ch)
	closeQuietly(peer)
	m.dispatch(events)
	return err
}

func (m *Manager) onTimeout(gen uint64) {
	m.mu.Lock()
	connecting := m.gen == gen && m.state == StateConnecting
	m.mu.Unlock()
	if connecting {
		m.fail(gen, fmt.Errorf("%w: no connection after %s", protocol.ErrTimeout, m.opts.ConnectionTimeout))
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) onPeerState(gen uint64, s PeerState) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	state := m.state
	if s == PeerConnected && state == StateConnecting {
		m.stopTimerLocked()
	}
	m.mu.Unlock()

	m.log.Debug("peer state", "peer", s, "state", state)
	switch s {
	case PeerDisconnected:
		m.log.Warn("peer connectivity interrupted")
	case PeerFailed, PeerClosed:
		m.lost(gen, fmt.Errorf("%w: peer connection %s", protocol.ErrChannel, s))
	}
}

func (m *Manager) onChannelOpen(gen uint64) {
	var events []Event
	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked()
	m.transitionLocked(StateConnected, &events)
	events = append(events, Connected{Role: m.role})
	m.mu.Unlock()
	m.dispatch(events)
}

func (m *Manager) onChannelClose(gen uint64) {
	m.lost(gen, fmt.Errorf("%w: data channel closed", protocol.ErrChannel))
}

// lost handles unexpected loss of the channel or peer.
func (m *Manager) lost(gen uint64, err error) {
	var events []Event
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	switch m.state {
	case StateConnecting:
		m.mu.Unlock()
		m.fail(gen, err)
		return
	case StateConnected:
		m.transitionLocked(StateDisconnected, &events)
		events = append(events, Disconnected{})
	default:
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.log.Warn("connection lost", "err", err)
	m.dispatch(events)
}

func (m *Manager) onChannelMessage(gen uint64, msg channel.Message) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.stats.MessagesReceived++
	m.stats.BytesReceived += uint64(len(msg.Data))
	m.mu.Unlock()
	m.dispatch([]Event{MessageReceived{Message: msg}})
}

func (m *Manager) onChannelError(gen uint64, err error) {
	m.mu.Lock()
	current := m.gen == gen
	m.mu.Unlock()
	if !current {
		return
	}
	m.log.Warn("channel error", "err", err)
	m.dispatch([]Event{ChannelError{Err: err}})
}

func (m *Manager) onBufferLow(gen uint64) {
	m.mu.Lock()
	current := m.gen == gen
	m.mu.Unlock()
	if current {
		m.dispatch([]Event{BufferLow{}})
	}
}

// SetBufferedAmountLowThreshold arranges a BufferLow event whenever the
// channel drains to threshold bytes.
func (m *Manager) SetBufferedAmountLowThreshold(threshold uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lowThreshold = threshold
	m.lowSet = true
	if m.ch != nil {
		gen := m.gen
		m.ch.SetBufferedAmountLowThreshold(threshold, func() { m.onBufferLow(gen) })
	}
}

// Connected reports whether the channel is open for sending.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected && m.ch != nil && m.ch.ReadyState() == channel.StateOpen
}

// SendText sends a text message on the connected channel.
func (m *Manager) SendText(s string) error {
	ch, err := m.sendable()
	if err != nil {
		return err
	}
	if err := ch.SendText(s); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrChannel, err)
	}
	m.countSent(len(s))
	return nil
}

// SendBinary sends a binary message on the connected channel.
func (m *Manager) SendBinary(p []byte) error {
	ch, err := m.sendable()
	if err != nil {
		return err
	}
	if err := ch.SendBinary(p); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrChannel, err)
	}
	m.countSent(len(p))
	return nil
}

// BufferedAmount returns the channel's queued byte count, 0 without a channel.
func (m *Manager) BufferedAmount() uint64 {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()
	if ch == nil {
		return 0
	}
	return ch.BufferedAmount()
}

func (m *Manager) sendable() (channel.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.ch == nil {
		return nil, fmt.Errorf("%w: send in state %s", protocol.ErrInvalidState, m.state)
	}
	return m.ch, nil
}

func (m *Manager) countSent(n int) {
	m.mu.Lock()
	m.stats.MessagesSent++
	m.stats.BytesSent += uint64(n)
	m.mu.Unlock()
}

// Reset releases a stale peer after connection loss so that a fresh offer or
// answer can be made. Only valid while disconnected.
func (m *Manager) Reset() error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: reset in state %s", protocol.ErrInvalidState, state)
	}
	stale := m.releaseLocked()
	m.mu.Unlock()
	stale()
	return nil
}

// releaseLocked drops the current peer and channel and returns a closer for
// use after unlocking.
func (m *Manager) releaseLocked() func() {
	peer, ch := m.peer, m.ch
	m.peer, m.ch = nil, nil
	m.role = RoleNone
	m.localBlob = ""
	m.remoteBlob = ""
	m.remoteApplied = false
	m.stopTimerLocked()
	if peer == nil && ch == nil {
		return func() {}
	}
	m.gen++
	return func() {
		closeChannel(ch)
		closeQuietly(peer)
	}
}

// Close tears the connection down. It is idempotent and emits exactly one
// Closed event. A failed manager stays Failed.
func (m *Manager) Close() error {
	var events []Event
	m.mu.Lock()
	if m.closeEmitted {
		m.mu.Unlock()
		return nil
	}
	m.closeEmitted = true
	m.stopTimerLocked()
	m.gen++
	peer, ch := m.peer, m.ch
	m.peer, m.ch = nil, nil
	if m.state != StateFailed {
		m.transitionLocked(StateClosed, &events)
	}
	events = append(events, Closed{})
	m.mu.Unlock()

	closeChannel(ch)
	var err error
	if peer != nil {
		err = peer.Close()
	}
	m.log.Info("connection closed")
	m.dispatch(events)
	if err != nil {
		return fmt.Errorf("close peer: %w", err)
	}
	return nil
}

func closeChannel(ch channel.Channel) {
	if ch != nil {
		_ = ch.Close()
	}
}

func closeQuietly(p Peer) {
	if p != nil {
		_ = p.Close()
	}
}
