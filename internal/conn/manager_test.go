package conn_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheerbytes/lanbeam/internal/conn"
	"github.com/sheerbytes/lanbeam/internal/conn/conntest"
	"github.com/sheerbytes/lanbeam/pkg/protocol"
)

type recorder struct {
	mu     sync.Mutex
	events []conn.Event
}

func record(m *conn.Manager) *recorder {
	r := &recorder{}
	m.AddListener(func(ev conn.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) snapshot() []conn.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]conn.Event(nil), r.events...)
}

func (r *recorder) count(match func(conn.Event) bool) int {
	n := 0
	for _, ev := range r.snapshot() {
		if match(ev) {
			n++
		}
	}
	return n
}

func isClosedEvent(ev conn.Event) bool { _, ok := ev.(conn.Closed); return ok }

func testManagerOptions() conn.Options {
	opts := conn.DefaultOptions()
	opts.ConnectionTimeout = 2 * time.Second
	opts.GatheringTimeout = time.Second
	return opts
}

func handshake(t *testing.T, net *conntest.Network) (*conn.Manager, *conn.Manager) {
	t.Helper()
	ctx := context.Background()
	ini := conn.NewManager(net.Factory(true), testManagerOptions())
	resp := conn.NewManager(net.Factory(false), testManagerOptions())
	t.Cleanup(func() {
		ini.Close()
		resp.Close()
	})

	offer, err := ini.CreateOffer(ctx)
	require.NoError(t, err)
	answer, err := resp.HandleOffer(ctx, offer)
	require.NoError(t, err)
	require.NoError(t, ini.HandleAnswer(ctx, answer))
	return ini, resp
}

func TestManagerHandshakeConnects(t *testing.T) {
	net := &conntest.Network{}
	ini, resp := handshake(t, net)

	require.Eventually(t, func() bool {
		return ini.State() == conn.StateConnected && resp.State() == conn.StateConnected
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, conn.RoleInitiator, ini.Role())
	assert.Equal(t, conn.RoleResponder, resp.Role())
	assert.True(t, ini.Connected())
	assert.True(t, resp.Connected())
	assert.NotContains(t, ini.LocalBlob(), "\r")
	assert.Equal(t, ini.LocalBlob(), resp.RemoteBlob())
}

func TestManagerDeliversMessages(t *testing.T) {
	net := &conntest.Network{}
	ini, resp := handshake(t, net)
	got := record(resp)
	require.Eventually(t, ini.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, ini.SendText(`{"type":"transfer_complete"}`))
	require.NoError(t, ini.SendBinary([]byte{1, 2, 3}))

	require.Eventually(t, func() bool {
		return got.count(func(ev conn.Event) bool { _, ok := ev.(conn.MessageReceived); return ok }) == 2
	}, time.Second, 5*time.Millisecond)

	var msgs []conn.MessageReceived
	for _, ev := range got.snapshot() {
		if m, ok := ev.(conn.MessageReceived); ok {
			msgs = append(msgs, m)
		}
	}
	assert.False(t, msgs[0].Message.Binary)
	assert.True(t, msgs[1].Message.Binary)
	assert.Equal(t, []byte{1, 2, 3}, msgs[1].Message.Data)

	stats := ini.Stats()
	assert.Equal(t, uint64(2), stats.MessagesSent)
	assert.Equal(t, conn.StateConnected, stats.State)
}

func TestManagerEmitsReadyEvents(t *testing.T) {
	net := &conntest.Network{}
	ctx := context.Background()
	ini := conn.NewManager(net.Factory(true), testManagerOptions())
	resp := conn.NewManager(net.Factory(false), testManagerOptions())
	defer ini.Close()
	defer resp.Close()
	iniEvents, respEvents := record(ini), record(resp)

	offer, err := ini.CreateOffer(ctx)
	require.NoError(t, err)
	answer, err := resp.HandleOffer(ctx, offer)
	require.NoError(t, err)

	assert.Equal(t, 1, iniEvents.count(func(ev conn.Event) bool {
		o, ok := ev.(conn.OfferReady)
		return ok && o.Blob == offer
	}))
	assert.Equal(t, 1, respEvents.count(func(ev conn.Event) bool {
		a, ok := ev.(conn.AnswerReady)
		return ok && a.Blob == answer
	}))
	first := iniEvents.snapshot()[0].(conn.StateChanged)
	assert.Equal(t, conn.StateDisconnected, first.Old)
	assert.Equal(t, conn.StateConnecting, first.New)
}

func TestManagerRejectsOperationsInWrongState(t *testing.T) {
	net := &conntest.Network{}
	ctx := context.Background()
	m := conn.NewManager(net.Factory(true), testManagerOptions())
	defer m.Close()

	err := m.HandleAnswer(ctx, conn.CompressBlob(conntest.SampleDescription))
	assert.ErrorIs(t, err, protocol.ErrInvalidState)
	assert.Equal(t, conn.StateDisconnected, m.State())

	err = m.SendText("hello")
	assert.ErrorIs(t, err, protocol.ErrInvalidState)
	assert.False(t, m.Connected())
	assert.Zero(t, m.BufferedAmount())

	_, err = m.CreateOffer(ctx)
	require.NoError(t, err)
	_, err = m.CreateOffer(ctx)
	assert.ErrorIs(t, err, protocol.ErrInvalidState)
	_, err = m.HandleOffer(ctx, conn.CompressBlob(conntest.SampleDescription))
	assert.ErrorIs(t, err, protocol.ErrInvalidState)
}

func TestManagerRejectsSecondAnswer(t *testing.T) {
	net := &conntest.Network{NoConnect: true}
	ini, _ := handshake(t, net)

	err := ini.HandleAnswer(context.Background(), conn.CompressBlob(conntest.SampleDescription))
	assert.ErrorIs(t, err, protocol.ErrInvalidState)
	assert.Equal(t, conn.StateConnecting, ini.State())
}

func TestManagerInvalidBlobLeavesStateUntouched(t *testing.T) {
	net := &conntest.Network{}
	ctx := context.Background()
	m := conn.NewManager(net.Factory(false), testManagerOptions())
	defer m.Close()
	events := record(m)

	_, err := m.HandleOffer(ctx, "definitely not a session description")
	assert.ErrorIs(t, err, protocol.ErrProtocol)
	_, err = m.HandleOffer(ctx, "")
	assert.ErrorIs(t, err, protocol.ErrProtocol)

	assert.Equal(t, conn.StateDisconnected, m.State())
	assert.Zero(t, net.Created())
	assert.Empty(t, events.snapshot())
}

func TestManagerRemoteDescriptionFailureFails(t *testing.T) {
	net := &conntest.Network{RemoteErr: errors.New("bad fingerprint")}
	m := conn.NewManager(net.Factory(false), testManagerOptions())
	defer m.Close()
	events := record(m)

	_, err := m.HandleOffer(context.Background(), conn.CompressBlob(conntest.SampleDescription))
	require.Error(t, err)
	assert.Equal(t, conn.StateFailed, m.State())
	assert.Equal(t, 1, events.count(func(ev conn.Event) bool { _, ok := ev.(conn.Failed); return ok }))
	assert.True(t, net.Responder().IsClosed())

	err = m.HandleAnswer(context.Background(), conn.CompressBlob(conntest.SampleDescription))
	assert.ErrorIs(t, err, protocol.ErrInvalidState)
	assert.Equal(t, conn.StateFailed, m.State())
}

func TestManagerPeerFactoryFailureFails(t *testing.T) {
	factory := func() (conn.Peer, error) { return nil, errors.New("no network interfaces") }
	for name, start := range map[string]func(*conn.Manager) error{
		"offer": func(m *conn.Manager) error {
			_, err := m.CreateOffer(context.Background())
			return err
		},
		"answer": func(m *conn.Manager) error {
			_, err := m.HandleOffer(context.Background(), conn.CompressBlob(conntest.SampleDescription))
			return err
		},
	} {
		t.Run(name, func(t *testing.T) {
			m := conn.NewManager(factory, testManagerOptions())
			events := record(m)

			err := start(m)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "no network interfaces")
			assert.Equal(t, conn.StateFailed, m.State())
			assert.Equal(t, 1, events.count(func(ev conn.Event) bool {
				sc, ok := ev.(conn.StateChanged)
				return ok && sc.New == conn.StateConnecting
			}))
			assert.Equal(t, 1, events.count(func(ev conn.Event) bool { _, ok := ev.(conn.Failed); return ok }))

			require.NoError(t, m.Close())
			assert.Equal(t, conn.StateFailed, m.State())
		})
	}
}

func TestManagerConnectionTimeout(t *testing.T) {
	net := &conntest.Network{}
	opts := testManagerOptions()
	opts.ConnectionTimeout = 50 * time.Millisecond
	m := conn.NewManager(net.Factory(true), opts)
	events := record(m)

	_, err := m.CreateOffer(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.State() == conn.StateFailed }, time.Second, 5*time.Millisecond)
	var failure conn.Failed
	for _, ev := range events.snapshot() {
		if f, ok := ev.(conn.Failed); ok {
			failure = f
		}
	}
	assert.ErrorIs(t, failure.Err, protocol.ErrTimeout)

	require.NoError(t, m.Close())
	assert.Equal(t, conn.StateFailed, m.State())
	assert.Equal(t, 1, events.count(isClosedEvent))
}

func TestManagerGatheringTimeoutIsNotFatal(t *testing.T) {
	net := &conntest.Network{NeverGather: true}
	opts := testManagerOptions()
	opts.GatheringTimeout = 20 * time.Millisecond
	m := conn.NewManager(net.Factory(true), opts)
	defer m.Close()

	blob, err := m.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, blob)
	assert.Equal(t, conn.StateConnecting, m.State())
}

func TestManagerGatheringHonoursContext(t *testing.T) {
	net := &conntest.Network{NeverGather: true}
	m := conn.NewManager(net.Factory(true), testManagerOptions())
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.CreateOffer(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, conn.StateFailed, m.State())
}

func TestManagerCloseIsIdempotent(t *testing.T) {
	net := &conntest.Network{}
	ini, _ := handshake(t, net)
	events := record(ini)
	require.Eventually(t, ini.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, ini.Close())
	require.NoError(t, ini.Close())

	assert.Equal(t, conn.StateClosed, ini.State())
	assert.Equal(t, 1, events.count(isClosedEvent))
	assert.True(t, net.Initiator().IsClosed())
	assert.ErrorIs(t, ini.SendText("late"), protocol.ErrInvalidState)
}

func TestManagerChannelLossDisconnects(t *testing.T) {
	net := &conntest.Network{}
	ini, resp := handshake(t, net)
	events := record(ini)
	require.Eventually(t, func() bool { return ini.Connected() && resp.Connected() }, time.Second, 5*time.Millisecond)

	require.NoError(t, net.Remote().Close())

	require.Eventually(t, func() bool {
		return ini.State() == conn.StateDisconnected && resp.State() == conn.StateDisconnected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, events.count(func(ev conn.Event) bool { _, ok := ev.(conn.Disconnected); return ok }))
	assert.ErrorIs(t, ini.SendText("gone"), protocol.ErrInvalidState)

	stale := net.Initiator()
	require.NoError(t, ini.Reset())
	assert.True(t, stale.IsClosed())
	assert.Equal(t, conn.RoleNone, ini.Role())

	_, err := ini.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, conn.StateConnecting, ini.State())
}

func TestManagerIgnoresTransientPeerDisconnect(t *testing.T) {
	net := &conntest.Network{}
	ini, _ := handshake(t, net)
	require.Eventually(t, ini.Connected, time.Second, 5*time.Millisecond)

	net.Initiator().SetState(conn.PeerDisconnected)
	assert.Equal(t, conn.StateConnected, ini.State())

	net.Initiator().SetState(conn.PeerFailed)
	assert.Equal(t, conn.StateDisconnected, ini.State())
}

func TestManagerBufferLowThreshold(t *testing.T) {
	net := &conntest.Network{}
	ini, _ := handshake(t, net)
	ini.SetBufferedAmountLowThreshold(0)
	events := record(ini)
	require.Eventually(t, ini.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, ini.SendBinary(make([]byte, 1024)))
	require.Eventually(t, func() bool {
		return events.count(func(ev conn.Event) bool { _, ok := ev.(conn.BufferLow); return ok }) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, ini.BufferedAmount())
}
