package rtc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/sheerbytes/lanbeam/internal/conn"
)

func TestPeerStateMapping(t *testing.T) {
	cases := map[webrtc.PeerConnectionState]conn.PeerState{
		webrtc.PeerConnectionStateNew:          conn.PeerNew,
		webrtc.PeerConnectionStateConnecting:   conn.PeerConnecting,
		webrtc.PeerConnectionStateConnected:    conn.PeerConnected,
		webrtc.PeerConnectionStateDisconnected: conn.PeerDisconnected,
		webrtc.PeerConnectionStateFailed:       conn.PeerFailed,
		webrtc.PeerConnectionStateClosed:       conn.PeerClosed,
	}
	for in, want := range cases {
		if got := peerState(in); got != want {
			t.Fatalf("peerState(%s) = %s, want %s", in, got, want)
		}
	}
	if sdpType(conn.DescriptionAnswer) != webrtc.SDPTypeAnswer || sdpType(conn.DescriptionOffer) != webrtc.SDPTypeOffer {
		t.Fatal("unexpected sdp type mapping")
	}
	if len(peerConnectionConfig().ICEServers) != 0 {
		t.Fatal("expected no ICE servers")
	}
}

func TestLoopbackHandshake(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real UDP sockets")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	opts := conn.DefaultOptions()
	opts.GatheringTimeout = 5 * time.Second
	factory := Factory(DefaultConfig())
	ini := conn.NewManager(factory, opts)
	resp := conn.NewManager(factory, opts)
	defer ini.Close()
	defer resp.Close()

	received := make(chan string, 1)
	resp.AddListener(func(ev conn.Event) {
		if m, ok := ev.(conn.MessageReceived); ok && !m.Message.Binary {
			received <- string(m.Message.Data)
		}
	})

	offer, err := ini.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if !strings.Contains(offer, "typ host") {
		t.Fatalf("offer has no host candidates: %q", offer)
	}
	answer, err := resp.HandleOffer(ctx, offer)
	if err != nil {
		t.Fatalf("handle offer: %v", err)
	}
	if err := ini.HandleAnswer(ctx, answer); err != nil {
		t.Fatalf("handle answer: %v", err)
	}

	deadline := time.Now().Add(15 * time.Second)
	for !ini.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("not connected, state=%s", ini.State())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := ini.SendText("hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case got := <-received:
		if got != "hello" {
			t.Fatalf("got %q", got)
		}
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}
