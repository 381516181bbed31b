package rtc

import (
	"log/slog"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

// Config controls the pion API every Peer is created from.
type Config struct {
	// IncludeLoopback gathers 127.0.0.1 host candidates so two peers on one
	// machine can connect.
	IncludeLoopback bool

	// Disconnected, Failed and KeepAlive are the ICE agent timeouts. Zero
	// leaves the pion defaults.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns a host-only configuration.
func DefaultConfig() Config {
	return Config{IncludeLoopback: true}
}

// settingEngine returns a SettingEngine that only gathers host candidates
// and never publishes mDNS hostnames in place of addresses.
func settingEngine(cfg Config) webrtc.SettingEngine {
	se := webrtc.SettingEngine{}
	se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6})
	if cfg.DisconnectedTimeout > 0 || cfg.FailedTimeout > 0 || cfg.KeepAliveInterval > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}
	return se
}

// peerConnectionConfig never configures ICE servers: candidates stay on the LAN.
func peerConnectionConfig() webrtc.Configuration {
	return webrtc.Configuration{}
}
