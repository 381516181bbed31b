package conn

import (
	"log/slog"
	"time"
)

const (
	DefaultConnectionTimeout = 30 * time.Second
	DefaultGatheringTimeout  = 10 * time.Second
	DefaultChannelLabel      = "lanbeam"
	DefaultChannelProtocol   = "lanbeam-v1"
	DefaultMaxRetransmits    = 3
)

// Options configures a Manager.
type Options struct {
	ConnectionTimeout time.Duration
	GatheringTimeout  time.Duration
	Channel           ChannelConfig
	Logger            *slog.Logger
	Now               func() time.Time
}

// DefaultOptions returns an ordered channel with three retransmits.
func DefaultOptions() Options {
	return Options{
		ConnectionTimeout: DefaultConnectionTimeout,
		GatheringTimeout:  DefaultGatheringTimeout,
		Channel: ChannelConfig{
			Label:          DefaultChannelLabel,
			Protocol:       DefaultChannelProtocol,
			Ordered:        true,
			MaxRetransmits: DefaultMaxRetransmits,
		},
	}
}

func normalizeOptions(opts Options) Options {
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = DefaultConnectionTimeout
	}
	if opts.GatheringTimeout <= 0 {
		opts.GatheringTimeout = DefaultGatheringTimeout
	}
	if opts.Channel.Label == "" {
		opts.Channel.Label = DefaultChannelLabel
	}
	if opts.Channel.Protocol == "" {
		opts.Channel.Protocol = DefaultChannelProtocol
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}
