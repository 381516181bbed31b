package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sheerbytes/lanbeam/internal/conn"
	"github.com/sheerbytes/lanbeam/internal/integrity"
	"github.com/sheerbytes/lanbeam/internal/transfer"
)

const (
	SignalManual = "manual"
	SignalWS     = "ws"

	envPrefix = "LANBEAM_"
)

// Config holds configuration for the send and receive commands.
type Config struct {
	LogLevel          string
	DeviceID          string
	ChunkSize         int
	MaxBufferedAmount uint64
	Checksums         bool
	HashAlg           string
	ChunkChecksum     string
	ConnectionTimeout time.Duration
	GatheringTimeout  time.Duration
	ProgressInterval  time.Duration
	Signal            string // manual or ws
	Listen            string // ws listen address (send)
	Dial              string // ws URL to dial (receive); empty browses mDNS
	MDNS              bool
	QR                bool
	OutDir            string   // receive only
	Paths             []string // send only
}

// Defaults returns the configuration used when neither env nor flags are set.
func Defaults() Config {
	return Config{
		LogLevel:          "error",
		ChunkSize:         transfer.DefaultChunkSize,
		MaxBufferedAmount: transfer.DefaultMaxBufferedAmount,
		Checksums:         true,
		HashAlg:           integrity.HashSHA256,
		ChunkChecksum:     integrity.ChunkCRC32,
		ConnectionTimeout: 30 * time.Second,
		GatheringTimeout:  10 * time.Second,
		ProgressInterval:  transfer.DefaultProgressInterval,
		Signal:            SignalManual,
		Listen:            ":0",
		MDNS:              true,
		QR:                true,
		OutDir:            ".",
	}
}

// ParseSend parses the send command's flags and environment.
// Flags take precedence over environment variables.
func ParseSend(args []string, output io.Writer) (Config, error) {
	fs := flag.NewFlagSet("lanbeam send", flag.ContinueOnError)
	fs.SetOutput(output)
	return parseWithFlagSet(fs, args, true)
}

// ParseReceive parses the receive command's flags and environment.
func ParseReceive(args []string, output io.Writer) (Config, error) {
	fs := flag.NewFlagSet("lanbeam receive", flag.ContinueOnError)
	fs.SetOutput(output)
	return parseWithFlagSet(fs, args, false)
}

// parseWithFlagSet is an internal helper for testing with isolated flag sets.
func parseWithFlagSet(fs *flag.FlagSet, args []string, send bool) (Config, error) {
	cfg := Defaults()
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = DeviceID()
	}

	// Flags override environment
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "device identifier carried in pairing codes")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "chunk size in bytes")
	fs.Uint64Var(&cfg.MaxBufferedAmount, "max-buffered", cfg.MaxBufferedAmount, "pause sending while more than this many bytes are queued")
	fs.BoolVar(&cfg.Checksums, "checksums", cfg.Checksums, "compute and verify file and chunk checksums")
	fs.StringVar(&cfg.HashAlg, "hash", cfg.HashAlg, "whole-file hash (sha256, blake2b)")
	fs.StringVar(&cfg.ChunkChecksum, "chunk-checksum", cfg.ChunkChecksum, "per-chunk checksum (crc32, crc32c)")
	fs.DurationVar(&cfg.ConnectionTimeout, "connect-timeout", cfg.ConnectionTimeout, "give up when no connection is established within this time")
	fs.DurationVar(&cfg.GatheringTimeout, "gather-timeout", cfg.GatheringTimeout, "stop waiting for local candidates after this time")
	fs.DurationVar(&cfg.ProgressInterval, "progress-interval", cfg.ProgressInterval, "speed sampling interval")
	fs.StringVar(&cfg.Signal, "signal", cfg.Signal, "pairing code exchange (manual, ws)")
	fs.BoolVar(&cfg.QR, "qr", cfg.QR, "render pairing codes as QR symbols (manual signaling)")
	fs.BoolVar(&cfg.MDNS, "mdns", cfg.MDNS, "advertise or browse the pairing endpoint over mDNS (ws signaling)")

	paths := make([]string, 0)
	if send {
		fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "pairing endpoint listen address (ws signaling)")
		fs.Var((*stringSlice)(&paths), "path", "file to send (repeatable)")
	} else {
		fs.StringVar(&cfg.Dial, "dial", cfg.Dial, "pairing endpoint URL (ws signaling, default browse mDNS)")
		fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "directory received files are written to")
	}

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if send {
		cfg.Paths = append(paths, fs.Args()...)
	} else if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return cfg, cfg.Validate(send)
}

func applyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &cfg.LogLevel)
	str("DEVICE_ID", &cfg.DeviceID)
	str("HASH", &cfg.HashAlg)
	str("CHUNK_CHECKSUM", &cfg.ChunkChecksum)
	str("SIGNAL", &cfg.Signal)
	str("LISTEN", &cfg.Listen)
	str("DIAL", &cfg.Dial)
	str("OUT", &cfg.OutDir)

	var errs []error
	if v := os.Getenv(envPrefix + "CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sCHUNK_SIZE: %w", envPrefix, err))
		}
		cfg.ChunkSize = n
	}
	if v := os.Getenv(envPrefix + "MAX_BUFFERED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_BUFFERED: %w", envPrefix, err))
		}
		cfg.MaxBufferedAmount = n
	}
	for name, dst := range map[string]*bool{"CHECKSUMS": &cfg.Checksums, "MDNS": &cfg.MDNS, "QR": &cfg.QR} {
		if v := os.Getenv(envPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				continue
			}
			*dst = b
		}
	}
	for name, dst := range map[string]*time.Duration{
		"CONNECT_TIMEOUT":   &cfg.ConnectionTimeout,
		"GATHER_TIMEOUT":    &cfg.GatheringTimeout,
		"PROGRESS_INTERVAL": &cfg.ProgressInterval,
	} {
		if v := os.Getenv(envPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				continue
			}
			*dst = d
		}
	}
	return errors.Join(errs...)
}

// Validate reports the first invalid setting.
func (c Config) Validate(send bool) error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.MaxBufferedAmount == 0 {
		return errors.New("max buffered amount must be positive")
	}
	if _, err := integrity.New(c.HashAlg, c.ChunkChecksum); err != nil {
		return err
	}
	if c.ConnectionTimeout <= 0 || c.GatheringTimeout <= 0 || c.ProgressInterval <= 0 {
		return errors.New("timeouts and intervals must be positive")
	}
	switch c.Signal {
	case SignalManual, SignalWS:
	default:
		return fmt.Errorf("invalid signal mode %q (manual, ws)", c.Signal)
	}
	if strings.TrimSpace(c.DeviceID) == "" {
		return errors.New("device id is required")
	}
	if send && len(c.Paths) == 0 {
		return errors.New("at least one path is required")
	}
	return nil
}

// TransferOptions maps the configuration onto engine options.
func (c Config) TransferOptions() (transfer.Options, error) {
	svc, err := integrity.New(c.HashAlg, c.ChunkChecksum)
	if err != nil {
		return transfer.Options{}, err
	}
	opts := transfer.DefaultOptions()
	opts.ChunkSize = c.ChunkSize
	opts.MaxBufferedAmount = c.MaxBufferedAmount
	opts.ChecksumEnabled = c.Checksums
	opts.ProgressInterval = c.ProgressInterval
	opts.Integrity = svc
	return opts, nil
}

// ConnOptions maps the configuration onto connection manager options.
func (c Config) ConnOptions() conn.Options {
	opts := conn.DefaultOptions()
	opts.ConnectionTimeout = c.ConnectionTimeout
	opts.GatheringTimeout = c.GatheringTimeout
	return opts
}

// DeviceID returns the persisted device id, creating it on first use. When
// the user config directory is unavailable a fresh id is returned.
func DeviceID() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return newDeviceID()
	}
	id, err := loadOrCreateDeviceID(filepath.Join(dir, "lanbeam", "device_id"))
	if err != nil {
		return newDeviceID()
	}
	return id
}

func loadOrCreateDeviceID(path string) (string, error) {
	if raw, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	}
	id := newDeviceID()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}

// newDeviceID returns eight upper-case hex characters.
func newDeviceID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// stringSlice implements flag.Value for repeatable string flags.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func (s *stringSlice) Get() interface{} {
	return []string(*s)
}

var _ flag.Value = (*stringSlice)(nil)
var _ flag.Getter = (*stringSlice)(nil)
