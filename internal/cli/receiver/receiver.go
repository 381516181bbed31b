package receiver

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"

	"github.com/sheerbytes/lanbeam/internal/beam"
	"github.com/sheerbytes/lanbeam/internal/config"
	"github.com/sheerbytes/lanbeam/internal/logging"
	"github.com/sheerbytes/lanbeam/internal/progress"
	"github.com/sheerbytes/lanbeam/internal/rtc"
	"github.com/sheerbytes/lanbeam/internal/signal"
	"github.com/sheerbytes/lanbeam/internal/termio"
	"github.com/sheerbytes/lanbeam/internal/transfer"
)

// Run executes `lanbeam receive` and exits the process on failure.
func Run(args []string) {
	cfg, err := config.ParseReceive(args, termio.Stderr())
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "lanbeam receive: %v\n", err)
		printReceiverUsage(termio.Stderr())
		termio.Exit(2)
	}

	logger := logging.New("lanbeam-receive", cfg.LogLevel)
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdin, termio.Stdout()); err != nil {
		logger.Error("receive failed", "error", err)
		fmt.Fprintf(termio.Stderr(), "lanbeam receive: %v\n", err)
		termio.Exit(1)
	}
}

// outcome is how a receive session ended.
type outcome struct {
	saved     []string
	failed    int
	cancelled bool
	err       error
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, in io.Reader, out io.Writer) error {
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	topts, err := cfg.TransferOptions()
	if err != nil {
		return err
	}
	session := beam.New(beam.Options{
		Peer:     rtc.Factory(rtc.Config{IncludeLoopback: true, Logger: logger}),
		Conn:     cfg.ConnOptions(),
		Transfer: topts,
		DeviceID: cfg.DeviceID,
		Logger:   logger,
	})
	defer session.Close()

	adapter, err := openAdapter(ctx, cfg, logger, in, out)
	if err != nil {
		return err
	}
	defer adapter.Close()
	return receive(ctx, session, adapter, cfg.OutDir, logger, out)
}

// receive answers over adapter and saves files into dir until the sender
// finishes, cancels or the connection ends.
func receive(ctx context.Context, session *beam.Session, adapter signal.Adapter, dir string, logger *slog.Logger, out io.Writer) error {
	tracker := beam.NewTracker("receive", dir)
	session.Engine().AddListener(tracker.Handle)
	finished, result := collect(session.Engine(), dir, logger)

	if err := session.Answer(ctx, adapter); err != nil {
		return fmt.Errorf("pairing: %w", err)
	}
	if err := session.WaitConnected(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Fprintf(out, "Connected to %s, waiting for files\n", session.RemoteDevice())

	stopView := progress.Render(ctx, out, tracker.View, session.Engine().Cancel)
	select {
	case <-finished:
	case <-session.Done():
	case <-ctx.Done():
		session.Engine().Cancel()
	}
	stopView()

	res := result()
	for _, path := range res.saved {
		fmt.Fprintf(out, "  saved %s\n", path)
	}
	switch {
	case res.err != nil:
		return res.err
	case res.cancelled || ctx.Err() != nil:
		fmt.Fprintln(out, "Transfer cancelled")
		return nil
	case session.Err() != nil && len(res.saved) == 0:
		return session.Err()
	case res.failed > 0:
		return fmt.Errorf("%d file(s) failed verification", res.failed)
	}
	fmt.Fprintf(out, "Received %d file(s) into %s\n", len(res.saved), dir)
	return nil
}

// collect saves every received file and reports when the sender finishes or
// cancels.
func collect(engine *transfer.Engine, dir string, logger *slog.Logger) (<-chan struct{}, func() outcome) {
	var mu sync.Mutex
	var res outcome
	finished := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(finished) }) }

	engine.AddListener(func(ev transfer.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev := ev.(type) {
		case transfer.FileReceived:
			path, err := transfer.SaveFile(dir, ev.File, ev.Data)
			if err != nil {
				res.err = fmt.Errorf("save %s: %w", ev.File.Name, err)
				logger.Error("save failed", "file", ev.File.Name, "error", err)
				return
			}
			logger.Info("file saved", "file", ev.File.Name, "path", path, "checksum", ev.Checksum)
			res.saved = append(res.saved, path)
		case transfer.FileReceiveFailed:
			logger.Error("file rejected", "file", ev.File.Name, "error", ev.Err)
			res.failed++
		case transfer.ReceiveCompleted:
			finish()
		case transfer.TransferCancelled:
			res.cancelled = true
			finish()
		case transfer.TransferInterrupted:
			res.err = ev.Err
			finish()
		}
	})
	return finished, func() outcome {
		mu.Lock()
		defer mu.Unlock()
		return res
	}
}

func openAdapter(ctx context.Context, cfg config.Config, logger *slog.Logger, in io.Reader, out io.Writer) (signal.Adapter, error) {
	if cfg.Signal != config.SignalWS {
		fmt.Fprintln(out, "Paste the pairing code from the sending device:")
		return signal.NewManual(signal.ManualConfig{
			In:  in,
			Out: out,
			QR:  cfg.QR && progress.IsTTY(out),
		}), nil
	}

	url := cfg.Dial
	if url == "" {
		if !cfg.MDNS {
			return nil, errors.New("--dial is required when mDNS is disabled")
		}
		fmt.Fprintln(out, "Looking for a sender on the local network...")
		ep, err := signal.Discover(ctx, signal.DefaultBrowseTimeout)
		if err != nil {
			return nil, err
		}
		logger.Info("sender discovered", "instance", ep.Instance, "deviceId", ep.DeviceID)
		url = ep.URL()
	}
	fmt.Fprintf(out, "Connecting to %s\n", url)
	return signal.DialWS(ctx, url, logger)
}

func printReceiverUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: lanbeam receive [flags]")
	fmt.Fprintln(w, "  --out DIR              directory received files are written to (default .)")
	fmt.Fprintln(w, "  --signal manual|ws     exchange pairing codes by copy/paste (default) or websocket")
	fmt.Fprintln(w, "  --dial URL             sender websocket URL (default: browse mDNS)")
	fmt.Fprintln(w, "run `lanbeam receive -h` for every flag")
}
