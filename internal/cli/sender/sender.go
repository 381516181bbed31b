package sender

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	ossignal "os/signal"
	"strings"
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

// Run executes `lanbeam send` and exits the process on failure.
func Run(args []string) {
	cfg, err := config.ParseSend(args, termio.Stderr())
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "lanbeam send: %v\n", err)
		printSenderUsage(termio.Stderr())
		termio.Exit(2)
	}

	logger := logging.New("lanbeam-send", cfg.LogLevel)
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdin, termio.Stdout()); err != nil {
		logger.Error("send failed", "error", err)
		fmt.Fprintf(termio.Stderr(), "lanbeam send: %v\n", err)
		termio.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, in io.Reader, out io.Writer) error {
	files, err := openFiles(cfg.Paths)
	if err != nil {
		return err
	}
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

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

	adapter, cleanup, err := openAdapter(ctx, cfg, logger, in, out)
	if err != nil {
		return err
	}
	defer cleanup()

	return send(ctx, session, adapter, files, out)
}

// send pairs over adapter and streams files once the channel is open.
func send(ctx context.Context, session *beam.Session, adapter signal.Adapter, files []transfer.File, out io.Writer) error {
	fmt.Fprintf(out, "Sending %d file(s)\n", len(files))
	if err := session.Offer(ctx, adapter); err != nil {
		return fmt.Errorf("pairing: %w", err)
	}
	fmt.Fprintln(out, "Answer received, connecting...")
	if err := session.WaitConnected(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Fprintf(out, "Connected to %s\n", session.RemoteDevice())

	tracker := beam.NewTracker("send", "")
	session.Engine().AddListener(tracker.Handle)
	stopView := progress.Render(ctx, out, tracker.View, session.Engine().Cancel)
	err := session.SendFiles(ctx, files)
	stopView()

	view := tracker.View()
	switch {
	case errors.Is(err, context.Canceled), err == nil && strings.HasPrefix(view.Status, "cancelled"):
		fmt.Fprintf(out, "Transfer %s\n", view.Status)
		return nil
	case err != nil:
		return err
	}
	fmt.Fprintf(out, "Sent %d file(s), %s in total, average %s\n",
		view.FileDone, progress.FormatSize(view.Stats.Total), progress.FormatRate(view.Stats.AverageBps))
	return nil
}

func openFiles(paths []string) ([]transfer.File, error) {
	files := make([]transfer.File, 0, len(paths))
	for _, path := range paths {
		f, err := transfer.OpenFile(path)
		if err != nil {
			for _, opened := range files {
				_ = opened.Close()
			}
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// openAdapter returns the signaling adapter for cfg and a cleanup func. The
// websocket adapter is returned once a receiver has connected, so the offer is
// only created when someone is there to answer it.
func openAdapter(ctx context.Context, cfg config.Config, logger *slog.Logger, in io.Reader, out io.Writer) (signal.Adapter, func(), error) {
	if cfg.Signal != config.SignalWS {
		m := signal.NewManual(signal.ManualConfig{
			In:  in,
			Out: out,
			QR:  cfg.QR && progress.IsTTY(out),
		})
		fmt.Fprintln(out, "Paste the answer code from the receiving device when it appears.")
		return m, func() { _ = m.Close() }, nil
	}

	srv, err := signal.ListenWS(cfg.Listen, logger)
	if err != nil {
		return nil, nil, err
	}
	fmt.Fprintf(out, "Waiting for a receiver at %s\n", srv.URL())
	var adv *signal.Advertiser
	if cfg.MDNS {
		host, _ := os.Hostname()
		if host == "" {
			host = "lanbeam"
		}
		adv, err = signal.Advertise(host+"-"+cfg.DeviceID, cfg.DeviceID, srv.Port())
		if err != nil {
			logger.Warn("mDNS advertisement unavailable", "error", err)
		}
	}
	cleanup := func() {
		adv.Stop()
		_ = srv.Close()
	}
	if _, err := srv.Accept(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	adv.Stop()
	fmt.Fprintln(out, "Receiver connected")
	return srv, cleanup, nil
}

func printSenderUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: lanbeam send [flags] <path>...")
	fmt.Fprintln(w, "  --signal manual|ws     exchange pairing codes by copy/paste (default) or websocket")
	fmt.Fprintln(w, "  --listen ADDR          websocket listen address (default :0)")
	fmt.Fprintln(w, "  --mdns=false           do not advertise the websocket endpoint")
	fmt.Fprintln(w, "  --qr=false             do not render pairing codes as QR")
	fmt.Fprintln(w, "  --chunk-size N         chunk size in bytes (default 65536)")
	fmt.Fprintln(w, "  --hash sha256|blake2b  whole-file hash")
	fmt.Fprintln(w, "run `lanbeam send -h` for every flag")
}
