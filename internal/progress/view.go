package progress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// View is what the progress renderers draw.
type View struct {
	Direction   string
	Status      string
	OutDir      string
	CurrentFile string
	FileDone    int
	FileTotal   int
	Stats       Stats
}

// Render draws view periodically until the returned stop function is called.
// Terminals get the bubbletea view; other writers get one line per second.
// onInterrupt runs when the user presses Ctrl-C in the terminal view.
func Render(ctx context.Context, w io.Writer, view func() View, onInterrupt func()) func() {
	if IsTTY(w) {
		return renderTea(ctx, w, view, onInterrupt)
	}
	return renderLines(ctx, w, view)
}

func renderLines(ctx context.Context, w io.Writer, view func() View) func() {
	ticker := time.NewTicker(1 * time.Second)
	stop := make(chan struct{})
	done := make(chan struct{})
	var renderMu sync.Mutex

	renderOnce := func() {
		renderMu.Lock()
		defer renderMu.Unlock()
		fmt.Fprintln(w, formatPlainLine(view()))
	}

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				renderOnce()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			renderOnce()
		})
	}
}

func formatPlainLine(v View) string {
	currentFile := v.CurrentFile
	if currentFile == "" {
		currentFile = "-"
	}
	return fmt.Sprintf("%s status=%s %.1f%% %s avg=%s ETA %s file=%s (%d/%d)",
		v.Direction,
		v.Status,
		v.Stats.Percent,
		FormatRate(v.Stats.CurrentBps),
		FormatRate(v.Stats.AverageBps),
		FormatETA(v.Stats.ETA, v.Stats.ETAKnown),
		currentFile,
		v.FileDone,
		v.FileTotal,
	)
}

func formatTransferLine(v View) string {
	bar := renderBar(v.Stats.Percent, 20)
	return fmt.Sprintf("%s %5.1f%%  %s  ETA %s  (%s/%s)",
		bar,
		v.Stats.Percent,
		FormatRate(v.Stats.CurrentBps),
		FormatETA(v.Stats.ETA, v.Stats.ETAKnown),
		FormatSize(v.Stats.BytesDone),
		FormatSize(v.Stats.Total),
	)
}

func renderTTY(v View) string {
	var b strings.Builder
	if v.OutDir != "" {
		fmt.Fprintf(&b, "saving to %s\n", v.OutDir)
	}
	statusColor := colorCyan
	if strings.Contains(v.Status, "failed") || strings.Contains(v.Status, "cancel") {
		statusColor = colorRed
	}
	fmt.Fprintf(&b, "%s %s\n", v.Direction, colorize(v.Status, statusColor, true))
	fmt.Fprintf(&b, "%s\n", colorize(formatTransferLine(v), colorGreen, true))
	currentFile := v.CurrentFile
	if currentFile == "" {
		currentFile = "-"
	}
	fmt.Fprintf(&b, "%s\n", colorize(fmt.Sprintf("file: %s (%d/%d)  avg %s", currentFile, v.FileDone, v.FileTotal, FormatRate(v.Stats.AverageBps)), colorCyan, true))
	return strings.TrimSuffix(b.String(), "\n")
}
