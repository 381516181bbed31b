package beam

import (
	"sync"

	"github.com/sheerbytes/lanbeam/internal/progress"
	"github.com/sheerbytes/lanbeam/internal/transfer"
)

// Tracker folds engine events into a progress view.
type Tracker struct {
	mu   sync.Mutex
	view progress.View
}

// NewTracker returns a tracker for one transfer direction ("send" or "receive").
func NewTracker(direction, outDir string) *Tracker {
	return &Tracker{view: progress.View{Direction: direction, OutDir: outDir, Status: "waiting"}}
}

// Handle is an engine listener.
func (t *Tracker) Handle(ev transfer.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := &t.view
	switch ev := ev.(type) {
	case transfer.TransferStarted:
		v.Status = "sending"
		v.FileTotal = ev.FileCount
		v.FileDone = 0
		v.Stats = progress.Stats{Total: ev.TotalSize}
	case transfer.ReceiveStarted:
		v.Status = "receiving"
		v.FileTotal = ev.FileCount
		v.FileDone = 0
		v.Stats = progress.Stats{Total: ev.TotalSize}
	case transfer.FileStarted:
		v.CurrentFile = ev.File.Name
	case transfer.FileReceiveStarted:
		v.CurrentFile = ev.File.Name
	case transfer.SendProgress:
		v.CurrentFile = ev.FileName
		v.Stats = viewStats(ev.Stats)
	case transfer.ReceiveProgress:
		v.CurrentFile = ev.FileName
		v.Stats = viewStats(ev.Stats)
	case transfer.FileCompleted, transfer.FileReceived:
		v.FileDone++
	case transfer.FileFailed, transfer.FileReceiveFailed:
		v.FileDone++
		v.Status = "file failed"
	case transfer.TransferPaused:
		v.Status = "paused"
	case transfer.TransferResumed:
		v.Status = "sending"
	case transfer.TransferCancelled:
		if ev.Remote {
			v.Status = "cancelled by peer"
		} else {
			v.Status = "cancelled"
		}
	case transfer.TransferInterrupted:
		v.Status = "interrupted"
	case transfer.TransferFailed:
		v.Status = "failed"
	case transfer.TransferCompleted:
		v.Status = "done"
		v.Stats = viewStats(ev.Stats)
	case transfer.ReceiveCompleted:
		v.Status = "done"
		v.Stats = viewStats(ev.Stats)
	}
}

// View returns the current view.
func (t *Tracker) View() progress.View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view
}

func viewStats(s transfer.Stats) progress.Stats {
	return progress.Stats{
		BytesDone:  s.BytesTransferred,
		Total:      s.TotalBytes,
		CurrentBps: s.CurrentSpeed,
		AverageBps: s.AverageSpeed,
		ETA:        s.ETA,
		ETAKnown:   s.ETAKnown,
		Percent:    s.Percent,
		StartedAt:  s.StartTime,
	}
}
