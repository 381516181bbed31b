package transfer

import "time"

// Event is one of the engine notifications below.
type Event interface {
	transferEvent()
}

// Stats is a snapshot of the active or most recent session.
type Stats struct {
	BytesTransferred int64
	TotalBytes       int64
	StartTime        time.Time
	CurrentSpeed     float64
	AverageSpeed     float64
	// ETA is meaningful only when ETAKnown is set.
	ETA      time.Duration
	ETAKnown bool
	Percent  float64
}

// Progress accompanies every stored or sent chunk.
type Progress struct {
	FileIndex   int
	FileName    string
	ChunkIndex  int
	TotalChunks int
	FileBytes   int64
	FileSize    int64
	Stats       Stats
}

type (
	TransferStarted struct {
		FileCount int
		TotalSize int64
	}
	FileStarted struct {
		Index int
		File  FileDescriptor
	}
	SendProgress struct {
		Progress
	}
	FileCompleted struct {
		Index    int
		File     FileDescriptor
		Checksum string
	}
	FileFailed struct {
		Index int
		File  FileDescriptor
		Err   error
	}
	TransferCompleted struct {
		Stats    Stats
		Duration time.Duration
	}
	TransferFailed struct {
		Err error
	}
	TransferPaused    struct{}
	TransferResumed   struct{}
	TransferCancelled struct {
		// Remote is set when the peer sent transfer_cancel.
		Remote bool
	}
	// TransferInterrupted reports connection loss while a session was active.
	TransferInterrupted struct {
		Err error
	}

	ReceiveStarted struct {
		FileCount int
		TotalSize int64
		Files     []FileDescriptor
	}
	FileReceiveStarted struct {
		Index int
		File  FileDescriptor
	}
	ReceiveProgress struct {
		Progress
	}
	FileReceived struct {
		Index    int
		File     FileDescriptor
		Data     []byte
		Checksum string
	}
	FileReceiveFailed struct {
		Index int
		File  FileDescriptor
		Err   error
	}
	ReceiveCompleted struct {
		Stats    Stats
		Duration time.Duration
	}
)

func (TransferStarted) transferEvent()     {}
func (FileStarted) transferEvent()         {}
func (SendProgress) transferEvent()        {}
func (FileCompleted) transferEvent()       {}
func (FileFailed) transferEvent()          {}
func (TransferCompleted) transferEvent()   {}
func (TransferFailed) transferEvent()      {}
func (TransferPaused) transferEvent()      {}
func (TransferResumed) transferEvent()     {}
func (TransferCancelled) transferEvent()   {}
func (TransferInterrupted) transferEvent() {}
func (ReceiveStarted) transferEvent()      {}
func (FileReceiveStarted) transferEvent()  {}
func (ReceiveProgress) transferEvent()     {}
func (FileReceived) transferEvent()        {}
func (FileReceiveFailed) transferEvent()   {}
func (ReceiveCompleted) transferEvent()    {}
