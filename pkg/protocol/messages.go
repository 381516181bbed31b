package protocol

import (
	"encoding/json"
	"fmt"
)

// Control is implemented by every JSON control message sent on the channel.
type Control interface {
	ControlType() string
}

// FileMeta describes one file in a transfer_start announcement.
type FileMeta struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	Type         string `json:"type"`
	LastModified int64  `json:"lastModified"`
}

// TransferStart opens a session and lists every file up front.
type TransferStart struct {
	FileCount int        `json:"fileCount"`
	TotalSize int64      `json:"totalSize"`
	Files     []FileMeta `json:"files"`
}

// FileStart announces the next file and the chunk size used to split it.
// HashAlg and ChunkChecksumAlg are omitted for the defaults (sha256, crc32).
type FileStart struct {
	FileIndex        int    `json:"fileIndex"`
	Name             string `json:"name"`
	Size             int64  `json:"size"`
	Type             string `json:"type"`
	LastModified     int64  `json:"lastModified"`
	Checksum         string `json:"checksum,omitempty"`
	ChunkSize        int    `json:"chunkSize"`
	HashAlg          string `json:"hashAlg,omitempty"`
	ChunkChecksumAlg string `json:"chunkChecksumAlg,omitempty"`
}

// Chunk describes the binary payload sent as the very next message.
type Chunk struct {
	FileIndex   int     `json:"fileIndex"`
	ChunkIndex  int     `json:"chunkIndex"`
	TotalChunks int     `json:"totalChunks"`
	Checksum    *uint32 `json:"checksum,omitempty"`
	DataSize    int     `json:"dataSize"`
}

// FileEnd closes a file; Checksum repeats the whole-file checksum.
type FileEnd struct {
	FileIndex int    `json:"fileIndex"`
	Checksum  string `json:"checksum,omitempty"`
}

// TransferStats is the statistics block of transfer_complete.
// Speeds are bytes per second, ETA is seconds (0 when unknown), StartTime is unix ms.
type TransferStats struct {
	BytesTransferred int64   `json:"bytesTransferred"`
	TotalBytes       int64   `json:"totalBytes"`
	StartTime        int64   `json:"startTime"`
	CurrentSpeed     float64 `json:"currentSpeed"`
	AverageSpeed     float64 `json:"averageSpeed"`
	ETA              float64 `json:"eta"`
}

// TransferComplete closes a session.
type TransferComplete struct {
	Stats TransferStats `json:"stats"`
}

// TransferCancel aborts the session on the remote side.
type TransferCancel struct{}

func (TransferStart) ControlType() string    { return TypeTransferStart }
func (FileStart) ControlType() string        { return TypeFileStart }
func (Chunk) ControlType() string            { return TypeChunk }
func (FileEnd) ControlType() string          { return TypeFileEnd }
func (TransferComplete) ControlType() string { return TypeTransferComplete }
func (TransferCancel) ControlType() string   { return TypeTransferCancel }

// EncodeControl marshals msg as a flat JSON object with a leading "type" field.
func EncodeControl(msg Control) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil control message", ErrProtocol)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.ControlType(), err)
	}
	typ, err := json.Marshal(msg.ControlType())
	if err != nil {
		return nil, fmt.Errorf("marshal type: %w", err)
	}
	out := make([]byte, 0, len(body)+len(typ)+10)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// DecodeControl parses a JSON control message into its concrete type.
// Unknown types and malformed JSON are reported as ErrProtocol.
func DecodeControl(data []byte) (Control, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: unmarshal control message: %v", ErrProtocol, err)
	}

	var (
		msg Control
		err error
	)
	switch head.Type {
	case TypeTransferStart:
		var m TransferStart
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeFileStart:
		var m FileStart
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeChunk:
		var m Chunk
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeFileEnd:
		var m FileEnd
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeTransferComplete:
		var m TransferComplete
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeTransferCancel:
		msg = TransferCancel{}
	case "":
		return nil, fmt.Errorf("%w: control message without type", ErrProtocol)
	default:
		return nil, fmt.Errorf("%w: unknown control message type %q", ErrProtocol, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: unmarshal %s: %v", ErrProtocol, head.Type, err)
	}
	return msg, nil
}
