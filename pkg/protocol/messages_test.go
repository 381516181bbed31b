package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeControlFlatType(t *testing.T) {
	sum := uint32(0xDEADBEEF)
	tests := []struct {
		name string
		msg  Control
		want string
	}{
		{
			name: "cancel has only type",
			msg:  TransferCancel{},
			want: `{"type":"transfer_cancel"}`,
		},
		{
			name: "chunk with checksum",
			msg:  Chunk{FileIndex: 1, ChunkIndex: 2, TotalChunks: 3, Checksum: &sum, DataSize: 4},
			want: `{"type":"chunk","fileIndex":1,"chunkIndex":2,"totalChunks":3,"checksum":3735928559,"dataSize":4}`,
		},
		{
			name: "file end without checksum",
			msg:  FileEnd{FileIndex: 0},
			want: `{"type":"file_end","fileIndex":0}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeControl(tt.msg)
			if err != nil {
				t.Fatalf("EncodeControl() error = %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("EncodeControl() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeControl(t *testing.T) {
	start := TransferStart{
		FileCount: 2,
		TotalSize: 10,
		Files: []FileMeta{
			{Name: "empty.txt", Size: 0, Type: "text/plain", LastModified: 1},
			{Name: "ten.bin", Size: 10, Type: "application/octet-stream", LastModified: 2},
		},
	}
	raw, err := EncodeControl(start)
	if err != nil {
		t.Fatalf("EncodeControl() error = %v", err)
	}
	msg, err := DecodeControl(raw)
	if err != nil {
		t.Fatalf("DecodeControl() error = %v", err)
	}
	got, ok := msg.(TransferStart)
	if !ok {
		t.Fatalf("DecodeControl() type = %T, want TransferStart", msg)
	}
	if got.FileCount != 2 || got.TotalSize != 10 || len(got.Files) != 2 || got.Files[1].Name != "ten.bin" {
		t.Fatalf("DecodeControl() = %+v", got)
	}
}

func TestDecodeControlAcceptsNullChecksum(t *testing.T) {
	msg, err := DecodeControl([]byte(`{"type":"chunk","fileIndex":0,"chunkIndex":0,"totalChunks":1,"checksum":null,"dataSize":5}`))
	if err != nil {
		t.Fatalf("DecodeControl() error = %v", err)
	}
	chunk := msg.(Chunk)
	if chunk.Checksum != nil {
		t.Fatalf("expected nil checksum, got %v", *chunk.Checksum)
	}
	if chunk.DataSize != 5 {
		t.Fatalf("DataSize = %d, want 5", chunk.DataSize)
	}
}

func TestDecodeControlErrors(t *testing.T) {
	inputs := []string{
		`not json`,
		`{"fileIndex":1}`,
		`{"type":"mystery"}`,
		`{"type":"chunk","chunkIndex":"x"}`,
	}
	for _, in := range inputs {
		_, err := DecodeControl([]byte(in))
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("DecodeControl(%q) error = %v, want ErrProtocol", in, err)
		}
	}
}

func TestEncodeControlStats(t *testing.T) {
	raw, err := EncodeControl(TransferComplete{Stats: TransferStats{BytesTransferred: 7, TotalBytes: 7}})
	if err != nil {
		t.Fatalf("EncodeControl() error = %v", err)
	}
	if !strings.HasPrefix(string(raw), `{"type":"transfer_complete","stats":{`) {
		t.Fatalf("unexpected encoding %s", raw)
	}
}
