package signal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sheerbytes/lanbeam/pkg/protocol"
)

// maxLineSize bounds one pasted line; pairing codes with full descriptions
// run to a few kilobytes.
const maxLineSize = 1 << 20

var _ Adapter = (*Manual)(nil)

// ManualConfig configures copy/paste signaling.
type ManualConfig struct {
	In  io.Reader
	Out io.Writer
	// QR renders every outgoing code as terminal QR symbols as well.
	QR          bool
	MaxQRLength int
	// RenderQR draws one QR payload. Defaults to the terminal renderer.
	RenderQR func(payload string) error
}

// Manual prints outgoing codes and reads incoming ones line by line.
type Manual struct {
	cfg ManualConfig

	startOnce sync.Once
	lines     chan string
	readErr   error

	mu     sync.Mutex
	parts  []string
	closed chan struct{}
	once   sync.Once
}

// NewManual returns a Manual adapter.
func NewManual(cfg ManualConfig) *Manual {
	if cfg.MaxQRLength <= 0 {
		cfg.MaxQRLength = protocol.MaxQRLength
	}
	if cfg.RenderQR == nil {
		cfg.RenderQR = RenderTerminalQR
	}
	return &Manual{cfg: cfg, closed: make(chan struct{})}
}

func (m *Manual) Send(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(m.cfg.Out, "\nPairing code (paste it on the other device):\n\n%s\n\n", code); err != nil {
		return fmt.Errorf("write pairing code: %w", err)
	}
	if !m.cfg.QR {
		return nil
	}
	parts, err := protocol.SplitPairingCode(code, m.cfg.MaxQRLength)
	if err != nil {
		return err
	}
	for i, part := range parts {
		if len(parts) > 1 {
			fmt.Fprintf(m.cfg.Out, "QR %d/%d\n", i+1, len(parts))
		}
		if err := m.cfg.RenderQR(part); err != nil {
			return fmt.Errorf("render qr: %w", err)
		}
	}
	return nil
}

// Receive returns the next pasted code. Fragments produced for multi-part QR
// payloads are collected until a complete code can be reassembled.
func (m *Manual) Receive(ctx context.Context) (string, error) {
	m.startOnce.Do(m.startReader)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-m.closed:
			return "", ErrClosed
		case line, ok := <-m.lines:
			if !ok {
				if m.readErr != nil {
					return "", fmt.Errorf("read pairing code: %w", m.readErr)
				}
				return "", io.ErrUnexpectedEOF
			}
			if code, ok := m.accept(line); ok {
				return code, nil
			}
		}
	}
}

func (m *Manual) accept(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	if _, ok := protocol.ParseCodePart(line); !ok {
		return line, true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parts = append(m.parts, line)
	codes := protocol.ReassemblePairingCodes(m.parts)
	if len(codes) == 0 {
		return "", false
	}
	m.parts = nil
	return codes[0], true
}

func (m *Manual) startReader() {
	m.lines = make(chan string)
	go func() {
		defer close(m.lines)
		scanner := bufio.NewScanner(m.cfg.In)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			select {
			case m.lines <- scanner.Text():
			case <-m.closed:
				return
			}
		}
		m.readErr = scanner.Err()
	}()
}

// Close unblocks pending Receive calls. The input reader is left open.
func (m *Manual) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}
