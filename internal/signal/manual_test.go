package signal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheerbytes/lanbeam/pkg/protocol"
)

func TestManualSendPrintsCode(t *testing.T) {
	var out bytes.Buffer
	m := NewManual(ManualConfig{In: strings.NewReader(""), Out: &out})

	require.NoError(t, m.Send(context.Background(), "LZ:abc"))
	assert.Contains(t, out.String(), "LZ:abc")
}

func TestManualSendRendersQRParts(t *testing.T) {
	var out bytes.Buffer
	var rendered []string
	m := NewManual(ManualConfig{
		In:          strings.NewReader(""),
		Out:         &out,
		QR:          true,
		MaxQRLength: 10,
		RenderQR: func(payload string) error {
			rendered = append(rendered, payload)
			return nil
		},
	})

	code := strings.Repeat("x", 25)
	require.NoError(t, m.Send(context.Background(), code))
	require.Len(t, rendered, 3)
	assert.Equal(t, []string{code}, protocol.ReassemblePairingCodes(rendered))
	assert.Contains(t, out.String(), "QR 3/3")
}

func TestManualSendPropagatesRenderError(t *testing.T) {
	m := NewManual(ManualConfig{
		In:       strings.NewReader(""),
		Out:      io.Discard,
		QR:       true,
		RenderQR: func(string) error { return errors.New("no terminal") },
	})
	assert.Error(t, m.Send(context.Background(), "LZ:abc"))
}

func TestManualReceiveSkipsBlankLines(t *testing.T) {
	m := NewManual(ManualConfig{In: strings.NewReader("\n   \nLZ:offer\nLZ:second\n"), Out: io.Discard})

	got, err := m.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "LZ:offer", got)

	got, err = m.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "LZ:second", got)

	_, err = m.Receive(context.Background())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestManualReceiveReassemblesParts(t *testing.T) {
	code := strings.Repeat("abcdef", 10)
	parts, err := protocol.SplitPairingCode(code, 16)
	require.NoError(t, err)
	// Parts may be scanned in any order.
	parts[0], parts[len(parts)-1] = parts[len(parts)-1], parts[0]

	m := NewManual(ManualConfig{In: strings.NewReader(strings.Join(parts, "\n") + "\n"), Out: io.Discard})
	got, err := m.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

func TestManualReceiveHonoursContextAndClose(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	m := NewManual(ManualConfig{In: r, Out: io.Discard})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, m.Close())
	_, err = m.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
