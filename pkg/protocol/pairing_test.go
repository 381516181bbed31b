package protocol

import (
	"encoding/base64"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairingRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewPairing(PairingOffer, "v=0\no=- 1 1 IN IP4 0.0.0.0", "AB12CD34", now)

	code, err := EncodePairing(p)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "LZ:"))

	got, warnings, err := DecodePairing(code, now.Add(time.Minute), DefaultReplayWindow)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, p, got)
}

func TestDecodePairingRawJSONAndLegacyType(t *testing.T) {
	now := time.Now()
	raw := `{"type":"lanbeam-answer","version":"1.0","sdp":"x","timestamp":` +
		strconv.FormatInt(now.UnixMilli(), 10) + `,"deviceId":"D","replyTo":"O"}`

	got, warnings, err := DecodePairing(raw, now, 0)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, PairingAnswer, got.Type)
	assert.Equal(t, "O", got.ReplyTo)
}

func TestDecodePairingWarnings(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewPairing(PairingOffer, "sdp", "dev", now.Add(-11*time.Minute))
	p.Version = "2.0"
	code, err := EncodePairing(p)
	require.NoError(t, err)

	_, warnings, err := DecodePairing(code, now, DefaultReplayWindow)
	require.NoError(t, err)
	assert.Len(t, warnings, 2)
}

func TestDecodePairingRejects(t *testing.T) {
	now := time.Now()
	cases := map[string]string{
		"empty":        "   ",
		"bad base64":   "LZ:***",
		"unknown type": "LZ:" + base64.StdEncoding.EncodeToString([]byte(`{"type":"hello","sdp":"x"}`)),
		"missing sdp":  `{"type":"offer","version":"1.0"}`,
		"not json":     "hello",
	}
	for name, code := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodePairing(code, now, 0)
			require.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestSplitAndReassemblePairingCode(t *testing.T) {
	code := strings.Repeat("abcdefghij", 25)

	parts, err := SplitPairingCode(code, 40)
	require.NoError(t, err)
	require.Len(t, parts, 7)

	// Reverse order plus noise must still reassemble.
	shuffled := []string{"noise"}
	for i := len(parts) - 1; i >= 0; i-- {
		shuffled = append(shuffled, parts[i])
	}
	got := ReassemblePairingCodes(shuffled)
	require.Len(t, got, 1)
	assert.Equal(t, code, got[0])

	incomplete := ReassemblePairingCodes(parts[:3])
	assert.Empty(t, incomplete)
}

func TestSplitPairingCodeShort(t *testing.T) {
	parts, err := SplitPairingCode("short", MaxQRLength)
	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, parts)

	_, ok := ParseCodePart("short")
	assert.False(t, ok)
}
