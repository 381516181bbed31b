package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// PairingVersion is the pairing payload version written by this implementation.
	PairingVersion = "1.0"
	// DefaultReplayWindow is the age after which a pairing payload is reported as stale.
	DefaultReplayWindow = 10 * time.Minute
	// MaxQRLength is the longest pairing code rendered as a single QR symbol.
	MaxQRLength = 2000

	compressionMarker = "LZ:"
	legacyTypePrefix  = "lanbeam-"
)

// Pairing wraps a handshake blob for the out-of-band signaling path.
type Pairing struct {
	Type      string `json:"type"`
	Version   string `json:"version"`
	SDP       string `json:"sdp"`
	Timestamp int64  `json:"timestamp"`
	DeviceID  string `json:"deviceId"`
	ReplyTo   string `json:"replyTo,omitempty"`
}

// NewPairing builds a pairing payload stamped with now.
func NewPairing(kind, blob, deviceID string, now time.Time) Pairing {
	return Pairing{
		Type:      kind,
		Version:   PairingVersion,
		SDP:       blob,
		Timestamp: now.UnixMilli(),
		DeviceID:  deviceID,
	}
}

// EncodePairing marshals p and wraps it as "LZ:" + base64.
func EncodePairing(p Pairing) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal pairing: %w", err)
	}
	return compressionMarker + base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePairing parses a pairing code in either marker or raw JSON form.
// Unknown types and a missing sdp are errors. A version mismatch or a timestamp
// older than window are returned as warnings; they never fail the decode.
func DecodePairing(code string, now time.Time, window time.Duration) (Pairing, []string, error) {
	var p Pairing
	code = strings.TrimSpace(code)
	if code == "" {
		return p, nil, fmt.Errorf("%w: empty pairing code", ErrProtocol)
	}

	raw := []byte(code)
	if strings.HasPrefix(code, compressionMarker) {
		decoded, err := base64.StdEncoding.DecodeString(code[len(compressionMarker):])
		if err != nil {
			return p, nil, fmt.Errorf("%w: decode pairing code: %v", ErrProtocol, err)
		}
		raw = decoded
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, nil, fmt.Errorf("%w: unmarshal pairing code: %v", ErrProtocol, err)
	}
	p.Type = strings.TrimPrefix(p.Type, legacyTypePrefix)
	if err := p.validate(); err != nil {
		return p, nil, err
	}

	var warnings []string
	if p.Version != PairingVersion {
		warnings = append(warnings, fmt.Sprintf("pairing version %q differs from %q", p.Version, PairingVersion))
	}
	if window <= 0 {
		window = DefaultReplayWindow
	}
	age := now.Sub(time.UnixMilli(p.Timestamp))
	if age > window {
		warnings = append(warnings, fmt.Sprintf("pairing code is %s old", age.Truncate(time.Second)))
	}
	return p, warnings, nil
}

func (p Pairing) validate() error {
	switch p.Type {
	case PairingOffer, PairingAnswer:
	default:
		return fmt.Errorf("%w: unknown pairing type %q", ErrProtocol, p.Type)
	}
	if p.SDP == "" {
		return fmt.Errorf("%w: pairing payload without sdp", ErrProtocol)
	}
	return nil
}

// CodePart is one fragment of a pairing code too long for a single QR symbol.
type CodePart struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Total int    `json:"total"`
	Data  string `json:"data"`
}

// SplitPairingCode fragments code into JSON-encoded parts of at most maxLen data
// characters each. Codes that already fit are returned unchanged as a single element.
func SplitPairingCode(code string, maxLen int) ([]string, error) {
	if maxLen <= 0 {
		return nil, errors.New("maxLen must be positive")
	}
	if len(code) <= maxLen {
		return []string{code}, nil
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	total := (len(code) + maxLen - 1) / maxLen
	parts := make([]string, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxLen
		end := min(start+maxLen, len(code))
		raw, err := json.Marshal(CodePart{ID: id, Index: i, Total: total, Data: code[start:end]})
		if err != nil {
			return nil, fmt.Errorf("marshal code part: %w", err)
		}
		parts = append(parts, string(raw))
	}
	return parts, nil
}

// ParseCodePart reports whether s is a fragment produced by SplitPairingCode.
func ParseCodePart(s string) (CodePart, bool) {
	var part CodePart
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return part, false
	}
	if err := json.Unmarshal([]byte(s), &part); err != nil {
		return part, false
	}
	if part.ID == "" || part.Total <= 0 || part.Index < 0 || part.Index >= part.Total {
		return part, false
	}
	return part, true
}

// ReassemblePairingCodes groups parts by id and returns every complete code.
// Incomplete groups are skipped.
func ReassemblePairingCodes(parts []string) []string {
	groups := make(map[string]map[int]CodePart)
	totals := make(map[string]int)
	var order []string
	for _, s := range parts {
		part, ok := ParseCodePart(s)
		if !ok {
			continue
		}
		if _, seen := groups[part.ID]; !seen {
			groups[part.ID] = make(map[int]CodePart)
			totals[part.ID] = part.Total
			order = append(order, part.ID)
		}
		groups[part.ID][part.Index] = part
	}

	var out []string
	for _, id := range order {
		group := groups[id]
		total := totals[id]
		if len(group) != total {
			continue
		}
		indexes := make([]int, 0, total)
		for idx := range group {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		var b strings.Builder
		for _, idx := range indexes {
			b.WriteString(group[idx].Data)
		}
		out = append(out, b.String())
	}
	return out
}
