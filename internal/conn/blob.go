package conn

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/sheerbytes/lanbeam/pkg/protocol"
)

// CompressBlob shrinks a session description for out-of-band exchange.
// Blank lines and non-host candidates are dropped; every other line is kept.
func CompressBlob(desc string) string {
	lines := strings.Split(desc, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "a=candidate") && !strings.Contains(line, "typ host") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// DecompressBlob restores CRLF line endings.
func DecompressBlob(blob string) string {
	lines := strings.Split(strings.TrimSpace(blob), "\n")
	var b strings.Builder
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return b.String()
}

// ParseBlob decompresses blob and parses it as a session description.
func ParseBlob(blob string) (string, *sdp.SessionDescription, error) {
	restored := DecompressBlob(blob)
	if restored == "" {
		return "", nil, fmt.Errorf("%w: empty handshake blob", protocol.ErrProtocol)
	}
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(restored)); err != nil {
		return "", nil, fmt.Errorf("%w: parse handshake blob: %v", protocol.ErrProtocol, err)
	}
	if len(sd.MediaDescriptions) == 0 {
		return "", nil, fmt.Errorf("%w: handshake blob has no media section", protocol.ErrProtocol)
	}
	return restored, &sd, nil
}

// HostCandidates lists the address:port of every host candidate in sd.
func HostCandidates(sd *sdp.SessionDescription) []string {
	var out []string
	for _, md := range sd.MediaDescriptions {
		for _, attr := range md.Attributes {
			if attr.Key != "candidate" {
				continue
			}
			// foundation component transport priority address port typ type ...
			fields := strings.Fields(attr.Value)
			if len(fields) < 8 || fields[6] != "typ" || fields[7] != "host" {
				continue
			}
			out = append(out, fields[4]+":"+fields[5])
		}
	}
	return out
}
