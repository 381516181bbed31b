package signal

import (
	"fmt"

	"github.com/yeqown/go-qrcode/v2"
	"github.com/yeqown/go-qrcode/writer/terminal"
)

// RenderTerminalQR prints payload as a QR symbol on the controlling terminal.
func RenderTerminalQR(payload string) error {
	qrc, err := qrcode.New(payload)
	if err != nil {
		return fmt.Errorf("encode qr: %w", err)
	}
	if err := qrc.Save(terminal.New()); err != nil {
		return fmt.Errorf("draw qr: %w", err)
	}
	return nil
}
