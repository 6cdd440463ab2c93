package delivery

import (
	"github.com/go-faster/errors"
	"github.com/skip2/go-qrcode"
)

// DefaultQRSize is the PNG edge length in pixels.
const DefaultQRSize = 256

// QRPayload returns the content encoded in an order's QR code. Only the code
// is embedded; everything else is looked up server-side on scan.
func QRPayload(orderCode string) string {
	return NormalizeCode(orderCode)
}

// RenderQR encodes the order code as a PNG image.
func RenderQR(orderCode string, size int) ([]byte, error) {
	payload := QRPayload(orderCode)
	if payload == "" {
		return nil, errors.New("empty order code")
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Wrap(err, "encode qr")
	}
	return png, nil
}
