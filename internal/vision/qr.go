package vision

import (
	"fmt"
	"image"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// QRDecoder reads at most one QR symbol per frame.
type QRDecoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

func NewQRDecoder() *QRDecoder {
	return &QRDecoder{hints: map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}}
}

// Decode returns the payload of the QR code in img. A frame without a
// readable symbol yields no payloads and no error.
func (d *QRDecoder) Decode(img image.Image) ([]string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("binarize frame: %w", err)
	}
	// Readers are stateful; one per call.
	res, err := qrcode.NewQRCodeReader().Decode(bmp, d.hints)
	if err != nil {
		return nil, nil
	}
	text := strings.TrimSpace(res.GetText())
	if text == "" {
		return nil, nil
	}
	return []string{text}, nil
}
