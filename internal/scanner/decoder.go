package scanner

import (
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Decoder turns a frame into at most one code. Implementations are stateless.
type Decoder interface {
	Decode(frame Frame) (string, bool)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(frame Frame) (string, bool)

// Decode calls f.
func (f DecoderFunc) Decode(frame Frame) (string, bool) { return f(frame) }

// ZXingDecoder reads QR codes and Code 128 labels. Readers are tried in
// order and the first hit wins; multiple codes in one frame are not
// extracted.
type ZXingDecoder struct {
	readers []gozxing.Reader
	hints   map[gozxing.DecodeHintType]interface{}
}

// NewZXingDecoder returns a decoder for the label formats printed on property tags.
func NewZXingDecoder() *ZXingDecoder {
	return &ZXingDecoder{
		readers: []gozxing.Reader{
			qrcode.NewQRCodeReader(),
			oned.NewCode128Reader(),
		},
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode implements Decoder.
func (d *ZXingDecoder) Decode(frame Frame) (string, bool) {
	if frame.Image == nil {
		return "", false
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(frame.Image)
	if err != nil {
		return "", false
	}
	for _, r := range d.readers {
		result, err := r.Decode(bmp, d.hints)
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(result.GetText()); text != "" {
			return text, true
		}
	}
	return "", false
}
