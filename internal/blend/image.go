package blend

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

// ToImage converts decoded pixels [1, 3, H, W] in [-1, 1] to an opaque
// 8-bit image.
func ToImage(pixels *tensor.Tensor) (*image.NRGBA, error) {
	if len(pixels.Shape) != 4 || pixels.Shape[0] != 1 || pixels.Shape[1] != 3 {
		return nil, fmt.Errorf("%w: decoded image has shape %v", tensor.ErrShape, pixels.Shape)
	}
	h, w := pixels.Shape[2], pixels.Shape[3]
	plane := h * w

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range plane {
		px := img.Pix[4*i : 4*i+4]
		for c := range 3 {
			px[c] = toByte(pixels.Data[c*plane+i])
		}
		px[3] = 0xff
	}
	return img, nil
}

func toByte(v float32) uint8 {
	x := float64(v)/2 + 0.5
	if math.IsNaN(x) {
		return 0
	}
	x = math.Max(0, math.Min(1, x))
	return uint8(math.Round(x * 255))
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
