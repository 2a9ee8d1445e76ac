package stream

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage()))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func encodeJPEG(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(), nil))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeFrameRawBase64(t *testing.T) {
	img, err := DecodeFrame(encodeJPEG(t))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
}

func TestDecodeFrameDataURL(t *testing.T) {
	img, err := DecodeFrame("data:image/png;base64," + encodePNG(t))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
}

func TestDecodeFrameInvalidBase64(t *testing.T) {
	_, err := DecodeFrame("not-base64!!!")
	assert.Error(t, err)
}

func TestDecodeFrameNotAnImage(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("plain text"))
	_, err := DecodeFrame(payload)
	assert.Error(t, err)
}

func TestDecodeFrameMalformedDataURL(t *testing.T) {
	_, err := DecodeFrame("data:image/png;base64")
	assert.Error(t, err)
}
