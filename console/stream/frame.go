package stream

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	_ "image/jpeg"
	_ "image/png"
)

// DecodeFrame turns an inline-encoded still image into a drawable raster.
// Accepts both bare base64 payloads and full data URLs
// ("data:image/jpeg;base64,...").
func DecodeFrame(data string) (image.Image, error) {
	payload := data
	if strings.HasPrefix(data, "data:") {
		comma := strings.Index(data, ",")
		if comma < 0 {
			return nil, fmt.Errorf("invalid data URL format")
		}
		payload = data[comma+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame payload: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame image: %w", err)
	}
	return img, nil
}
