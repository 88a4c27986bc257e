// Package imaging keeps media under the posting service's size cap.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"
)

// the default ceiling matches the posting service's media limit
const DefaultMaxBytes = 1 << 20

const minQuality = 10

var ErrTooLarge = errors.New("image too large even at minimum quality")

// Normalize returns `data` untouched when it is already within
// `maxBytes`, otherwise re-encodes it as JPEG at decreasing quality
// until it fits. an image that cannot fit even at the quality floor is
// an ErrTooLarge, never an oversized upload.
func Normalize(data []byte, maxBytes int) ([]byte, error) {
	if len(data) <= maxBytes {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	for quality := 90; quality >= minQuality; quality -= 10 {
		var out bytes.Buffer
		err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality})
		if err != nil {
			return nil, fmt.Errorf("encode at quality %d: %w", quality, err)
		}
		if out.Len() <= maxBytes {
			return out.Bytes(), nil
		}
	}
	return nil, ErrTooLarge
}
