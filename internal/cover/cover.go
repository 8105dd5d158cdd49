// Package cover decodes album cover thumbnails from native readable streams.
package cover

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG decoder for cover art
	_ "image/png"  // PNG decoder for cover art
	"io"
	"log/slog"

	"github.com/nfnt/resize"
)

// Stream is a readable native image stream. Size is the declared byte
// length of the stream; Decode reads exactly that many bytes.
type Stream interface {
	CanRead() bool
	Size() int64
	ContentType() string
	io.Reader
}

// ErrNotReadable is returned when the stream reports it cannot be read.
var ErrNotReadable = errors.New("cover: stream is not readable")

// maxStreamSize guards against a native stream declaring an absurd length.
const maxStreamSize = 32 << 20

// Decode reads a thumbnail stream and decodes it into an image, guessing
// the container format from the data.
func Decode(s Stream) (image.Image, error) {
	if !s.CanRead() {
		return nil, ErrNotReadable
	}

	size := s.Size()
	if size <= 0 || size > maxStreamSize {
		return nil, fmt.Errorf("cover: invalid stream size %d", size)
	}

	slog.Debug("decoding thumbnail", "content_type", s.ContentType(), "size", size)

	buf := make([]byte, size)
	if _, err := io.ReadFull(s, buf); err != nil {
		return nil, fmt.Errorf("cover: short read: %w", err)
	}

	img, format, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("cover: decode: %w", err)
	}
	slog.Debug("decoded thumbnail", "format", format)
	return img, nil
}

// Scale downscales img so neither dimension exceeds max, preserving the
// aspect ratio. Images already within bounds are returned unchanged.
func Scale(img image.Image, max int) image.Image {
	if max <= 0 {
		return img
	}
	bounds := img.Bounds()
	if bounds.Dx() <= max && bounds.Dy() <= max {
		return img
	}
	if bounds.Dx() >= bounds.Dy() {
		return resize.Resize(uint(max), 0, img, resize.Lanczos3)
	}
	return resize.Resize(0, uint(max), img, resize.Lanczos3)
}
