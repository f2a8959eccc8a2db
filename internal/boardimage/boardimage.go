// Package boardimage holds the pure byte-transform encoders the HTTP
// surface calls on a board snapshot: gzip for the raw-grid endpoint and
// lossless WebP for the image endpoint. Spec.md §1 places image
// re-encoding and gzip compression outside the core; this package is the
// HTTP-layer adapter spec.md's interface section expects to exist.
package boardimage

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"image"

	"github.com/HugoSmits86/nativewebp"
)

// Gzip compresses raw board bytes for the getboard endpoint's
// Content-Encoding: gzip response.
func Gzip(pixels []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(pixels); err != nil {
		w.Close()
		return nil, fmt.Errorf("boardimage: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("boardimage: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeLosslessWebP builds a lossless WebP image from a W×H×3 raw RGB
// grid, for the getimage endpoint.
func EncodeLosslessWebP(pixels []byte, width, height int) ([]byte, error) {
	if len(pixels) != width*height*3 {
		return nil, fmt.Errorf("boardimage: expected %d bytes for %dx%d, got %d", width*height*3, width, height, len(pixels))
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := (y*width + x) * 3
			di := img.PixOffset(x, y)
			img.Pix[di] = pixels[off]
			img.Pix[di+1] = pixels[off+1]
			img.Pix[di+2] = pixels[off+2]
			img.Pix[di+3] = 255
		}
	}

	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, img, nil); err != nil {
		return nil, fmt.Errorf("boardimage: webp encode: %w", err)
	}
	return buf.Bytes(), nil
}
