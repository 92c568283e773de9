// Package fingerprint turns decoded images and video frames into compact
// representations used for similarity search.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/corona10/goimagehash"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUndecodable is returned when image bytes cannot be decoded.
var ErrUndecodable = errors.New("undecodable image")

// ThumbnailSize is the longest side of media thumbnails, in pixels.
const ThumbnailSize = 200

// DecodeImage decodes JPEG, PNG, GIF, BMP, TIFF and WebP data.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return img, nil
}

// PerceptualHash returns the 64-bit DCT perceptual hash of img as 16
// lowercase hex characters.
func PerceptualHash(img image.Image) (string, error) {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", fmt.Errorf("computing perceptual hash: %w", err)
	}
	return fmt.Sprintf("%016x", h.GetHash()), nil
}

// SHA256 returns the hex digest of data.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Resize scales img so its longest side is at most maxSide, keeping the
// aspect ratio. Images already small enough are returned unchanged.
func Resize(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return img
	}
	nw, nh := maxSide, maxSide
	if w > h {
		nh = max(1, h*maxSide/w)
	} else {
		nw = max(1, w*maxSide/h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Thumbnail encodes a JPEG thumbnail of img whose longest side is maxSide.
func Thumbnail(img image.Image, maxSide int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Resize(img, maxSide), &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// Crop copies the rectangle r out of img. r is clipped to the image bounds;
// an empty intersection yields nil.
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
