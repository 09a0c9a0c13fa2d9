// Package phash computes a perceptual fingerprint of an artwork image.
//
// The fingerprint is a 256-bit gradient hash: the image is grayscaled,
// resampled to 17x16, and each of the 16x16 bits records whether a pixel
// is brighter than its left neighbor. Two renderings of the same pixels
// (for example a re-encoded PNG) produce the same fingerprint; visually
// similar images produce fingerprints at small Hamming distance.
package phash

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	stddraw "image/draw"
	"math/bits"
	"os"

	xdraw "golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	hashWidth  = 16
	hashHeight = 16

	// Size is the fingerprint length in bytes (256 bits).
	Size = hashWidth * hashHeight / 8
)

// ErrInvalidEncoding reports a base64 form that does not decode to a
// 256-bit fingerprint.
var ErrInvalidEncoding = errors.New("phash: invalid fingerprint encoding")

// Hash is a 256-bit perceptual fingerprint.
type Hash [Size]byte

// FromImage computes the fingerprint of decoded pixels.
func FromImage(img image.Image) Hash {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	stddraw.Draw(gray, gray.Bounds(), img, b.Min, stddraw.Src)

	// One extra column so every hash bit has a left neighbor.
	small := image.NewGray(image.Rect(0, 0, hashWidth+1, hashHeight))
	xdraw.CatmullRom.Scale(small, small.Bounds(), gray, gray.Bounds(), xdraw.Src, nil)

	var h Hash
	for y := 0; y < hashHeight; y++ {
		for x := 0; x < hashWidth; x++ {
			left := small.GrayAt(x, y).Y
			right := small.GrayAt(x+1, y).Y
			if right > left {
				idx := y*hashWidth + x
				h[idx/8] |= 1 << (7 - idx%8)
			}
		}
	}
	return h
}

// FromFile decodes the image at path and computes its fingerprint.
// Registered formats: png, jpeg, gif, bmp, tiff, webp. Unreadable or
// undecodable files are an error; there is no fallback fingerprint.
func FromFile(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hash{}, fmt.Errorf("phash: open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Hash{}, fmt.Errorf("phash: decode %s: %w", path, err)
	}
	return FromImage(img), nil
}

// Base64 returns the encoding embedded in proofs.
func (h Hash) Base64() string {
	return base64.StdEncoding.EncodeToString(h[:])
}

// FromBase64 parses the proof encoding back into a fingerprint.
func FromBase64(s string) (Hash, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if len(raw) != Size {
		return Hash{}, fmt.Errorf("%w: got %d bytes", ErrInvalidEncoding, len(raw))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

// Distance returns the Hamming distance between two fingerprints, in bits.
func Distance(a, b Hash) int {
	d := 0
	for i := range a {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d
}
