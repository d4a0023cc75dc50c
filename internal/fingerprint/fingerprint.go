// Package fingerprint derives the identity of an uploaded image: an exact
// content hash, a 64-bit average hash and the greyscale grid used for
// near-duplicate comparison.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// HashSize is the side of the average-hash thumbnail (8x8 = 64 bits).
const HashSize = 8

// Result is what Compute knows about one payload. Fingerprint and Grid are
// nil when the bytes do not decode as an image.
type Result struct {
	ContentHash string
	Fingerprint *uint64
	Grid        []uint8
}

// Decoded reports whether the payload decoded and perceptual data is present.
func (r Result) Decoded() bool {
	return r.Fingerprint != nil
}

// Compute hashes raw and, if it decodes, derives the perceptual fingerprint
// and the comparison grid. A decode failure is not an error.
func Compute(raw []byte) Result {
	res := Result{ContentHash: ContentHash(raw)}
	img, err := Decode(raw)
	if err != nil {
		return res
	}
	fp := AverageHash(img)
	res.Fingerprint = &fp
	res.Grid = GreyGrid(img, GridSize)
	return res
}

// ContentHash is the hex SHA-256 of the exact bytes.
func ContentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func Decode(raw []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// AverageHash downsamples to 8x8 greyscale and sets a bit for every cell at
// or above the mean, row-major, most significant bit first.
func AverageHash(img image.Image) uint64 {
	cells := GreyGrid(img, HashSize)

	var sum int
	for _, v := range cells {
		sum += int(v)
	}

	var hash uint64
	for i, v := range cells {
		// v >= sum/64 without losing the fraction
		if int(v)*len(cells) >= sum {
			hash |= 1 << (63 - i)
		}
	}
	return hash
}

func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Format renders a fingerprint the way it is logged and exposed.
func Format(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}

// GreyGrid scales img to size x size and returns BT.601 luma values,
// row-major.
func GreyGrid(img image.Image, size int) []uint8 {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	out := make([]uint8, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := dst.PixOffset(x, y)
			r, g, b := dst.Pix[off], dst.Pix[off+1], dst.Pix[off+2]
			out[y*size+x] = uint8((299*int(r) + 587*int(g) + 114*int(b) + 500) / 1000)
		}
	}
	return out
}
