// Package testutil builds synthetic images and, with the integration tag,
// throwaway Postgres databases for tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// SolidPNG encodes a w x h image filled with one grey level.
func SolidPNG(t testing.TB, w, h int, grey uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = grey
	}
	return encode(t, img)
}

// SplitPNG encodes an image whose left half is left and right half is right.
func SplitPNG(t testing.TB, w, h int, left, right uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := right
			if x < w/2 {
				v = left
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return encode(t, img)
}

func encode(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
