package vision

import (
	"image"

	"golang.org/x/image/draw"
)

// norm is a per-channel (pixel - mean) / std transform.
type norm struct {
	mean, std float32
}

var (
	detNorm    = norm{mean: 127.5, std: 128}
	attrNorm   = norm{mean: 0, std: 1}
	beautyNorm = norm{mean: 127.5, std: 127.5}
)

// toCHW resizes img to size x size and lays it out channel-first.
func toCHW(img image.Image, size int, n norm) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := size * size
	out := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		p := dst.Pix[i*4 : i*4+3]
		out[i] = (float32(p[0]) - n.mean) / n.std
		out[plane+i] = (float32(p[1]) - n.mean) / n.std
		out[2*plane+i] = (float32(p[2]) - n.mean) / n.std
	}
	return out
}

// faceRect pads the box by 10% on each side and clips it to bounds.
// The result is empty when the box lies outside the image.
func faceRect(bbox [4]float32, bounds image.Rectangle) image.Rectangle {
	w, h := bbox[2]-bbox[0], bbox[3]-bbox[1]
	if w <= 0 || h <= 0 {
		return image.Rectangle{}
	}
	padW, padH := w*0.1, h*0.1
	r := image.Rect(
		int(bbox[0]-padW), int(bbox[1]-padH),
		int(bbox[2]+padW), int(bbox[3]+padH),
	).Add(bounds.Min)
	return r.Intersect(bounds)
}

// cropFace copies the padded face region into a fresh RGBA image.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	r := faceRect(bbox, img.Bounds())
	if r.Empty() {
		return nil
	}
	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(crop, image.Point{}, img, r, draw.Src, nil)
	return crop
}
