// Package imageproc turns encoded images into CLIP pixel_values:
// RGB, shortest side resized to Size with Catmull-Rom, center crop,
// mean/std normalization, channel-first float32.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Size is the CLIP input resolution.
const Size = 224

// MaxPixels bounds width*height of an accepted image; the header is checked
// before any pixel data is decoded.
var MaxPixels = 89_478_485

// CLIP normalization constants.
var (
	Mean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	Std  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

type decodeError struct{ err error }

func (e decodeError) Error() string { return "decode image: " + e.err.Error() }
func (e decodeError) Unwrap() error { return e.err }

// IsDecodeError reports whether err means the input was not a readable image.
func IsDecodeError(err error) bool {
	var d decodeError
	return errors.As(err, &d)
}

type tooLargeError struct{ w, h int }

func (e tooLargeError) Error() string {
	return fmt.Sprintf("image %dx%d exceeds %d pixels", e.w, e.h, MaxPixels)
}

// IsTooLarge reports whether err rejected an image for its dimensions.
func IsTooLarge(err error) bool {
	var t tooLargeError
	return errors.As(err, &t)
}

// Decode reads any registered image format.
func Decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError{err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, decodeError{err: errors.New("empty image")}
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(MaxPixels) {
		return nil, tooLargeError{w: cfg.Width, h: cfg.Height}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError{err: err}
	}
	return img, nil
}

// PixelValues decodes data and returns a 3*size*size CHW slice.
func PixelValues(data []byte, size int) ([]float32, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Preprocess(img, size), nil
}

// Preprocess resizes, crops and normalizes img into CHW float32.
func Preprocess(img image.Image, size int) []float32 {
	if size <= 0 {
		size = Size
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	nw, nh := size, size
	if w < h {
		nh = scaled(h, size, w)
	} else {
		nw = scaled(w, size, h)
	}
	resized := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, b, draw.Src, nil)

	x0 := (nw - size) / 2
	y0 := (nh - size) / 2
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := resized.Pix[(y0+y)*resized.Stride:]
		for x := 0; x < size; x++ {
			px := row[(x0+x)*4 : (x0+x)*4+4]
			r, g, bl := unpremultiply(px[0], px[1], px[2], px[3])
			i := y*size + x
			out[i] = (float32(r)/255 - Mean[0]) / Std[0]
			out[plane+i] = (float32(g)/255 - Mean[1]) / Std[1]
			out[2*plane+i] = (float32(bl)/255 - Mean[2]) / Std[2]
		}
	}
	return out
}

// scaled returns round(long*size/short), never below size.
func scaled(long, size, short int) int {
	n := (long*size*2 + short) / (2 * short)
	if n < size {
		n = size
	}
	return n
}

func unpremultiply(r, g, b, a uint8) (uint8, uint8, uint8) {
	if a == 0xff || a == 0 {
		return r, g, b
	}
	f := func(c uint8) uint8 {
		v := int(c) * 0xff / int(a)
		if v > 0xff {
			v = 0xff
		}
		return uint8(v)
	}
	return f(r), f(g), f(b)
}

// Shape returns the NCHW shape for n images.
func Shape(n, size int) []int64 {
	if size <= 0 {
		size = Size
	}
	return []int64{int64(n), 3, int64(size), int64(size)}
}
