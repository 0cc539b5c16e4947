package framestore

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/lapseforge/lapseforge/internal/lapse"
)

// JPEGQuality is used whenever a frame is re-encoded.
const JPEGQuality = 100

// Decode decodes any registered still format (jpeg, png, bmp, tiff, webp).
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode frame: %w", err)
	}
	return img, format, nil
}

// DecodeSize reads only the header of data.
func DecodeSize(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode frame header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Rotate decodes data, rotates it clockwise by r and re-encodes it in the
// source format (png stays png, everything else becomes jpeg).
func Rotate(data []byte, r lapse.Rotation) ([]byte, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Encode(RotateImage(img, r), format)
}

// Encode writes img as png when format is "png" and as full quality jpeg otherwise.
func Encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if format == "png" {
		err = png.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// ToJPEG transcodes non-jpeg input so stored frames always match their extension.
func ToJPEG(data []byte) ([]byte, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if format == "jpeg" {
		return data, nil
	}
	return Encode(img, "jpeg")
}

// ToRGBA returns img as a zero-origin *image.RGBA, copying only when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// RotateImage rotates img clockwise about its center. The canvas swaps
// width and height for quarter turns.
func RotateImage(img image.Image, r lapse.Rotation) *image.RGBA {
	src := ToRGBA(img)
	if r == lapse.RotationNone {
		return src
	}
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dw, dh := r.CanvasSize(w, h)
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch r {
			case lapse.Rotation90:
				dx, dy = h-1-y, x
			case lapse.Rotation180:
				dx, dy = w-1-x, h-1-y
			case lapse.Rotation270:
				dx, dy = y, w-1-x
			}
			si := src.PixOffset(x, y)
			di := dst.PixOffset(dx, dy)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}

// Fit scales img to fit inside a w×h black canvas preserving aspect ratio.
// Images that already match are returned without scaling.
func Fit(img image.Image, w, h int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return ToRGBA(img)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)

	scale := min(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
	sw := max(1, int(float64(b.Dx())*scale))
	sh := max(1, int(float64(b.Dy())*scale))
	ox := (w - sw) / 2
	oy := (h - sh) / 2

	draw.CatmullRom.Scale(dst, image.Rect(ox, oy, ox+sw, oy+sh), img, b, draw.Src, nil)
	return dst
}
