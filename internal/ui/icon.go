package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

// iconBytes draws the tray icon: a ring with a filled quarter, like a
// progress dial.
var iconBytes = sync.OnceValue(func() []byte {
	const size = 32
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	fg := color.NRGBA{R: 235, G: 140, B: 40, A: 255}

	c := float64(size-1) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			d := dx*dx + dy*dy
			ring := d <= 15*15 && d >= 12*12
			quarter := d < 12*12 && dx >= 0 && dy <= 0
			if ring || quarter {
				img.SetNRGBA(x, y, fg)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
})
