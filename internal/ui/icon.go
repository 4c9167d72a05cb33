package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

const iconSize = 22

var iconBytes = sync.OnceValue(func() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))
	fill := color.NRGBA{R: 0x2f, G: 0x80, B: 0xed, A: 0xff}
	// A film frame: solid border, hollow middle with a marker bar.
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			border := x < 3 || y < 3 || x >= iconSize-3 || y >= iconSize-3
			marker := y >= 9 && y < 13 && x >= 6 && x < iconSize-6
			if border || marker {
				img.SetNRGBA(x, y, fill)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
})
