// Package overlay annotates frames with alert text.
package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	// WarningText is drawn on every frame classified as violent
	WarningText = "VIOLENCE DETECTED!"

	// WarningScale enlarges the 7x13 bitmap face so strokes are two pixels wide
	WarningScale = 2
)

var (
	// WarningOrigin is the left end of the text baseline
	WarningOrigin = image.Pt(10, 50)

	// WarningColor is pure red
	WarningColor = color.RGBA{R: 255, A: 255}
)

// DrawWarning draws the violence warning onto img in place
func DrawWarning(img *image.RGBA) {
	DrawText(img, WarningText, WarningOrigin, WarningColor, WarningScale)
}

// DrawText draws text with its baseline starting at origin, scaled by an
// integer factor. Text falling outside img is clipped.
func DrawText(img *image.RGBA, text string, origin image.Point, c color.Color, scale int) {
	if img == nil || text == "" {
		return
	}
	if scale < 1 {
		scale = 1
	}

	face := basicfont.Face7x13
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := ascent + metrics.Descent.Ceil()
	width := font.MeasureString(face, text).Ceil()

	// render at 1x onto a transparent layer, then blow it up
	layer := image.NewRGBA(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  layer,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(ascent)},
	}
	d.DrawString(text)

	top := origin.Y - ascent*scale
	dst := image.Rect(origin.X, top, origin.X+width*scale, top+height*scale)
	draw.NearestNeighbor.Scale(img, dst, layer, layer.Bounds(), draw.Over, nil)
}
