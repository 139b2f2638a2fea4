package compositor

import (
	"image"
	"image/color"
)

// Representation discriminates how CanvasImage.Pix encodes pixels. It is an
// enum field beside CanvasImage's Palette and TransparentIndex fields, not a
// sum type: the compositor keeps Palette nil and TransparentIndex at
// noTransparency on truecolor canvases, but the type does not rule out other
// combinations.
type Representation int

const (
	// RepPalette stores one palette index per pixel in Pix.
	RepPalette Representation = iota
	// RepTruecolor stores four RGBA bytes per pixel in Pix.
	RepTruecolor
)

// noTransparency is the sentinel TransparentIndex value meaning "no pixel in
// this canvas is transparent".
const noTransparency = -1

// CanvasImage is the composited canvas returned from State.NextFrame. It is
// a borrowed view: valid until the next NextFrame or Close call.
type CanvasImage struct {
	Width, Height     int
	Representation    Representation
	Palette           *Palette // nil when Representation == RepTruecolor
	TransparentIndex  int      // noTransparency when absent; always noTransparency for truecolor
	UsedLocalPalette  bool
	DelayCentiseconds uint16
	Pix               []byte // row-major, top-to-bottom, no padding
}

func (c *CanvasImage) bytesPerPixel() int {
	if c.Representation == RepTruecolor {
		return 4
	}
	return 1
}

// newCanvas allocates a screen-sized palette canvas with an empty placeholder
// palette, transparent index unset, and a zeroed raster: the state required
// at open time, before any frame has been composited.
func newCanvas(width, height int) *CanvasImage {
	return &CanvasImage{
		Width:            width,
		Height:           height,
		Representation:   RepPalette,
		Palette:          &Palette{},
		TransparentIndex: noTransparency,
		Pix:              make([]byte, width*height),
	}
}

// clone deep-copies the canvas, used to snapshot the canvas state an
// upcoming RestorePrevious disposal will roll back to. The copy owns its own
// palette and pixel buffer.
func (c *CanvasImage) clone() *CanvasImage {
	dst := &CanvasImage{
		Width:             c.Width,
		Height:            c.Height,
		Representation:    c.Representation,
		TransparentIndex:  c.TransparentIndex,
		UsedLocalPalette:  c.UsedLocalPalette,
		DelayCentiseconds: c.DelayCentiseconds,
		Pix:               append([]byte(nil), c.Pix...),
	}
	if c.Palette != nil {
		dst.Palette = &Palette{
			Colors:       append([]color.RGBA(nil), c.Palette.Colors...),
			BitsPerPixel: c.Palette.BitsPerPixel,
		}
	}
	return dst
}

// upgradeToTruecolor is a one-way, idempotent transition: every palette
// pixel becomes an RGBA quad, black if the index exceeds the palette size,
// alpha 0 iff the pixel was the transparent index.
func (c *CanvasImage) upgradeToTruecolor() {
	if c.Representation == RepTruecolor {
		return
	}
	out := make([]byte, c.Width*c.Height*4)
	for i, idx := range c.Pix {
		rgb := c.Palette.at(int(idx))
		a := byte(255)
		if int(idx) == c.TransparentIndex {
			a = 0
		}
		out[4*i] = rgb.R
		out[4*i+1] = rgb.G
		out[4*i+2] = rgb.B
		out[4*i+3] = a
	}
	c.Representation = RepTruecolor
	c.Palette = nil
	c.Pix = out
	c.TransparentIndex = noTransparency
}

// rectView borrows a writable rectangular subview of the canvas raster, so
// that clear/merge operations can iterate rows without recomputing strides
// at every call site.
type rectView struct {
	canvas *CanvasImage
	rect   image.Rectangle
}

func (c *CanvasImage) view(rect image.Rectangle) rectView {
	return rectView{canvas: c, rect: rect}
}

// row returns the bytes for row y (0-based, relative to the view's rect) in
// the canvas's current bytes-per-pixel.
func (v rectView) row(y int) []byte {
	bpp := v.canvas.bytesPerPixel()
	rowStart := ((v.rect.Min.Y+y)*v.canvas.Width + v.rect.Min.X) * bpp
	rowLen := v.rect.Dx() * bpp
	return v.canvas.Pix[rowStart : rowStart+rowLen]
}

func (v rectView) height() int { return v.rect.Dy() }
