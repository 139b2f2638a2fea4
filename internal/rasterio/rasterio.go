// Package rasterio turns a composited canvas frame into a standard library
// image.Image and writes it out as PNG or JPEG. PNG carries palette
// transparency through image/png's native tRNS support; JPEG has no
// transparency, so transparent pixels are flattened to white instead.
package rasterio

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/nextframe/gifsplit/compositor"
)

// ToImage converts a composited canvas frame to a standard library
// image.Image: *image.Paletted (with per-entry alpha for the transparent
// index, if any) when the frame is still palette-represented, or
// *image.NRGBA when it has been upgraded to truecolor.
func ToImage(c *compositor.CanvasImage) (image.Image, error) {
	if c == nil {
		return nil, fmt.Errorf("rasterio: nil canvas frame")
	}
	bounds := image.Rect(0, 0, c.Width, c.Height)

	if c.Representation == compositor.RepTruecolor {
		img := &image.NRGBA{
			Pix:    c.Pix,
			Stride: 4 * c.Width,
			Rect:   bounds,
		}
		return img, nil
	}

	if c.Palette == nil {
		return nil, fmt.Errorf("rasterio: palette frame has no palette")
	}
	pal := make(color.Palette, c.Palette.Len())
	for i, rgb := range c.Palette.Colors {
		a := uint8(255)
		if i == c.TransparentIndex {
			a = 0
		}
		pal[i] = color.NRGBA{R: rgb.R, G: rgb.G, B: rgb.B, A: a}
	}
	img := &image.Paletted{
		Pix:     c.Pix,
		Stride:  c.Width,
		Rect:    bounds,
		Palette: pal,
	}
	return img, nil
}

// WritePNG encodes a composited canvas frame as PNG. Palette frames keep
// their indexed representation and palette-level transparency; truecolor
// frames are written with a full alpha channel.
func WritePNG(w io.Writer, c *compositor.CanvasImage) error {
	img, err := ToImage(c)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("rasterio: encoding PNG: %w", err)
	}
	return nil
}

// JPEGOptions configures JPEG output. Quality is 1-100 per image/jpeg.
type JPEGOptions struct {
	Quality int
}

// WriteJPEG encodes a composited canvas frame as JPEG. JPEG has no alpha
// channel, so transparent pixels (palette index equal to TransparentIndex,
// or truecolor alpha 0) are flattened to white before encoding.
func WriteJPEG(w io.Writer, c *compositor.CanvasImage, opts JPEGOptions) error {
	rgb, err := flattenToOpaqueRGBA(c)
	if err != nil {
		return err
	}
	q := opts.Quality
	if q <= 0 {
		q = jpeg.DefaultQuality
	}
	if err := jpeg.Encode(w, rgb, &jpeg.Options{Quality: q}); err != nil {
		return fmt.Errorf("rasterio: encoding JPEG: %w", err)
	}
	return nil
}

// flattenToOpaqueRGBA builds an *image.RGBA with every originally-transparent
// pixel set to opaque white, ready for a lossy encoder with no alpha
// support.
func flattenToOpaqueRGBA(c *compositor.CanvasImage) (*image.RGBA, error) {
	if c == nil {
		return nil, fmt.Errorf("rasterio: nil canvas frame")
	}
	out := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	n := c.Width * c.Height

	switch c.Representation {
	case compositor.RepTruecolor:
		for i := 0; i < n; i++ {
			r, g, b, a := c.Pix[4*i], c.Pix[4*i+1], c.Pix[4*i+2], c.Pix[4*i+3]
			if a == 0 {
				r, g, b = 255, 255, 255
			}
			out.Pix[4*i] = r
			out.Pix[4*i+1] = g
			out.Pix[4*i+2] = b
			out.Pix[4*i+3] = 255
		}
	default:
		if c.Palette == nil {
			return nil, fmt.Errorf("rasterio: palette frame has no palette")
		}
		for i := 0; i < n; i++ {
			idx := int(c.Pix[i])
			var rgb color.RGBA
			switch {
			case idx == c.TransparentIndex:
				rgb = color.RGBA{R: 255, G: 255, B: 255}
			case idx >= 0 && idx < len(c.Palette.Colors):
				rgb = c.Palette.Colors[idx]
			}
			out.Pix[4*i] = rgb.R
			out.Pix[4*i+1] = rgb.G
			out.Pix[4*i+2] = rgb.B
			out.Pix[4*i+3] = 255
		}
	}
	return out, nil
}
