// Package compositor implements the GIF frame compositor: it turns a stream
// of GIF records (graphics-control extensions, application extensions, image
// descriptors) into a sequence of fully composited canvas images, applying
// disposal, deinterlacing, and the palette/truecolor representation choice.
//
// The package does not read GIF bytes itself. It consumes a pull-style
// Decoder (see pump.go) that the caller supplies; internal/bitstream
// provides a concrete implementation backed by a real GIF bitstream.
package compositor

import "image/color"

// Palette is an ordered list of RGB colors declared by a GIF color table,
// together with its declared bit depth. BitsPerPixel is in [1,8]; len(Colors)
// is in [2,256] and need not be an exact power of two (a color table may be
// padded by the encoder, or declared with fewer entries than 2^BitsPerPixel).
type Palette struct {
	Colors       []color.RGBA
	BitsPerPixel int
}

// Len reports the number of colors in the palette.
func (p *Palette) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Colors)
}

// at returns the color at index i, or black if i is out of range: pixel
// indices at or beyond the palette size render as black.
func (p *Palette) at(i int) color.RGBA {
	if p == nil || i < 0 || i >= len(p.Colors) {
		return color.RGBA{}
	}
	return p.Colors[i]
}

// samePalette reports whether a and b declare byte-identical color tables:
// same entry count and same RGB triples in the same order. Bit depth is not
// compared; it carries no compositing meaning once the colors are known.
func samePalette(a, b *Palette) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Colors) != len(b.Colors) {
		return false
	}
	for i, c := range a.Colors {
		if c != b.Colors[i] {
			return false
		}
	}
	return true
}
