// Package bitstream parses a raw GIF87a/GIF89a byte stream into the record
// sequence compositor.Decoder expects: the logical screen descriptor and
// global color table up front, then a pull-style walk over extension, image,
// and terminator blocks. It performs LZW decompression but leaves
// deinterlacing and disposal semantics to the compositor.
package bitstream

import (
	"bufio"
	"compress/lzw"
	"encoding/binary"
	"errors"
	"fmt"
	"image/color"
	"io"

	"github.com/nextframe/gifsplit/compositor"
)

const (
	sigGIF87a = "GIF87a"
	sigGIF89a = "GIF89a"

	introducerExtension       = 0x21
	introducerImageDescriptor = 0x2C
	introducerTrailer         = 0x3B
)

// ErrBadSignature means the first six bytes were not a recognized GIF
// version string.
var ErrBadSignature = errors.New("bitstream: not a GIF file")

// Decoder reads a GIF byte stream and implements compositor.Decoder. A
// Decoder is single-pass: records must be consumed via Next in order, and
// image data must be fully drained (by calling the returned Rows function
// Desc.Height times) before the next Next call.
type Decoder struct {
	r      *bufio.Reader
	width  int
	height int
	global *compositor.Palette
	done   bool
}

// NewDecoder reads and validates the GIF header (signature, logical screen
// descriptor, and optional global color table) and returns a Decoder
// positioned at the first record.
func NewDecoder(r io.Reader) (*Decoder, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	d := &Decoder{r: br}
	if err := d.readHeader(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Decoder) ScreenWidth() int                   { return d.width }
func (d *Decoder) ScreenHeight() int                  { return d.height }
func (d *Decoder) GlobalPalette() *compositor.Palette { return d.global }

func (d *Decoder) readHeader() error {
	var sig [6]byte
	if _, err := io.ReadFull(d.r, sig[:]); err != nil {
		return fmt.Errorf("bitstream: reading signature: %w", err)
	}
	if s := string(sig[:]); s != sigGIF87a && s != sigGIF89a {
		return fmt.Errorf("%w: got %q", ErrBadSignature, s)
	}

	var lsd [7]byte
	if _, err := io.ReadFull(d.r, lsd[:]); err != nil {
		return fmt.Errorf("bitstream: reading logical screen descriptor: %w", err)
	}
	d.width = int(binary.LittleEndian.Uint16(lsd[0:2]))
	d.height = int(binary.LittleEndian.Uint16(lsd[2:4]))

	packed := lsd[4]
	if packed&0x80 != 0 {
		bpp := int(packed&0x07) + 1
		pal, err := readColorTable(d.r, 1<<bpp, bpp)
		if err != nil {
			return err
		}
		d.global = pal
	}
	return nil
}

// readColorTable reads n 3-byte RGB entries and tags the result with bpp,
// the bit depth the color table declared itself at.
func readColorTable(r io.Reader, n, bpp int) (*compositor.Palette, error) {
	buf := make([]byte, n*3)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("bitstream: reading color table: %w", err)
	}
	colors := make([]color.RGBA, n)
	for i := range colors {
		colors[i] = color.RGBA{R: buf[3*i], G: buf[3*i+1], B: buf[3*i+2], A: 255}
	}
	return &compositor.Palette{Colors: colors, BitsPerPixel: bpp}, nil
}

// Next returns the next record from the stream: an ExtensionRecord, an
// ImageRecord, or a TerminatorRecord once the trailer byte is reached.
// Calling Next again after a TerminatorRecord keeps returning it.
func (d *Decoder) Next() (compositor.Record, error) {
	if d.done {
		return compositor.TerminatorRecord{}, nil
	}

	var introducer [1]byte
	if _, err := io.ReadFull(d.r, introducer[:]); err != nil {
		return nil, fmt.Errorf("bitstream: reading block introducer: %w", err)
	}
	switch introducer[0] {
	case introducerTrailer:
		d.done = true
		return compositor.TerminatorRecord{}, nil
	case introducerExtension:
		return d.readExtension()
	case introducerImageDescriptor:
		return d.readImageDescriptor()
	default:
		return nil, fmt.Errorf("bitstream: unrecognized block introducer 0x%02x", introducer[0])
	}
}

func (d *Decoder) readExtension() (compositor.Record, error) {
	var label [1]byte
	if _, err := io.ReadFull(d.r, label[:]); err != nil {
		return nil, fmt.Errorf("bitstream: reading extension label: %w", err)
	}
	blocks, err := readSubBlocks(d.r)
	if err != nil {
		return nil, err
	}
	return compositor.ExtensionRecord{Label: label[0], SubBlocks: blocks}, nil
}

func (d *Decoder) readImageDescriptor() (compositor.Record, error) {
	var raw [9]byte
	if _, err := io.ReadFull(d.r, raw[:]); err != nil {
		return nil, fmt.Errorf("bitstream: reading image descriptor: %w", err)
	}

	sub := compositor.SubframeDescriptor{
		Left:       int(binary.LittleEndian.Uint16(raw[0:2])),
		Top:        int(binary.LittleEndian.Uint16(raw[2:4])),
		Width:      int(binary.LittleEndian.Uint16(raw[4:6])),
		Height:     int(binary.LittleEndian.Uint16(raw[6:8])),
		Interlaced: raw[8]&0x40 != 0,
	}
	if raw[8]&0x80 != 0 {
		bpp := int(raw[8]&0x07) + 1
		pal, err := readColorTable(d.r, 1<<bpp, bpp)
		if err != nil {
			return nil, err
		}
		sub.Palette = pal
	}

	var litWidthByte [1]byte
	if _, err := io.ReadFull(d.r, litWidthByte[:]); err != nil {
		return nil, fmt.Errorf("bitstream: reading LZW minimum code size: %w", err)
	}
	litWidth := int(litWidthByte[0])
	if litWidth < 2 || litWidth > 8 {
		return nil, fmt.Errorf("bitstream: invalid LZW minimum code size %d", litWidth)
	}

	blocks := &subBlockReader{r: d.r}
	lzwr := lzw.NewReader(blocks, lzw.LSB, litWidth)

	rowBuf := make([]byte, sub.Width)
	rowsRead := 0
	rows := func() ([]byte, error) {
		if rowsRead >= sub.Height {
			return nil, io.EOF
		}
		if _, err := io.ReadFull(lzwr, rowBuf); err != nil {
			return nil, fmt.Errorf("bitstream: decompressing image data: %w", err)
		}
		rowsRead++
		if rowsRead == sub.Height {
			lzwr.Close()
			if err := blocks.drain(); err != nil {
				return nil, err
			}
		}
		return rowBuf, nil
	}

	return compositor.ImageRecord{Desc: sub, Rows: rows}, nil
}

// readSubBlocks reads a length-prefixed GIF sub-block sequence through its
// zero-length terminator and returns each block's payload with the length
// prefix stripped.
func readSubBlocks(r io.Reader) ([][]byte, error) {
	var blocks [][]byte
	var size [1]byte
	for {
		if _, err := io.ReadFull(r, size[:]); err != nil {
			return nil, fmt.Errorf("bitstream: reading sub-block size: %w", err)
		}
		n := int(size[0])
		if n == 0 {
			return blocks, nil
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("bitstream: reading sub-block: %w", err)
		}
		blocks = append(blocks, buf)
	}
}

// subBlockReader presents a GIF sub-block sequence as a flat io.Reader,
// stopping at the zero-length terminator block. It backs the LZW reader for
// an image descriptor's pixel data.
type subBlockReader struct {
	r   *bufio.Reader
	buf []byte
}

func (b *subBlockReader) Read(p []byte) (int, error) {
	for len(b.buf) == 0 {
		size, err := b.r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("bitstream: reading sub-block size: %w", err)
		}
		if size == 0 {
			return 0, io.EOF
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(b.r, buf); err != nil {
			return 0, fmt.Errorf("bitstream: reading sub-block: %w", err)
		}
		b.buf = buf
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

// drain consumes any sub-blocks left unread by the LZW reader, through the
// terminator, so the stream is positioned at the next block introducer.
func (b *subBlockReader) drain() error {
	var discard [512]byte
	for {
		_, err := b.Read(discard[:])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
