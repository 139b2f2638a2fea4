package bitstream

import (
	"bytes"
	"compress/lzw"
	"encoding/binary"
	"image/color"
	"testing"

	"github.com/nextframe/gifsplit/compositor"
)

// blockWriter frames a byte stream into GIF's length-prefixed sub-blocks,
// mirroring the write side so the decoder can be tested without a real GIF
// file on disk.
type blockWriter struct {
	w   *bytes.Buffer
	buf [255]byte
	n   int
}

func (b *blockWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := copy(b.buf[b.n:], p)
		b.n += n
		p = p[n:]
		total += n
		if b.n == len(b.buf) {
			b.flush()
		}
	}
	return total, nil
}

func (b *blockWriter) flush() {
	if b.n == 0 {
		return
	}
	b.w.WriteByte(byte(b.n))
	b.w.Write(b.buf[:b.n])
	b.n = 0
}

func (b *blockWriter) close() {
	b.flush()
	b.w.WriteByte(0)
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

// buildGIF assembles a single-frame, non-interlaced GIF with a global color
// table, an optional NETSCAPE2.0 loop extension, and one graphics-control
// extension ahead of the image descriptor.
func buildGIF(t *testing.T, width, height int, palette []color.RGBA, loopCount int, transparentIndex int, pix []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(sigGIF89a)

	writeUint16(&buf, uint16(width))
	writeUint16(&buf, uint16(height))

	bpp := 1
	for 1<<bpp < len(palette) {
		bpp++
	}
	buf.WriteByte(0x80 | byte(bpp-1))
	buf.WriteByte(0) // background color index
	buf.WriteByte(0) // pixel aspect ratio

	for i := 0; i < 1<<bpp; i++ {
		if i < len(palette) {
			buf.WriteByte(palette[i].R)
			buf.WriteByte(palette[i].G)
			buf.WriteByte(palette[i].B)
		} else {
			buf.Write([]byte{0, 0, 0})
		}
	}

	if loopCount >= 0 {
		buf.WriteByte(introducerExtension)
		buf.WriteByte(labelApplicationForTest)
		buf.WriteByte(11)
		buf.WriteString("NETSCAPE2.0")
		buf.WriteByte(3)
		buf.WriteByte(1)
		writeUint16(&buf, uint16(loopCount))
		buf.WriteByte(0)
	}

	buf.WriteByte(introducerExtension)
	buf.WriteByte(labelGraphicControlForTest)
	buf.WriteByte(4)
	flags := byte(0)
	var ti byte
	if transparentIndex >= 0 {
		flags |= 1
		ti = byte(transparentIndex)
	}
	buf.WriteByte(flags)
	writeUint16(&buf, 0)
	buf.WriteByte(ti)
	buf.WriteByte(0)

	buf.WriteByte(introducerImageDescriptor)
	writeUint16(&buf, 0)
	writeUint16(&buf, 0)
	writeUint16(&buf, uint16(width))
	writeUint16(&buf, uint16(height))
	buf.WriteByte(0)

	litWidth := bpp
	if litWidth < 2 {
		litWidth = 2
	}
	buf.WriteByte(byte(litWidth))

	bw := &blockWriter{w: &buf}
	lzwW := lzw.NewWriter(bw, lzw.LSB, litWidth)
	if _, err := lzwW.Write(pix); err != nil {
		t.Fatalf("lzw write: %v", err)
	}
	if err := lzwW.Close(); err != nil {
		t.Fatalf("lzw close: %v", err)
	}
	bw.close()

	buf.WriteByte(introducerTrailer)
	return buf.Bytes()
}

const (
	labelGraphicControlForTest = 0xF9
	labelApplicationForTest    = 0xFF
)

func TestDecodeHeaderAndGlobalPalette(t *testing.T) {
	pal := []color.RGBA{{R: 1, G: 2, B: 3, A: 255}, {R: 4, G: 5, B: 6, A: 255}}
	data := buildGIF(t, 2, 2, pal, -1, -1, []byte{0, 1, 1, 0})

	dec, err := NewDecoder(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	if dec.ScreenWidth() != 2 || dec.ScreenHeight() != 2 {
		t.Fatalf("screen size = %dx%d, want 2x2", dec.ScreenWidth(), dec.ScreenHeight())
	}
	gp := dec.GlobalPalette()
	if gp == nil || gp.Len() != 2 {
		t.Fatalf("global palette = %v, want 2 colors", gp)
	}
	if gp.Colors[1] != pal[1] {
		t.Errorf("global palette[1] = %v, want %v", gp.Colors[1], pal[1])
	}
}

func TestDecodeRejectsBadSignature(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader([]byte("not-a-gif-at-all-12345")))
	if err == nil {
		t.Fatal("NewDecoder: want error for bad signature")
	}
}

func TestDecodeImageRecordRoundTrips(t *testing.T) {
	pal := []color.RGBA{{A: 255}, {R: 255, A: 255}}
	pix := []byte{1, 0, 0, 1}
	data := buildGIF(t, 2, 2, pal, -1, 0, pix)

	dec, err := NewDecoder(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	var gce compositor.ExtensionRecord
	var img compositor.ImageRecord
	for {
		rec, err := dec.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		switch r := rec.(type) {
		case compositor.ExtensionRecord:
			gce = r
		case compositor.ImageRecord:
			img = r
		case compositor.TerminatorRecord:
			t.Fatal("reached terminator before an image record")
		}
		if img.Rows != nil {
			break
		}
	}

	if gce.Label != labelGraphicControlForTest {
		t.Fatalf("got extension label 0x%02x, want GCE", gce.Label)
	}
	if len(gce.SubBlocks) != 1 || len(gce.SubBlocks[0]) != 4 {
		t.Fatalf("GCE sub-blocks = %v, want one 4-byte block", gce.SubBlocks)
	}

	if img.Desc.Width != 2 || img.Desc.Height != 2 {
		t.Fatalf("image descriptor = %+v, want 2x2", img.Desc)
	}

	var got []byte
	for i := 0; i < img.Desc.Height; i++ {
		row, err := img.Rows()
		if err != nil {
			t.Fatalf("Rows: %v", err)
		}
		got = append(got, append([]byte(nil), row...)...)
	}
	if string(got) != string(pix) {
		t.Errorf("decoded pixels = %v, want %v", got, pix)
	}

	rec, err := dec.Next()
	if err != nil {
		t.Fatalf("Next (trailer): %v", err)
	}
	if _, ok := rec.(compositor.TerminatorRecord); !ok {
		t.Fatalf("got %T, want TerminatorRecord", rec)
	}
}

func TestDecodeNetscapeLoopExtension(t *testing.T) {
	pal := []color.RGBA{{A: 255}}
	data := buildGIF(t, 1, 1, pal, 0, -1, []byte{0})

	dec, err := NewDecoder(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	rec, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	ext, ok := rec.(compositor.ExtensionRecord)
	if !ok || ext.Label != labelApplicationForTest {
		t.Fatalf("got %#v, want a NETSCAPE2.0 application extension", rec)
	}
	if len(ext.SubBlocks) != 2 || string(ext.SubBlocks[0]) != "NETSCAPE2.0" {
		t.Fatalf("application extension sub-blocks = %v", ext.SubBlocks)
	}
}
