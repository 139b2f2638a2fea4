package compositor

import (
	"fmt"
	"image"
)

// SubframeDescriptor is the transient per-image-record geometry and local
// palette declared by a single GIF image descriptor.
type SubframeDescriptor struct {
	Left, Top, Width, Height int
	Interlaced               bool
	Palette                  *Palette // nil means "use the global palette"
}

// Rect returns the subframe's bounding rectangle on the canvas.
func (s SubframeDescriptor) Rect() image.Rectangle {
	return image.Rect(s.Left, s.Top, s.Left+s.Width, s.Top+s.Height)
}

// GraphicsControl is the transient per-extension data accumulated from the
// most recent graphics-control extension, applied to the next image record.
type GraphicsControl struct {
	Disposal          Disposal
	DelayCentiseconds uint16
	TransparentIndex  int // noTransparency (-1) means no transparency
}

func defaultGraphicsControl() GraphicsControl {
	return GraphicsControl{Disposal: DisposalNone, TransparentIndex: noTransparency}
}

// Info exposes facts accumulated during the walk across the whole stream.
type Info struct {
	// LoopCount is the number of times the animation should repeat; 0 means
	// infinite. Defaults to 1 (play once) until a NETSCAPE2.0 application
	// extension overwrites it.
	LoopCount int
	// HasErrors latches true on the first decode or compositing failure and
	// never resets.
	HasErrors bool
}

// Record is one parsed unit from the underlying GIF bitstream: an
// ExtensionRecord, an ImageRecord, or a TerminatorRecord.
type Record interface{ isRecord() }

// ExtensionRecord is any GIF extension block (0x21 introducer). SubBlocks
// holds each length-prefixed sub-block's data, in order, with the length
// prefixes already stripped.
type ExtensionRecord struct {
	Label     byte
	SubBlocks [][]byte
}

// ImageRecord is a GIF image descriptor (0x2C introducer) together with a
// pull function for its pixel rows. Rows must be called exactly Desc.Height
// times, each call returning one row of Desc.Width palette indices in
// transmission order (the decoder, not the compositor,
// performs LZW decompression; deinterlacing reordering is the compositor's
// job).
type ImageRecord struct {
	Desc SubframeDescriptor
	Rows func() ([]byte, error)
}

// TerminatorRecord is the GIF trailer (0x3B).
type TerminatorRecord struct{}

func (ExtensionRecord) isRecord()  {}
func (ImageRecord) isRecord()      {}
func (TerminatorRecord) isRecord() {}

// Decoder is the pull-style GIF bitstream source the compositor consumes.
// internal/bitstream.Decoder implements it; the compositor package never
// reads raw GIF bytes itself.
type Decoder interface {
	ScreenWidth() int
	ScreenHeight() int
	GlobalPalette() *Palette
	Next() (Record, error)
}

const (
	labelGraphicControl = 0xF9
	labelApplication    = 0xFF
	netscapeIdentifier  = "NETSCAPE2.0"
)


// recordPump drives a Decoder forward, classifying extension records and
// accumulating graphics-control state until an image record is reached.
type recordPump struct {
	dec     Decoder
	pending GraphicsControl
}

func newRecordPump(dec Decoder) *recordPump {
	return &recordPump{dec: dec, pending: defaultGraphicsControl()}
}

// pullUntilImage drives the decoder until it yields an image record, the
// stream ends, or an error occurs. ok is false with a nil error at end of
// stream.
func (p *recordPump) pullUntilImage(info *Info) (gc GraphicsControl, desc SubframeDescriptor, rows func() ([]byte, error), ok bool, err error) {
	for {
		rec, derr := p.dec.Next()
		if derr != nil {
			return GraphicsControl{}, SubframeDescriptor{}, nil, false, fmt.Errorf("%w: %v", ErrDecode, derr)
		}
		switch r := rec.(type) {
		case TerminatorRecord:
			return GraphicsControl{}, SubframeDescriptor{}, nil, false, nil
		case ExtensionRecord:
			p.classifyExtension(r, info)
		case ImageRecord:
			gc = p.pending
			p.pending = defaultGraphicsControl()
			return gc, r.Desc, r.Rows, true, nil
		default:
			return GraphicsControl{}, SubframeDescriptor{}, nil, false, fmt.Errorf("%w: unknown record type %T", ErrDecode, rec)
		}
	}
}

func (p *recordPump) classifyExtension(r ExtensionRecord, info *Info) {
	switch r.Label {
	case labelGraphicControl:
		if len(r.SubBlocks) == 0 || len(r.SubBlocks[0]) < 4 {
			return
		}
		b := r.SubBlocks[0]
		flags := b[0]
		disposal := disposalFromBits(int(flags>>2) & 0x7)
		delay := uint16(b[1]) | uint16(b[2])<<8
		transparent := noTransparency
		if flags&1 != 0 {
			transparent = int(b[3])
		}
		p.pending = GraphicsControl{Disposal: disposal, DelayCentiseconds: delay, TransparentIndex: transparent}
	case labelApplication:
		if len(r.SubBlocks) < 2 {
			return
		}
		if string(r.SubBlocks[0]) != netscapeIdentifier {
			return
		}
		sub := r.SubBlocks[1]
		if len(sub) >= 3 && sub[0] == 0x01 {
			info.LoopCount = int(sub[1]) | int(sub[2])<<8
		}
	default:
		// Other extensions (comment, plain text, unrecognized) carry no
		// compositor-relevant state; their sub-blocks have already been
		// drained by the decoder.
	}
}
