package compositor

import (
	"fmt"
	"image"
)

// maxCanvasPixels is the safety limit on screen size: screens larger than
// this are rejected at Open time rather than risking a pathological
// allocation.
const maxCanvasPixels = 10_000_000

// State is the persistent compositor engine. It is created by Open, driven
// by NextFrame, and released by Close. It is not safe for concurrent use;
// two independent compositions need two independent States and two
// independent Decoders.
type State struct {
	dec    Decoder
	pump   *recordPump
	info   Info
	closed bool

	canvas         *CanvasImage
	previousCanvas *CanvasImage // non-nil iff the *upcoming* frame disposes to RestorePrevious

	prevRect         image.Rectangle
	prevIsFullScreen bool
	prevDisposal     Disposal
}

// Open validates the screen geometry, allocates the canvas, and returns a
// ready-to-drive State. dec.GlobalPalette() may be nil if the GIF declares no
// global color table (every image record must then carry its own local
// palette, or NextFrame will fail with ErrPaletteMissing).
func Open(dec Decoder) (*State, error) {
	w, h := dec.ScreenWidth(), dec.ScreenHeight()
	if w <= 0 || h <= 0 || w*h > maxCanvasPixels {
		return nil, fmt.Errorf("%w: invalid screen size %dx%d", ErrGeometry, w, h)
	}

	s := &State{
		dec:  dec,
		pump: newRecordPump(dec),
		info: Info{LoopCount: 1},

		canvas: newCanvas(w, h),
		// Synthetic initial state: forces the first frame through the
		// clear-to-transparent path regardless of whether it covers the
		// whole screen.
		prevRect:         image.Rect(0, 0, w, h),
		prevIsFullScreen: true,
		prevDisposal:     DisposalRestoreBackground,
	}
	return s, nil
}

// Info returns the current loop count and error flag. Most informative
// after the stream has been fully consumed (NextFrame returned nil, nil).
func (s *State) Info() Info {
	return s.info
}

// Close releases the State. The underlying Decoder is not closed; callers
// that opened an io.Closer themselves remain responsible for it.
func (s *State) Close() {
	s.closed = true
	s.canvas = nil
	s.previousCanvas = nil
}

// NextFrame drives the Record Pump to the next image record, composites it
// onto the canvas, and returns a borrowed view of the canvas. It returns
// (nil, nil) at end of stream or once a fatal error has occurred; it
// returns a non-nil error only for the call during which the error first
// occurred, after which HasErrors is latched and Info().HasErrors can be
// checked to distinguish "no more frames" from "stopped because of an
// error".
func (s *State) NextFrame() (*CanvasImage, error) {
	if s.closed || s.info.HasErrors {
		return nil, nil
	}

	gc, sub, rows, ok, err := s.pump.pullUntilImage(&s.info)
	if err != nil {
		s.info.HasErrors = true
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if err := s.compositeFrame(gc, sub, rows); err != nil {
		s.info.HasErrors = true
		return nil, err
	}
	return s.canvas, nil
}

func (s *State) compositeFrame(gc GraphicsControl, sub SubframeDescriptor, rows func() ([]byte, error)) error {
	w, h := s.canvas.Width, s.canvas.Height
	if sub.Left < 0 || sub.Top < 0 || sub.Width < 0 || sub.Height < 0 ||
		sub.Left+sub.Width > w || sub.Top+sub.Height > h {
		return fmt.Errorf("%w: subframe %+v exceeds screen %dx%d", ErrGeometry, sub, w, h)
	}

	ti := gc.TransparentIndex
	dCur := gc.Disposal

	isFull := sub.Left == 0 && sub.Top == 0 && sub.Width == w && sub.Height == h
	needsMerge := !isFull || ti != noTransparency

	// Step 2: apply prior disposal.
	switch s.prevDisposal {
	case DisposalRestorePrevious:
		if s.previousCanvas != nil {
			s.canvas = s.previousCanvas
			s.previousCanvas = nil
		}
		// No snapshot: silently degrade to DoNotDispose (no-op).
	case DisposalRestoreBackground:
		if s.prevIsFullScreen {
			needsMerge = false
			if dCur == DisposalRestorePrevious {
				dCur = DisposalRestoreBackground
			}
		}
		if needsMerge || dCur == DisposalRestorePrevious {
			if err := s.clearToTransparent(s.prevRect); err != nil {
				return err
			}
		}
	}

	// Step 3: snapshot for an upcoming restore-previous.
	if dCur == DisposalRestorePrevious {
		s.previousCanvas = s.canvas.clone()
	}

	// Step 4: decode the subframe into a flat buffer, deinterlacing if
	// necessary.
	buf, err := readSubframe(sub, rows)
	if err != nil {
		return err
	}

	// Step 5: choose the effective palette.
	var gp *Palette
	if sub.Palette != nil {
		gp = sub.Palette
		s.canvas.UsedLocalPalette = true
	} else {
		gp = s.dec.GlobalPalette()
		s.canvas.UsedLocalPalette = false
	}
	if gp == nil {
		return fmt.Errorf("%w", ErrPaletteMissing)
	}

	// Step 6: composite.
	if err := s.composite(sub, buf, gp, ti, isFull, needsMerge); err != nil {
		return err
	}

	// Step 7: update state.
	s.canvas.DelayCentiseconds = gc.DelayCentiseconds
	s.prevDisposal = dCur
	s.prevRect = sub.Rect()
	s.prevIsFullScreen = isFull
	return nil
}

// clearToTransparent implements the RestoreBackground pre-clear: the region
// rect is filled with the transparent value, upgrading the canvas to
// truecolor first if it has no transparent index to clear to.
func (s *State) clearToTransparent(rect image.Rectangle) error {
	if s.canvas.Representation == RepPalette && s.canvas.TransparentIndex == noTransparency {
		s.canvas.upgradeToTruecolor()
	}
	var clearValue byte
	if s.canvas.Representation == RepPalette {
		clearValue = byte(s.canvas.TransparentIndex)
	}
	v := s.canvas.view(rect)
	for y := 0; y < v.height(); y++ {
		row := v.row(y)
		for i := range row {
			row[i] = clearValue
		}
	}
	return nil
}

// readSubframe pulls sub.Height rows of sub.Width indices each from rows,
// placing rows received in interlaced transmission order at their
// deinterlaced positions if sub.Interlaced, and returns a
// flat sub.Width*sub.Height buffer in top-to-bottom row order.
func readSubframe(sub SubframeDescriptor, rows func() ([]byte, error)) ([]byte, error) {
	buf := make([]byte, sub.Width*sub.Height)

	readRow := func(y int) error {
		row, err := rows()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if len(row) < sub.Width {
			return fmt.Errorf("%w: short row: got %d bytes, want %d", ErrDecode, len(row), sub.Width)
		}
		copy(buf[y*sub.Width:(y+1)*sub.Width], row[:sub.Width])
		return nil
	}

	if !sub.Interlaced {
		for y := 0; y < sub.Height; y++ {
			if err := readRow(y); err != nil {
				return nil, err
			}
		}
		return buf, nil
	}

	offsets := [4]int{0, 4, 2, 1}
	jumps := [4]int{8, 8, 4, 2}
	for pass := 0; pass < 4; pass++ {
		for y := offsets[pass]; y < sub.Height; y += jumps[pass] {
			if err := readRow(y); err != nil {
				return nil, err
			}
		}
	}
	return buf, nil
}

// composite dispatches between the wholesale / transparent-fill / merge
// paths that write buf (sub.Width*sub.Height indices) onto the canvas using
// palette gp and transparent index ti.
func (s *State) composite(sub SubframeDescriptor, buf []byte, gp *Palette, ti int, isFull, needsMerge bool) error {
	if !needsMerge {
		if isFull {
			// Wholesale path: the new frame replaces the canvas outright.
			s.canvas.Representation = RepPalette
			s.canvas.Pix = append([]byte(nil), buf...)
			s.canvas.Palette = gp
			s.canvas.TransparentIndex = ti
			return nil
		}

		// needsMerge was forced false by the prior disposal step (a
		// full-screen RestoreBackground) even though this frame is partial:
		// nothing outside the subframe rectangle is worth preserving, so pad
		// the whole raster with ti and stamp the subframe in directly.
		if ti != noTransparency {
			s.canvas.Representation = RepPalette
			s.canvas.Pix = make([]byte, s.canvas.Width*s.canvas.Height)
			for i := range s.canvas.Pix {
				s.canvas.Pix[i] = byte(ti)
			}
			writeSubRect(s.canvas, sub, buf)
			s.canvas.Palette = gp
			s.canvas.TransparentIndex = ti
			return nil
		}

		// No transparent index to pad with: upgrade to truecolor so the
		// padding can be expressed as alpha 0, then fall through to a real
		// merge against the now-blank canvas.
		s.canvas.Representation = RepTruecolor
		s.canvas.Palette = nil
		s.canvas.Pix = make([]byte, s.canvas.Width*s.canvas.Height*4)
		s.canvas.TransparentIndex = noTransparency
	}

	return s.mergeInto(sub, buf, gp, ti)
}

// writeSubRect copies sub.Width*sub.Height worth of buf into the canvas at
// sub's rectangle, in the canvas's current (palette) representation.
func writeSubRect(c *CanvasImage, sub SubframeDescriptor, buf []byte) {
	v := c.view(sub.Rect())
	for y := 0; y < sub.Height; y++ {
		copy(v.row(y), buf[y*sub.Width:(y+1)*sub.Width])
	}
}

// mergeInto implements the general merge path: palette-merge if the canvas
// is palette and the effective palette matches exactly, else upgrade to
// truecolor and truecolor-merge.
func (s *State) mergeInto(sub SubframeDescriptor, buf []byte, gp *Palette, ti int) error {
	if s.canvas.Representation == RepPalette {
		if samePalette(s.canvas.Palette, gp) && s.canvas.TransparentIndex == ti {
			v := s.canvas.view(sub.Rect())
			for y := 0; y < sub.Height; y++ {
				dst := v.row(y)
				src := buf[y*sub.Width : (y+1)*sub.Width]
				for x, p := range src {
					if int(p) != ti {
						dst[x] = p
					}
				}
			}
			return nil
		}
		s.canvas.upgradeToTruecolor()
	}

	v := s.canvas.view(sub.Rect())
	for y := 0; y < sub.Height; y++ {
		dst := v.row(y)
		src := buf[y*sub.Width : (y+1)*sub.Width]
		for x, p := range src {
			if int(p) == ti {
				continue
			}
			rgb := gp.at(int(p))
			dst[4*x] = rgb.R
			dst[4*x+1] = rgb.G
			dst[4*x+2] = rgb.B
			dst[4*x+3] = 255
		}
	}
	return nil
}
