package compositor

import "errors"

// Sentinel errors covering the compositor's error taxonomy. All are fatal:
// once returned from NextFrame, State.Info().HasErrors latches true and
// every subsequent NextFrame call returns nil, nil.
var (
	// ErrDecode wraps an error reported by the underlying Decoder.
	ErrDecode = errors.New("compositor: decode error")
	// ErrGeometry covers invalid screen or subframe dimensions.
	ErrGeometry = errors.New("compositor: geometry error")
	// ErrPaletteMissing means an image record needs a palette (local or
	// global) and neither is available.
	ErrPaletteMissing = errors.New("compositor: no palette available")
)
