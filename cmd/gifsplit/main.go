// Command gifsplit splits an animated GIF into one fully composited image
// per frame.
//
// Usage:
//
//	gifsplit [options] <input.gif> <output_base>
//
// Each frame is written to <output_base><NNNNNN>.png (or .jpg with -q), and
// one line "<frame> delay=<centiseconds>" is printed to stdout per frame,
// followed by "loops=<count>" once the stream is exhausted.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nextframe/gifsplit/compositor"
	"github.com/nextframe/gifsplit/internal/bitstream"
	"github.com/nextframe/gifsplit/internal/rasterio"
)

const (
	exitOK        = 0
	exitError     = 1
	exitMaxFrames = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("gifsplit", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: gifsplit [OPTIONS] input.gif output_base\n\nOptions:\n")
		fs.PrintDefaults()
	}
	quality := fs.Int("q", 0, "output JPEGs instead of PNGs, at this quality level (1-100)")
	verbose := fs.Bool("v", false, "verbose debugging output")
	maxFrames := fs.Int("m", 0, "limit the number of frames to output (0 = unlimited)")

	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "gifsplit: expected 2 arguments after options")
		fs.Usage()
		return exitError
	}

	c := &cli{
		inputPath:  fs.Arg(0),
		outputBase: fs.Arg(1),
		asJPEG:     *quality > 0,
		quality:    *quality,
		maxFrames:  *maxFrames,
		verbose:    *verbose,
	}
	if err := c.run(); err != nil {
		fmt.Fprintf(os.Stderr, "gifsplit: %v\n", err)
		if err == errMaxFramesExceeded {
			return exitMaxFrames
		}
		return exitError
	}
	return exitOK
}

var errMaxFramesExceeded = fmt.Errorf("max frames exceeded")

// cli holds one invocation's parsed flags as plain struct fields rather than
// process-global variables.
type cli struct {
	inputPath  string
	outputBase string
	asJPEG     bool
	quality    int
	maxFrames  int
	verbose    bool
}

func (c *cli) debugf(format string, args ...any) {
	if !c.verbose {
		return
	}
	fmt.Fprintf(os.Stderr, format, args...)
}

func (c *cli) run() error {
	in, err := c.openInput()
	if err != nil {
		return err
	}
	defer in.Close()

	c.debugf("Opening %s...\n", c.inputPath)
	dec, err := bitstream.NewDecoder(in)
	if err != nil {
		return fmt.Errorf("opening %s: %w", c.inputPath, err)
	}

	state, err := compositor.Open(dec)
	if err != nil {
		return fmt.Errorf("opening %s: %w", c.inputPath, err)
	}
	defer state.Close()

	frame := 0
	for {
		img, err := state.NextFrame()
		if err != nil {
			return fmt.Errorf("reading frame %d: %w", frame, err)
		}
		if img == nil {
			break
		}

		if c.maxFrames > 0 && frame >= c.maxFrames {
			return errMaxFramesExceeded
		}

		c.debugf("Read frame %d (truecolor=%v, cmap=%v)\n", frame,
			img.Representation == compositor.RepTruecolor, img.UsedLocalPalette)

		outputPath := c.framePath(frame)
		if err := c.writeFrame(outputPath, img); err != nil {
			return fmt.Errorf("writing %s: %w", outputPath, err)
		}

		fmt.Printf("%d delay=%d\n", frame, img.DelayCentiseconds)
		frame++
	}

	info := state.Info()
	if info.HasErrors {
		return fmt.Errorf("error while processing input gif")
	}
	fmt.Printf("loops=%d\n", info.LoopCount)
	return nil
}

func (c *cli) openInput() (*os.File, error) {
	if c.inputPath == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(c.inputPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", c.inputPath, err)
	}
	return f, nil
}

func (c *cli) framePath(frame int) string {
	ext := "png"
	if c.asJPEG {
		ext = "jpg"
	}
	return fmt.Sprintf("%s%06d.%s", c.outputBase, frame, ext)
}

func (c *cli) writeFrame(path string, img *compositor.CanvasImage) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}

	var writeErr error
	if c.asJPEG {
		writeErr = rasterio.WriteJPEG(out, img, rasterio.JPEGOptions{Quality: c.quality})
	} else {
		writeErr = rasterio.WritePNG(out, img)
	}

	if writeErr != nil {
		out.Close()
		os.Remove(path)
		return writeErr
	}
	return out.Close()
}
