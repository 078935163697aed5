// Command boothcompose lays photo files out on a print grid, optionally merges
// a frame overlay, and writes the composite.
//
// Examples:
//
//	# Two photos on the 2-cut grid.
//	boothcompose -grid 4x6-2cut -o out.jpg a.jpg b.jpg
//
//	# Four photos on a strip, with a frame.
//	boothcompose -grid strip-grid -frame frames/gold.png -o strip.png a.jpg b.jpg c.jpg d.jpg
//
//	# List the built-in grids.
//	boothcompose -listgrids
package main

import (
	"flag"
	"fmt"
	"image"
	"log"
	"os"

	"github.com/disintegration/imaging"

	"github.com/snapbooth/photobooth-go/composite"
)

var (
	listGrids = flag.Bool("listgrids", false, "if set, lists the built-in grids and exits")
	gridID    = flag.String("grid", "4x6-4cut", "grid to lay the photos out on")
	cols      = flag.Int("cols", 0, "custom grid columns, overrides -grid together with -rows")
	rows      = flag.Int("rows", 0, "custom grid rows")
	framePath = flag.String("frame", "", "frame overlay image, png or webp")
	policy    = flag.String("policy", "cover", "how photos fill their cells: cover or fit")
	mode      = flag.String("mode", "composite-size", "frame merge mode: composite-size or frame-size")
	align     = flag.String("align", "center", "composite alignment in frame-size mode: center, top-left, top-center or center-left")
	dpi       = flag.Int("dpi", composite.DefaultDPI, "print resolution")
	output    = flag.String("o", "composite.jpg", "output file, format by extension")
)

func usage() {
	log.Println("usage: boothcompose [flags] photo ...")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()

	if *listGrids {
		for _, g := range composite.Grids() {
			p := composite.PageSizeFor(g)
			fmt.Printf("%s: %s, %d photos on %s\n", g.ID, g.Name, g.TotalCells(), p.Name)
		}
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	g, ok := composite.GridByID(*gridID)
	if *cols > 0 || *rows > 0 {
		g, ok = composite.GridSpec{ID: fmt.Sprintf("%dx%d", *cols, *rows), Cols: *cols, Rows: *rows}, true
	}
	if !ok {
		log.Fatalf("unknown grid %q, see -listgrids", *gridID)
	}
	lopts := &composite.Opts{DPI: *dpi, Gap: composite.DefaultGap}
	var err error
	if lopts.Policy, err = composite.ParsePolicy(*policy); err != nil {
		log.Fatalf("%v", err)
	}
	fopts := &composite.FrameOpts{DPI: *dpi}
	if fopts.Mode, err = composite.ParseMode(*mode); err != nil {
		log.Fatalf("%v", err)
	}
	if fopts.Alignment, err = composite.ParseAlignment(*align); err != nil {
		log.Fatalf("%v", err)
	}

	photos := make([]image.Image, len(args))
	for i, path := range args {
		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			log.Fatalf("reading photo: %v", err)
		}
		photos[i] = img
	}

	out, err := composite.Layout(photos, g, lopts)
	if err != nil {
		log.Fatalf("composing: %v", err)
	}
	if *framePath != "" {
		frame, err := imaging.Open(*framePath)
		if err != nil {
			log.Fatalf("reading frame: %v", err)
		}
		if out, err = composite.ApplyFrame(out, g, frame, fopts); err != nil {
			log.Fatalf("applying frame: %v", err)
		}
	}
	if err := imaging.Save(out, *output, imaging.JPEGQuality(95)); err != nil {
		log.Fatalf("writing composite: %v", err)
	}
	log.Printf("wrote %s, %dx%d", *output, out.Rect.Dx(), out.Rect.Dy())
}
