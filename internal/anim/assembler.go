package anim

import (
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/DK-com2/GPV-gif/internal/render"
)

// Artifact describes one encoded looping animation file.
type Artifact struct {
	Variant render.Variant `json:"variant"`
	Path    string         `json:"path"`
	Frames  int            `json:"frames"`
	Bytes   int64          `json:"bytes"`
}

// Assembler encodes ordered frame sequences into looping GIFs. Encoding is
// deterministic: a fixed palette and no dithering, so identical frames
// always produce identical bytes.
type Assembler struct {
	// OutDir is where the four variant files live.
	OutDir string

	// FrameDuration is the display time per frame.
	FrameDuration time.Duration
}

// Assemble encodes frames, in the order given, into the variant's canonical
// file. The frames are assumed already sorted by forecast hour; the
// assembler never re-sorts. The file is written to a temporary path and
// renamed into place so concurrent readers never see a truncated animation.
func (a *Assembler) Assemble(variant render.Variant, frames []render.Frame) (Artifact, error) {
	if len(frames) == 0 {
		return Artifact{}, fmt.Errorf("assemble %s: no frames", variant)
	}
	if err := os.MkdirAll(a.OutDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("assemble %s: %w", variant, err)
	}

	delay := int(a.FrameDuration / (10 * time.Millisecond)) // GIF delays are in 1/100 s
	if delay <= 0 {
		delay = 50
	}

	out := &gif.GIF{LoopCount: 0}
	for _, f := range frames {
		p := image.NewPaletted(f.Image.Bounds(), palette.Plan9)
		draw.Draw(p, p.Bounds(), f.Image, f.Image.Bounds().Min, draw.Src)
		out.Image = append(out.Image, p)
		out.Delay = append(out.Delay, delay)
	}

	dest := filepath.Join(a.OutDir, variant.Filename())
	tmp, err := os.CreateTemp(a.OutDir, variant.Filename()+".tmp-*")
	if err != nil {
		return Artifact{}, fmt.Errorf("assemble %s: %w", variant, err)
	}
	tmpName := tmp.Name()

	encErr := gif.EncodeAll(tmp, out)
	closeErr := tmp.Close()
	if encErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if encErr == nil {
			encErr = closeErr
		}
		return Artifact{}, fmt.Errorf("assemble %s: %w", variant, encErr)
	}

	info, err := os.Stat(tmpName)
	if err != nil {
		os.Remove(tmpName)
		return Artifact{}, fmt.Errorf("assemble %s: %w", variant, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return Artifact{}, fmt.Errorf("assemble %s: %w", variant, err)
	}

	return Artifact{Variant: variant, Path: dest, Frames: len(frames), Bytes: info.Size()}, nil
}

// AssembleAll encodes every variant independently: one variant failing does
// not stop the others from being written. All failures are joined into the
// returned error so the cycle can report them together.
func (a *Assembler) AssembleAll(all map[render.Variant][]render.Frame) ([]Artifact, error) {
	var (
		artifacts []Artifact
		errs      []error
	)
	for _, variant := range render.Variants() {
		art, err := a.Assemble(variant, all[variant])
		if err != nil {
			log.Printf("anim: %v", err)
			errs = append(errs, err)
			continue
		}
		artifacts = append(artifacts, art)
	}
	return artifacts, errors.Join(errs...)
}
