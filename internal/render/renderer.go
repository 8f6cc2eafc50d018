package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/DK-com2/GPV-gif/internal/forecast"
	"github.com/DK-com2/GPV-gif/internal/grid"
)

// Options configures the Frame Renderer.
type Options struct {
	Width, Height int
	Bounds        grid.Bounds
	Coastline     [][]Point
	Peaks         []Peak

	// StepInterval is the valid-time spacing between consecutive forecast
	// hours, used for frame labels.
	StepInterval time.Duration
}

// Frame is one rendered raster for one forecast hour of one variant.
// Frames are owned by the assembler once returned and are never shared
// between variants.
type Frame struct {
	Index     int
	ValidTime time.Time
	Image     *image.RGBA
}

// Renderer turns a decoded LayerSeries into ordered frame sequences, one
// per animation variant.
type Renderer struct {
	opts Options
}

func NewRenderer(opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = 560
	}
	if opts.Height <= 0 {
		opts.Height = 420
	}
	if opts.StepInterval <= 0 {
		opts.StepInterval = time.Hour
	}
	return &Renderer{opts: opts}
}

var background = color.RGBA{A: 255}

// Render produces the per-variant frame sequences, ordered by forecast
// hour ascending. The ordering is load-bearing: the assembler encodes
// frames exactly as given. Any error here aborts the cycle; a half-set of
// frames must never reach an animation.
func (r *Renderer) Render(series *grid.LayerSeries, run forecast.Run) (map[Variant][]Frame, error) {
	if series == nil || series.Steps() == 0 {
		return nil, fmt.Errorf("render: empty layer series")
	}

	// The basemap and the pixel-to-cell lookup are constant across frames
	// and variants; compute them once.
	base := basemap(r.opts.Width, r.opts.Height, r.opts.Bounds, r.opts.Coastline, r.opts.Peaks)
	rows, cols, err := r.cellLookup(series)
	if err != nil {
		return nil, err
	}

	out := make(map[Variant][]Frame, 4)
	for _, variant := range Variants() {
		frames := make([]Frame, 0, series.Steps())
		for step := 0; step < series.Steps(); step++ {
			img, err := r.frame(series, variant, step, base, rows, cols)
			if err != nil {
				return nil, fmt.Errorf("render %s frame %d: %w", variant, step, err)
			}
			f := Frame{
				Index:     step,
				ValidTime: run.Time().Add(time.Duration(step) * r.opts.StepInterval),
				Image:     img,
			}
			label(f, variant)
			frames = append(frames, f)
		}
		out[variant] = frames
	}
	return out, nil
}

// cellLookup maps each pixel row/column to the nearest grid cell index, or
// -1 outside the data extent. MSM grids are uniformly spaced, so nearest
// neighbour by linear position is exact enough at GIF resolution.
func (r *Renderer) cellLookup(series *grid.LayerSeries) (rows, cols []int, err error) {
	if len(series.Lats) == 0 || len(series.Lons) == 0 {
		return nil, nil, fmt.Errorf("render: series has empty coordinate axes")
	}

	proj := projection{bounds: r.opts.Bounds, width: r.opts.Width, height: r.opts.Height}

	rows = make([]int, r.opts.Height)
	for y := 0; y < r.opts.Height; y++ {
		lat := r.opts.Bounds.LatMax - (float64(y)+0.5)/float64(r.opts.Height)*(proj.bounds.LatMax-proj.bounds.LatMin)
		rows[y] = nearest(series.Lats, lat)
	}
	cols = make([]int, r.opts.Width)
	for x := 0; x < r.opts.Width; x++ {
		lon := r.opts.Bounds.LonMin + (float64(x)+0.5)/float64(r.opts.Width)*(proj.bounds.LonMax-proj.bounds.LonMin)
		cols[x] = nearest(series.Lons, lon)
	}
	return rows, cols, nil
}

// nearest returns the index of the closest axis value, or -1 when v falls
// outside the axis by more than one cell spacing.
func nearest(axis []float64, v float64) int {
	n := len(axis)
	if n == 1 {
		return 0
	}
	step := (axis[n-1] - axis[0]) / float64(n-1)
	pos := (v - axis[0]) / step
	idx := int(pos + 0.5)
	if pos < -1 || idx < 0 || idx >= n {
		return -1
	}
	return idx
}

func (r *Renderer) frame(series *grid.LayerSeries, variant Variant, step int, base *image.RGBA, rows, cols []int) (*image.RGBA, error) {
	upper, mid, low := series.Upper[step], series.Mid[step], series.Low[step]
	if len(upper) != len(series.Lats) {
		return nil, fmt.Errorf("grid rows %d do not match latitude axis %d", len(upper), len(series.Lats))
	}

	img := image.NewRGBA(image.Rect(0, 0, r.opts.Width, r.opts.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	for y := 0; y < r.opts.Height; y++ {
		row := rows[y]
		if row < 0 {
			continue
		}
		for x := 0; x < r.opts.Width; x++ {
			col := cols[x]
			if col < 0 {
				continue
			}
			c, any := cloudColor(variant, upper[row][col], mid[row][col], low[row][col])
			if any {
				img.SetRGBA(x, y, c)
			}
		}
	}

	// Map furniture sits above the clouds, matching how the original
	// composed coastline and markers.
	draw.Draw(img, img.Bounds(), base, image.Point{}, draw.Over)

	return img, nil
}

// cloudColor maps cloud fractions to a pixel. The all-layers variant puts
// upper/mid/low on the red/green/blue channels; single-layer variants use a
// neutral gray gradient. Fraction 0 leaves the background untouched.
func cloudColor(variant Variant, upper, mid, low float64) (color.RGBA, bool) {
	switch variant {
	case VariantAll:
		if upper == 0 && mid == 0 && low == 0 {
			return color.RGBA{}, false
		}
		return color.RGBA{
			R: uint8(upper*255 + 0.5),
			G: uint8(mid*255 + 0.5),
			B: uint8(low*255 + 0.5),
			A: 255,
		}, true
	case VariantUpper:
		return grayColor(upper)
	case VariantMid:
		return grayColor(mid)
	default:
		return grayColor(low)
	}
}

func grayColor(f float64) (color.RGBA, bool) {
	if f == 0 {
		return color.RGBA{}, false
	}
	v := uint8(f*235 + 0.5)
	return color.RGBA{R: v, G: v, B: v, A: 255}, true
}

// label stamps the variant title and valid time into the frame's top-left
// corner.
func label(f Frame, variant Variant) {
	dc := gg.NewContextForRGBA(f.Image)
	dc.SetFontFace(basicfont.Face7x13)
	dc.SetColor(color.White)
	dc.DrawString(variant.Title(), 8, 16)
	dc.DrawString(f.ValidTime.UTC().Format("2006-01-02 15:04 UTC"), 8, 30)
}
