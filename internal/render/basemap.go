package render

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/DK-com2/GPV-gif/internal/grid"
)

// Point is a geographic coordinate.
type Point struct {
	Lat, Lon float64
}

// Peak is a labeled summit drawn as a triangle marker on the basemap.
type Peak struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// DefaultCoastline returns a coarse polyline set for the central Honshu
// region the MSM cloud product covers. Precision only needs to be good
// enough for orientation under the cloud overlay.
func DefaultCoastline() [][]Point {
	return [][]Point{
		// Pacific coast: Kii peninsula over Ise bay and Enshu-nada to Boso.
		{
			{33.55, 135.90}, {34.05, 136.20}, {34.30, 136.55}, {34.55, 136.80},
			{34.75, 136.55}, {34.95, 136.65}, {34.70, 136.90}, {34.55, 137.10},
			{34.60, 137.30}, {34.65, 137.60}, {34.70, 138.00}, {34.85, 138.25},
			{35.00, 138.50}, {34.90, 138.75}, {34.65, 138.85}, {34.60, 138.95},
			{34.90, 139.10}, {35.10, 139.05}, {35.25, 139.15}, {35.30, 139.45},
			{35.15, 139.65}, {35.30, 139.80}, {35.55, 139.85}, {35.45, 139.95},
		},
		// Sea of Japan coast: Wakasa bay over Noto approach to Toyama bay.
		{
			{35.50, 135.50}, {35.55, 135.90}, {35.70, 136.05}, {35.95, 135.95},
			{36.15, 136.15}, {36.35, 136.35}, {36.60, 136.60}, {36.80, 136.80},
			{36.85, 137.05}, {36.75, 137.30}, {36.80, 137.60}, {36.95, 137.90},
			{37.10, 138.25}, {37.30, 138.55}, {37.45, 138.80},
		},
		// Lake Biwa outline, a useful landmark in this window.
		{
			{35.00, 135.90}, {35.20, 136.05}, {35.40, 136.15}, {35.30, 136.25},
			{35.10, 136.15}, {35.00, 135.95}, {35.00, 135.90},
		},
	}
}

var (
	colorCoast     = color.NRGBA{R: 235, G: 235, B: 235, A: 230}
	colorGraticule = color.NRGBA{R: 128, G: 128, B: 128, A: 90}
	colorPeak      = color.NRGBA{R: 255, G: 255, B: 255, A: 220}
	colorLabel     = color.NRGBA{R: 210, G: 210, B: 210, A: 255}
)

// basemap renders the static map layer once per cycle: graticule,
// coastline, and peak markers on a transparent background, so it can be
// stamped over the cloud raster of every frame.
func basemap(width, height int, b grid.Bounds, coastline [][]Point, peaks []Peak) *image.RGBA {
	dc := gg.NewContext(width, height)
	dc.SetFontFace(basicfont.Face7x13)

	proj := projection{bounds: b, width: width, height: height}

	// Graticule at whole degrees.
	dc.SetColor(colorGraticule)
	dc.SetLineWidth(0.5)
	for lon := float64(int(b.LonMin)) + 1; lon < b.LonMax; lon++ {
		x, _ := proj.toPixel(b.LatMin, lon)
		dc.DrawLine(x, 0, x, float64(height))
		dc.Stroke()
	}
	for lat := float64(int(b.LatMin)) + 1; lat < b.LatMax; lat++ {
		_, y := proj.toPixel(lat, b.LonMin)
		dc.DrawLine(0, y, float64(width), y)
		dc.Stroke()
	}

	// Coastline.
	dc.SetColor(colorCoast)
	dc.SetLineWidth(1.2)
	for _, line := range coastline {
		started := false
		for _, p := range line {
			x, y := proj.toPixel(p.Lat, p.Lon)
			if !started {
				dc.MoveTo(x, y)
				started = true
				continue
			}
			dc.LineTo(x, y)
		}
		dc.Stroke()
	}

	// Peak markers, only those inside the window.
	for _, p := range peaks {
		if !b.Contains(p.Lat, p.Lon) {
			continue
		}
		x, y := proj.toPixel(p.Lat, p.Lon)

		dc.SetColor(colorPeak)
		dc.SetLineWidth(1.2)
		dc.MoveTo(x, y-4)
		dc.LineTo(x-4, y+3)
		dc.LineTo(x+4, y+3)
		dc.ClosePath()
		dc.Stroke()

		dc.SetColor(colorLabel)
		dc.DrawString(p.Name, x+6, y+3)
	}

	return imageRGBA(dc.Image())
}

// projection maps geographic coordinates to pixel coordinates, north up.
type projection struct {
	bounds        grid.Bounds
	width, height int
}

func (p projection) toPixel(lat, lon float64) (x, y float64) {
	x = (lon - p.bounds.LonMin) / (p.bounds.LonMax - p.bounds.LonMin) * float64(p.width)
	y = (p.bounds.LatMax - lat) / (p.bounds.LatMax - p.bounds.LatMin) * float64(p.height)
	return
}

func imageRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	out := image.NewRGBA(img.Bounds())
	for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
		for x := img.Bounds().Min.X; x < img.Bounds().Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}
