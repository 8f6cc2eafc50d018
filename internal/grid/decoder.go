package grid

import (
	"fmt"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// Names of the cloud-fraction variables in the MSM surface product.
const (
	VarUpper = "ncld_upper"
	VarMid   = "ncld_mid"
	VarLow   = "ncld_low"
)

// Bounds is the geographic bounding box the animation covers.
type Bounds struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
}

// Contains reports whether the point lies inside the box.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// Options controls decoding.
type Options struct {
	Bounds Bounds

	// ExpectedSteps, when > 0, requires the forecast-hour axis to have
	// exactly this length.
	ExpectedSteps int
}

// LayerSeries is the decoded product of one raw grid file: three cloud
// layers, each an ordered sequence of 2-D fraction grids (0..1), one per
// forecast hour. Index order is [step][lat][lon]. It lives for one render
// cycle only.
type LayerSeries struct {
	Lats []float64 // ascending
	Lons []float64 // ascending
	Upper, Mid, Low [][][]float64
}

// Steps returns the number of forecast hours in the series.
func (s *LayerSeries) Steps() int {
	return len(s.Upper)
}

// DecodeError marks a locally corrupt or unexpected-format grid file.
// Re-fetching will not fix it, so callers must not retry the cycle.
type DecodeError struct {
	Msg string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Msg, e.Err)
	}
	return "decode: " + e.Msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// varSource is the slice of the NetCDF group API the decoder needs.
type varSource interface {
	GetVariable(name string) (*api.Variable, error)
}

// Decode opens a fetched NetCDF file and extracts the three cloud-fraction
// layers over the full forecast-hour axis, sliced to the configured
// bounding box.
func Decode(path string, opts Options) (*LayerSeries, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, &DecodeError{Msg: "open " + path, Err: err}
	}
	defer g.Close()
	return decodeSource(g, opts)
}

func decodeSource(src varSource, opts Options) (*LayerSeries, error) {
	lats, err := axis(src, "lat")
	if err != nil {
		return nil, err
	}
	lons, err := axis(src, "lon")
	if err != nil {
		return nil, err
	}

	latIdx, latDesc := axisRange(lats, opts.Bounds.LatMin, opts.Bounds.LatMax)
	lonIdx, lonDesc := axisRange(lons, opts.Bounds.LonMin, opts.Bounds.LonMax)
	if len(latIdx) == 0 || len(lonIdx) == 0 {
		return nil, &DecodeError{Msg: fmt.Sprintf("bounding box %+v selects no grid points", opts.Bounds)}
	}

	series := &LayerSeries{
		Lats: sliceAxis(lats, latIdx, latDesc),
		Lons: sliceAxis(lons, lonIdx, lonDesc),
	}

	for _, v := range []struct {
		name string
		dst  *[][][]float64
	}{
		{VarUpper, &series.Upper},
		{VarMid, &series.Mid},
		{VarLow, &series.Low},
	} {
		cube, err := cloudCube(src, v.name)
		if err != nil {
			return nil, err
		}
		if opts.ExpectedSteps > 0 && len(cube) != opts.ExpectedSteps {
			return nil, &DecodeError{Msg: fmt.Sprintf(
				"%s has %d forecast hours, expected %d", v.name, len(cube), opts.ExpectedSteps)}
		}
		sliced, err := sliceCube(v.name, cube, latIdx, latDesc, lonIdx, lonDesc)
		if err != nil {
			return nil, err
		}
		*v.dst = sliced
	}

	if len(series.Mid) != len(series.Upper) || len(series.Low) != len(series.Upper) {
		return nil, &DecodeError{Msg: fmt.Sprintf(
			"layer forecast-hour axes disagree: upper=%d mid=%d low=%d",
			len(series.Upper), len(series.Mid), len(series.Low))}
	}
	if len(series.Upper) == 0 {
		return nil, &DecodeError{Msg: "forecast-hour axis is empty"}
	}
	return series, nil
}

// axis reads a 1-D coordinate variable as float64s.
func axis(src varSource, name string) ([]float64, error) {
	v, err := src.GetVariable(name)
	if err != nil || v == nil {
		return nil, &DecodeError{Msg: "missing coordinate variable " + name, Err: err}
	}
	switch vals := v.Values.(type) {
	case []float64:
		return vals, nil
	case []float32:
		out := make([]float64, len(vals))
		for i, f := range vals {
			out[i] = float64(f)
		}
		return out, nil
	default:
		return nil, &DecodeError{Msg: fmt.Sprintf("coordinate %s has unexpected type %T", name, v.Values)}
	}
}

// axisRange returns the contiguous index range of axis values inside
// [lo, hi], plus whether the axis is stored descending (MSM stores latitude
// north to south).
func axisRange(vals []float64, lo, hi float64) ([]int, bool) {
	desc := len(vals) > 1 && vals[0] > vals[len(vals)-1]
	var idx []int
	for i, v := range vals {
		if v >= lo && v <= hi {
			idx = append(idx, i)
		}
	}
	return idx, desc
}

// sliceAxis extracts the selected coordinates, reversed to ascending order
// when the source axis is descending.
func sliceAxis(vals []float64, idx []int, desc bool) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = vals[j]
	}
	if desc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// cloudCube reads one cloud variable as [step][lat][lon] fractions in 0..1,
// unpacking int16-packed data via scale_factor/add_offset.
func cloudCube(src varSource, name string) ([][][]float64, error) {
	v, err := src.GetVariable(name)
	if err != nil || v == nil {
		return nil, &DecodeError{Msg: "missing cloud variable " + name, Err: err}
	}

	scale, offset := packing(v.Attributes)

	var cube [][][]float64
	switch vals := v.Values.(type) {
	case [][][]float64:
		cube = scaled(vals, func(x float64) float64 { return x*scale + offset })
	case [][][]float32:
		cube = scaled(vals, func(x float32) float64 { return float64(x)*scale + offset })
	case [][][]int16:
		cube = scaled(vals, func(x int16) float64 { return float64(x)*scale + offset })
	case [][][]int32:
		cube = scaled(vals, func(x int32) float64 { return float64(x)*scale + offset })
	default:
		return nil, &DecodeError{Msg: fmt.Sprintf("%s has unexpected type %T", name, v.Values)}
	}

	// Values are percent cloud cover; anything outside 0..100 means the
	// file is corrupt, not merely noisy.
	for t := range cube {
		for y := range cube[t] {
			for x, pct := range cube[t][y] {
				if pct < -0.5 || pct > 100.5 {
					return nil, &DecodeError{Msg: fmt.Sprintf(
						"%s[%d][%d][%d] = %.2f out of percent range", name, t, y, x, pct)}
				}
				cube[t][y][x] = clamp01(pct / 100)
			}
		}
	}
	return cube, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func scaled[T float32 | float64 | int16 | int32](vals [][][]T, conv func(T) float64) [][][]float64 {
	out := make([][][]float64, len(vals))
	for t := range vals {
		out[t] = make([][]float64, len(vals[t]))
		for y := range vals[t] {
			row := make([]float64, len(vals[t][y]))
			for x, v := range vals[t][y] {
				row[x] = conv(v)
			}
			out[t][y] = row
		}
	}
	return out
}

// packing extracts CF packing attributes, defaulting to identity.
func packing(attrs api.AttributeMap) (scale, offset float64) {
	scale, offset = 1, 0
	if attrs == nil {
		return
	}
	if v, ok := attrFloat(attrs, "scale_factor"); ok {
		scale = v
	}
	if v, ok := attrFloat(attrs, "add_offset"); ok {
		offset = v
	}
	return
}

func attrFloat(attrs api.AttributeMap, name string) (float64, bool) {
	raw, has := attrs.Get(name)
	if !has {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case []float64:
		if len(v) == 1 {
			return v[0], true
		}
	case []float32:
		if len(v) == 1 {
			return float64(v[0]), true
		}
	}
	return 0, false
}

// sliceCube cuts the cube down to the bounding-box indexes, flipping a
// descending latitude axis so rows come out south-to-north.
func sliceCube(name string, cube [][][]float64, latIdx []int, latDesc bool, lonIdx []int, lonDesc bool) ([][][]float64, error) {
	out := make([][][]float64, len(cube))
	for t := range cube {
		grid2 := make([][]float64, len(latIdx))
		for i, li := range latIdx {
			if li >= len(cube[t]) {
				return nil, &DecodeError{Msg: fmt.Sprintf("%s latitude axis shorter than coordinate variable", name)}
			}
			srcRow := cube[t][li]
			row := make([]float64, len(lonIdx))
			for j, lj := range lonIdx {
				if lj >= len(srcRow) {
					return nil, &DecodeError{Msg: fmt.Sprintf("%s longitude axis shorter than coordinate variable", name)}
				}
				row[j] = srcRow[lj]
			}
			if lonDesc {
				for a, b := 0, len(row)-1; a < b; a, b = a+1, b-1 {
					row[a], row[b] = row[b], row[a]
				}
			}
			grid2[i] = row
		}
		if latDesc {
			for a, b := 0, len(grid2)-1; a < b; a, b = a+1, b-1 {
				grid2[a], grid2[b] = grid2[b], grid2[a]
			}
		}
		out[t] = grid2
	}
	return out, nil
}
