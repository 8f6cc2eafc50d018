package grid

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// stubSource fakes the NetCDF group with in-memory variables.
type stubSource map[string]*api.Variable

func (s stubSource) GetVariable(name string) (*api.Variable, error) {
	v, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("variable %s not found", name)
	}
	return v, nil
}

type stubAttrs map[string]interface{}

func (a stubAttrs) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	return keys
}

func (a stubAttrs) Get(key string) (interface{}, bool) {
	v, ok := a[key]
	return v, ok
}

func (a stubAttrs) GetType(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%T", v), true
}

func (a stubAttrs) GetGoType(key string) (string, bool) {
	return a.GetType(key)
}

var testBounds = Bounds{LatMin: 33.5, LatMax: 37.5, LonMin: 135.5, LonMax: 140}

// newStubSource builds a source with a lat axis descending (as MSM stores
// it) from 38 to 33 and a lon axis ascending 135..140, with `steps` time
// steps of constant cloud cover pct per layer.
func newStubSource(steps int, pct float32) stubSource {
	lats := []float32{38, 37, 36, 35, 34, 33}
	lons := []float32{135, 136, 137, 138, 139, 140}

	cube := make([][][]float32, steps)
	for t := range cube {
		cube[t] = make([][]float32, len(lats))
		for y := range cube[t] {
			row := make([]float32, len(lons))
			for x := range row {
				row[x] = pct
			}
			cube[t][y] = row
		}
	}

	return stubSource{
		"lat":    {Values: lats, Dimensions: []string{"lat"}},
		"lon":    {Values: lons, Dimensions: []string{"lon"}},
		VarUpper: {Values: cube, Dimensions: []string{"time", "lat", "lon"}},
		VarMid:   {Values: cube, Dimensions: []string{"time", "lat", "lon"}},
		VarLow:   {Values: cube, Dimensions: []string{"time", "lat", "lon"}},
	}
}

func TestDecodeSlicesToBounds(t *testing.T) {
	src := newStubSource(8, 50)

	series, err := decodeSource(src, Options{Bounds: testBounds, ExpectedSteps: 8})
	if err != nil {
		t.Fatalf("decodeSource: %v", err)
	}

	if series.Steps() != 8 {
		t.Errorf("steps = %d, want 8", series.Steps())
	}
	// Lats 34..37 are inside, returned ascending despite descending source.
	if len(series.Lats) != 4 || series.Lats[0] != 34 || series.Lats[3] != 37 {
		t.Errorf("lats = %v", series.Lats)
	}
	// Lons 136..140 are inside.
	if len(series.Lons) != 5 || series.Lons[0] != 136 {
		t.Errorf("lons = %v", series.Lons)
	}
	if got := series.Upper[0][0][0]; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("fraction = %f, want 0.5", got)
	}
	if len(series.Upper[0]) != len(series.Lats) || len(series.Upper[0][0]) != len(series.Lons) {
		t.Error("grid shape does not match sliced axes")
	}
}

func TestDecodeUnpacksInt16(t *testing.T) {
	src := newStubSource(2, 0)
	packed := [][][]int16{
		{{500, 500}, {500, 500}},
		{{1000, 1000}, {1000, 1000}},
	}
	// 2x2 grid fully inside bounds.
	src["lat"] = &api.Variable{Values: []float32{36, 35}}
	src["lon"] = &api.Variable{Values: []float32{137, 138}}
	for _, name := range []string{VarUpper, VarMid, VarLow} {
		src[name] = &api.Variable{
			Values:     packed,
			Attributes: stubAttrs{"scale_factor": float32(0.1), "add_offset": float32(0)},
		}
	}

	series, err := decodeSource(src, Options{Bounds: testBounds})
	if err != nil {
		t.Fatalf("decodeSource: %v", err)
	}
	if got := series.Low[0][0][0]; math.Abs(got-0.5) > 1e-6 {
		t.Errorf("unpacked fraction = %f, want 0.5", got)
	}
	if got := series.Low[1][0][0]; math.Abs(got-1.0) > 1e-6 {
		t.Errorf("unpacked fraction = %f, want 1.0", got)
	}
}

func TestDecodeMissingVariable(t *testing.T) {
	src := newStubSource(4, 10)
	delete(src, VarMid)

	_, err := decodeSource(src, Options{Bounds: testBounds})
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
}

func TestDecodeRejectsOutOfRangeValues(t *testing.T) {
	src := newStubSource(2, 250) // 250% cloud cover is nonsense

	_, err := decodeSource(src, Options{Bounds: testBounds})
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
}

func TestDecodeRejectsStepMismatch(t *testing.T) {
	src := newStubSource(6, 10)

	_, err := decodeSource(src, Options{Bounds: testBounds, ExpectedSteps: 8})
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
}

func TestDecodeEmptyBoundingBox(t *testing.T) {
	src := newStubSource(4, 10)

	_, err := decodeSource(src, Options{Bounds: Bounds{LatMin: 0, LatMax: 1, LonMin: 0, LonMax: 1}})
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
}
