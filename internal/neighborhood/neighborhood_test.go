// Copyright (C) 2022 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package neighborhood

import (
	"math"
	"testing"

	"github.com/mlnoga/floodlight/internal/raster"
)

func sameKernel(a, b *Kernel) bool {
	if a.Width != b.Width || a.Height != b.Height || a.AnchorX != b.AnchorX || a.AnchorY != b.AnchorY {
		return false
	}
	for i := range a.Weights {
		if a.Weights[i] != b.Weights[i] {
			return false
		}
	}
	return true
}

func TestRotateFourTimesIsIdentity(t *testing.T) {
	k := MustKernel([][]int{
		{1, 0, 0},
		{1, 1, 0},
		{0, 0, 0},
		{0, 1, 1},
	}, 1, 2)
	for i := 0; i < 4; i++ {
		r := k.Rotate(i)
		if !sameKernel(r.Rotate(4-i), k) {
			t.Errorf("rotate(%d) then rotate(%d) differs from original:\n%v", i, 4-i, r.Rotate(4-i))
		}
	}
	if !sameKernel(k.Rotate(4), k) || !sameKernel(k.Rotate(-4), k) {
		t.Errorf("full turn changed kernel")
	}
	if !sameKernel(k.Rotate(-1), k.Rotate(3)) {
		t.Errorf("rotate(-1) differs from rotate(3)")
	}
}

func TestRotateClockwise(t *testing.T) {
	// set position above the anchor moves to the right of it
	k := MustKernel([][]int{
		{0, 1, 0},
		{0, 1, 0},
		{0, 0, 0},
	}, 1, 1)
	offs := k.Rotate(1).Offsets()
	want := []Offset{{0, 0}, {1, 0}}
	if len(offs) != len(want) {
		t.Fatalf("got %v want %v", offs, want)
	}
	for i := range want {
		if offs[i] != want[i] {
			t.Errorf("offset %d got %v want %v", i, offs[i], want[i])
		}
	}

	// anchor follows the rotation on non-square kernels
	k2 := MustKernel([][]int{{1, 1, 1}}, 0, 0)
	r2 := k2.Rotate(1)
	if r2.Width != 1 || r2.Height != 3 || r2.AnchorX != 0 || r2.AnchorY != 0 {
		t.Errorf("got %dx%d anchor (%d,%d), want 1x3 anchor (0,0)", r2.Width, r2.Height, r2.AnchorX, r2.AnchorY)
	}
}

func TestNewKernelErrors(t *testing.T) {
	tcs := []struct {
		name    string
		weights [][]int
		ax, ay  int
	}{
		{"empty", [][]int{}, 0, 0},
		{"ragged", [][]int{{1, 1}, {1}}, 0, 0},
		{"weight", [][]int{{1, 2}}, 0, 0},
		{"anchor", [][]int{{1, 1}}, 2, 0},
	}
	for _, tc := range tcs {
		if _, err := NewKernel(tc.weights, tc.ax, tc.ay); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestRadius(t *testing.T) {
	if r := NewSquareKernel(7).Radius(); r != 3 {
		t.Errorf("radius of 7x7 got %d want 3", r)
	}
	if r := SampleKernel7x7.Radius(); r != 2 {
		t.Errorf("radius of sample kernel got %d want 2", r)
	}
}

// 4x3 raster with values 1..12 in row-major order
func ramp() *raster.Raster {
	r := raster.New(raster.NewGrid(4, 3), raster.UnitNatural)
	for i := range r.Data {
		r.Data[i] = float32(i + 1)
	}
	return r
}

func TestReduceMeanVariance(t *testing.T) {
	img := ramp()
	k := NewSquareKernel(3)
	mean, err := Reduce(img, k, Mean)
	if err != nil {
		t.Fatal(err)
	}
	variance, err := Reduce(img, k, Variance)
	if err != nil {
		t.Fatal(err)
	}

	tcs := []struct {
		x, y     int
		mean     float64
		variance float64
	}{
		{1, 1, 6, 102.0 / 9}, // full 3x3 window 1,2,3,5,6,7,9,10,11
		{0, 0, 3.5, 4.25},     // corner window 1,2,5,6
		{3, 2, 9.5, 4.25},     // corner window 7,8,11,12
	}
	for _, tc := range tcs {
		m, ok := mean.At(tc.x, tc.y)
		if !ok || math.Abs(float64(m)-tc.mean) > 1e-5 {
			t.Errorf("mean at (%d,%d) got %f,%v want %f", tc.x, tc.y, m, ok, tc.mean)
		}
		v, ok := variance.At(tc.x, tc.y)
		if !ok || math.Abs(float64(v)-tc.variance) > 1e-5 {
			t.Errorf("variance at (%d,%d) got %f,%v want %f", tc.x, tc.y, v, ok, tc.variance)
		}
	}
}

func TestReducePopulationVariance(t *testing.T) {
	img := raster.NewFromData(raster.NewGrid(3, 1), raster.UnitNatural, []float32{1, 2, 3})
	k := MustKernel([][]int{{1, 1, 1}}, 1, 0)
	variance, err := Reduce(img, k, Variance)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := variance.At(1, 0); !ok || math.Abs(float64(v)-2.0/3) > 1e-6 {
		t.Errorf("variance of {1,2,3} got %f,%v want %f", v, ok, 2.0/3)
	}
}

func TestReduceSkipsInvalid(t *testing.T) {
	img := raster.NewMasked(raster.NewGrid(3, 3), raster.UnitNatural)
	img.Set(4, 5) // only the center is valid

	mean, _ := Reduce(img, NewSquareKernel(3), Mean)
	variance, _ := Reduce(img, NewSquareKernel(3), Variance)
	for i := range img.Data {
		if m, ok := mean.At(i%3, i/3); !ok || m != 5 {
			t.Errorf("mean at %d got %f,%v want 5", i, m, ok)
		}
		if v, ok := variance.At(i%3, i/3); !ok || v != 0 {
			t.Errorf("variance at %d got %f,%v want 0", i, v, ok)
		}
	}

	none := raster.NewMasked(raster.NewGrid(3, 3), raster.UnitNatural)
	m, _ := Reduce(none, NewSquareKernel(3), Mean)
	if m.ValidCount() != 0 {
		t.Errorf("mean of all-invalid raster has %d valid pixels", m.ValidCount())
	}
}

func TestParallelRowsCoversAll(t *testing.T) {
	for _, h := range []int{0, 1, 16, 17, 100} {
		seen := make([]int32, h)
		ParallelRows(h, func(y0, y1 int) {
			for y := y0; y < y1; y++ {
				seen[y]++
			}
		})
		for y, s := range seen {
			if s != 1 {
				t.Errorf("height %d row %d visited %d times", h, y, s)
			}
		}
	}
}

func TestSampleSubgrid(t *testing.T) {
	img := raster.New(raster.NewGrid(7, 7), raster.UnitNatural)
	for i := range img.Data {
		img.Data[i] = float32(i)
	}
	bands, err := SampleSubgrid(img, SampleKernel7x7)
	if err != nil {
		t.Fatal(err)
	}
	if len(bands) != 9 {
		t.Fatalf("got %d bands want 9", len(bands))
	}

	// center band is the input itself
	for i := range img.Data {
		if !bands[4].IsValid(i) || bands[4].Data[i] != img.Data[i] {
			t.Errorf("band 4 at %d got %f want %f", i, bands[4].Data[i], img.Data[i])
		}
	}

	// at the window center, band b holds the sub-window center (2*(b%3)+1, 2*(b/3)+1)
	for b, band := range bands {
		x, y := 2*(b%3)+1, 2*(b/3)+1
		v, ok := band.At(3, 3)
		if !ok || v != float32(y*7+x) {
			t.Errorf("band %d at center got %f,%v want %d", b, v, ok, y*7+x)
		}
	}

	// out-of-bounds samples are invalid
	if bands[0].IsValidAt(0, 0) || bands[8].IsValidAt(6, 6) {
		t.Errorf("out-of-bounds samples should be invalid")
	}
}
