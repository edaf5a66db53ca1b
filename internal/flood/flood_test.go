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

package flood

import (
	"errors"
	"math"
	"testing"

	"github.com/valyala/fastrand"

	"github.com/mlnoga/floodlight/internal/connectivity"
	"github.com/mlnoga/floodlight/internal/raster"
	"github.com/mlnoga/floodlight/internal/terrain"
)

func filled(w, h int, unit raster.Unit, v float32) *raster.Raster {
	r := raster.New(raster.NewGrid(w, h), unit)
	for i := range r.Data {
		r.Data[i] = v
	}
	return r
}

func inBlock(x, y, x0, y0, x1, y1 int) bool {
	return x >= x0 && x < x1 && y >= y0 && y < y1
}

// Square mask covering [x0,x1)x[y0,y1) on a w x h grid
func blockMask(w, h, x0, y0, x1, y1 int) *raster.Raster {
	m := raster.NewMasked(raster.NewGrid(w, h), raster.UnitMask)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			m.Set(y*w+x, 1)
		}
	}
	return m
}

func sameMask(a, b *raster.Raster) bool {
	for i := range a.Data {
		sa := a.IsValid(i) && a.Data[i] != 0
		sb := b.IsValid(i) && b.Data[i] != 0
		if sa != sb {
			return false
		}
	}
	return true
}

func TestRoundTrip(t *testing.T) {
	vals := []float32{-30, -15.5, -1e-3, 0, 0.01, 3, 25}
	r := raster.NewFromData(raster.NewGrid(len(vals), 1), raster.UnitDB, append([]float32(nil), vals...))
	nat, err := raster.ToNatural(r)
	if err != nil {
		t.Fatal(err)
	}
	back, err := raster.ToDB(nat)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vals {
		if math.Abs(float64(back.Data[i]-v)) > 1e-4 {
			t.Errorf("toDB(toNatural(%f)) got %f", v, back.Data[i])
		}
	}
}

func TestEndToEndBlock(t *testing.T) {
	before := filled(50, 50, raster.UnitDB, -15)
	after := filled(50, 50, raster.UnitDB, -15)
	for y := 20; y < 30; y++ {
		for x := 20; x < 30; x++ {
			after.Data[y*50+x] = -25
		}
	}
	d, err := Detect(before, after, DefaultDetectParams())
	if err != nil {
		t.Fatal(err)
	}
	if d.Mask.Unit != raster.UnitMask {
		t.Errorf("mask unit %s", d.Mask.Unit)
	}
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			set := d.Mask.IsValidAt(x, y)
			if inBlock(x, y, 23, 23, 27, 27) && !set {
				t.Errorf("block interior (%d,%d) not flagged", x, y)
			}
			if !inBlock(x, y, 17, 17, 33, 33) && set {
				t.Errorf("background (%d,%d) flagged", x, y)
			}
		}
	}
}

// A block brightening from natural 0.01 to 0.1 goes from -20 dB to -10 dB.
// The dB ratio is 0.5, so nothing is flagged.
func TestBrighteningBlockNotFlagged(t *testing.T) {
	before, err := raster.ToDB(filled(50, 50, raster.UnitNatural, 0.01))
	if err != nil {
		t.Fatal(err)
	}
	afterNat := filled(50, 50, raster.UnitNatural, 0.01)
	for y := 20; y < 30; y++ {
		for x := 20; x < 30; x++ {
			afterNat.Data[y*50+x] = 0.1
		}
	}
	after, err := raster.ToDB(afterNat)
	if err != nil {
		t.Fatal(err)
	}
	d, err := Detect(before, after, DefaultDetectParams())
	if err != nil {
		t.Fatal(err)
	}
	if r, ok := d.Ratio.At(25, 25); !ok || math.Abs(float64(r)-0.5) > 1e-3 {
		t.Errorf("ratio at block center got %f,%v want 0.5", r, ok)
	}
	if n := raster.CountTrue(d.Mask); n != 0 {
		t.Errorf("got %d flagged pixels, want 0", n)
	}
}

func TestDetectTiledMatchesUntiled(t *testing.T) {
	rng := fastrand.RNG{}
	before := raster.New(raster.NewGrid(40, 30), raster.UnitDB)
	after := raster.New(before.Grid, raster.UnitDB)
	for i := range before.Data {
		before.Data[i] = -20 + float32(rng.Uint32n(1000))/100
		after.Data[i] = -20 + float32(rng.Uint32n(1000))/100
	}
	p := DefaultDetectParams()
	want, err := Detect(before, after, p)
	if err != nil {
		t.Fatal(err)
	}
	p.TileSize, p.MaxThreads = 8, 2
	got, err := Detect(before, after, p)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want.Ratio.Data {
		if want.Ratio.Data[i] != got.Ratio.Data[i] || want.Mask.IsValid(i) != got.Mask.IsValid(i) {
			t.Errorf("pixel %d differs", i)
		}
	}
}

func TestDetectErrors(t *testing.T) {
	dB := filled(10, 10, raster.UnitDB, -10)
	nat := filled(10, 10, raster.UnitNatural, 0.1)
	other := filled(12, 10, raster.UnitDB, -10)

	var iu *raster.InvalidUnitError
	if _, err := Detect(nat, dB, DefaultDetectParams()); !errors.As(err, &iu) {
		t.Errorf("got %v, want InvalidUnitError", err)
	}
	var gm *raster.GridMismatchError
	if _, err := Detect(dB, other, DefaultDetectParams()); !errors.As(err, &gm) {
		t.Errorf("got %v, want GridMismatchError", err)
	}
}

func TestZeroBeforeIsInvalid(t *testing.T) {
	before := raster.NewFromData(raster.NewGrid(3, 1), raster.UnitDB, []float32{0, -10, -10})
	after := raster.NewFromData(raster.NewGrid(3, 1), raster.UnitDB, []float32{-10, -20, -5})
	ratio, err := ChangeRatio(before, after)
	if err != nil {
		t.Fatal(err)
	}
	if ratio.IsValid(0) {
		t.Errorf("zero before value should give an invalid ratio")
	}
	mask, _ := Threshold(ratio, DefaultDiffThreshold)
	if mask.IsValid(0) || !mask.IsValid(1) || mask.IsValid(2) {
		t.Errorf("unexpected mask validity %v", mask.Valid)
	}
}

func TestSuggestThreshold(t *testing.T) {
	rng := fastrand.RNG{}
	ratio := raster.New(raster.NewGrid(100, 100), raster.UnitRatio)
	for i := range ratio.Data {
		// sum of uniforms, roughly normal around 1 with sigma 0.05
		s := float32(0)
		for j := 0; j < 12; j++ {
			s += float32(rng.Uint32n(1<<20)) / float32(1<<20)
		}
		ratio.Data[i] = 1 + 0.05*(s-6)
	}
	th, err := SuggestThreshold(ratio, 3)
	if err != nil {
		t.Fatal(err)
	}
	if th < 1.1 || th > 1.2 {
		t.Errorf("got %f, want about 1.15", th)
	}
}

func TestRefineHalfWater(t *testing.T) {
	initial := blockMask(50, 50, 20, 20, 30, 30)
	seasonality := filled(50, 50, raster.UnitMonths, 0)
	for y := 0; y < 50; y++ {
		for x := 0; x < 25; x++ {
			seasonality.Data[y*50+x] = 12
		}
	}
	dem := filled(50, 50, raster.UnitMeters, 3)

	st, err := NewRefiner(terrain.New(), connectivity.New(true)).Refine(initial, seasonality, dem)
	if err != nil {
		t.Fatal(err)
	}
	want := blockMask(50, 50, 25, 20, 30, 30)
	if !sameMask(st.Final, want) {
		t.Errorf("final mask has %d pixels, want right half of block", raster.CountTrue(st.Final))
	}
	if !sameMask(st.NoSteepSlope, st.NoPermanentWater) {
		t.Errorf("flat terrain should exclude nothing")
	}
}

func TestRefineIsolatedPixel(t *testing.T) {
	initial := blockMask(20, 20, 2, 2, 6, 6)
	initial.Set(15*20+15, 1)

	st, err := NewRefiner(terrain.New(), connectivity.New(true)).Refine(initial, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Final.IsValidAt(15, 15) {
		t.Errorf("isolated pixel survived refinement")
	}
	if raster.CountTrue(st.Final) != 16 {
		t.Errorf("got %d pixels want 16", raster.CountTrue(st.Final))
	}
	if st.NoPermanentWater != initial || st.NoSteepSlope != initial {
		t.Errorf("skipped stages should pass the mask through")
	}
}

func TestSteepAndUndefinedSlopeExcluded(t *testing.T) {
	slope := raster.NewFromData(raster.NewGrid(4, 1), raster.UnitDegrees, []float32{0, 5, 5.01, float32(math.NaN())})
	keep, err := SlopeKeep(slope, 5)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{1, 1, 0, 0}
	for i, w := range want {
		if keep.Data[i] != w {
			t.Errorf("keep %d got %f want %f", i, keep.Data[i], w)
		}
	}
}

func TestMissingSeasonalityIsKept(t *testing.T) {
	s := raster.NewFromData(raster.NewGrid(4, 1), raster.UnitMonths, []float32{0, 4, 5, float32(math.NaN())})
	keep, err := PermanentWaterKeep(s, 5)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{1, 1, 0, 1}
	for i, w := range want {
		if keep.Data[i] != w {
			t.Errorf("keep %d got %f want %f", i, keep.Data[i], w)
		}
	}
}

func TestRefineMonotonicAndCommutative(t *testing.T) {
	rng := fastrand.RNG{}
	w, h := 40, 40
	initial := raster.NewMasked(raster.NewGrid(w, h), raster.UnitMask)
	seasonality := raster.New(initial.Grid, raster.UnitMonths)
	dem := raster.New(initial.Grid, raster.UnitMeters)
	for i := range initial.Data {
		if rng.Uint32n(3) != 0 {
			initial.Set(i, 1)
		}
		seasonality.Data[i] = float32(rng.Uint32n(13))
		dem.Data[i] = float32(rng.Uint32n(3))
	}

	st, err := NewRefiner(terrain.New(), connectivity.New(true)).Refine(initial, seasonality, dem)
	if err != nil {
		t.Fatal(err)
	}
	chain := []*raster.Raster{st.Initial, st.NoPermanentWater, st.NoSteepSlope, st.Final}
	for i := 1; i < len(chain); i++ {
		if !raster.IsSubset(chain[i], chain[i-1]) {
			t.Errorf("stage %d is not a subset of stage %d", i, i-1)
		}
	}

	water, _ := PermanentWaterKeep(seasonality, 5)
	flat, _ := SlopeKeep(st.Slope, 5)
	connected, _ := ConnectedKeep(st.Counts, 8)
	orders := [][]*raster.Raster{
		{water, flat, connected}, {water, connected, flat},
		{flat, water, connected}, {flat, connected, water},
		{connected, water, flat}, {connected, flat, water},
	}
	for i, o := range orders {
		got, err := Apply(initial, o...)
		if err != nil {
			t.Fatal(err)
		}
		if !sameMask(got, st.Final) {
			t.Errorf("order %d gives a different final mask", i)
		}
	}
}
