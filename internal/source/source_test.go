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

package source

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mlnoga/floodlight/internal/raster"
	"github.com/mlnoga/floodlight/internal/region"
)

var testGrid = raster.Grid{Width: 4, Height: 4, OriginX: 177.67, OriginY: -17.50, PixelWidth: 0.001, PixelHeight: -0.001, CRS: "EPSG:4326"}

func writeScene(t *testing.T, dir, name string, v float32, invalid func(x, y int) bool) {
	r := raster.New(testGrid, raster.UnitDB)
	for y := 0; y < testGrid.Height; y++ {
		for x := 0; x < testGrid.Width; x++ {
			i := y*testGrid.Width + x
			if invalid != nil && invalid(x, y) {
				r.Invalidate(i)
			} else {
				r.Data[i] = v
			}
		}
	}
	if err := r.WriteFITSFile(filepath.Join(dir, name)); err != nil {
		t.Fatal(err)
	}
}

func date(s string) time.Time {
	d, _ := time.Parse(DateLayout, s)
	return d
}

func testCatalogue(t *testing.T) string {
	dir := t.TempDir()
	writeScene(t, dir, "a.fits", -10, func(x, y int) bool { return y == 3 })
	writeScene(t, dir, "b.fits", -20, func(x, y int) bool { return x < 2 })
	writeScene(t, dir, "c.fits", -30, nil)
	writeScene(t, dir, "water.fits", 12, nil)

	bounds := [4]float64{177.6, -17.6, 177.8, -17.4}
	scene := func(file, pass, acquired string) Scene {
		return Scene{File: file, Platform: "S1A", InstrumentMode: "IW", Polarisations: []string{"VV", "VH"},
			OrbitPass: pass, ResolutionMeters: 10, Acquired: date(acquired), Bounds: bounds}
	}
	c := Catalogue{
		Scenes: []Scene{
			scene("b.fits", "DESCENDING", "2021-12-20"),
			scene("a.fits", "DESCENDING", "2021-12-05"),
			scene("c.fits", "ASCENDING", "2021-12-10"),
		},
		Layers: []AuxLayer{{Name: "seasonality", File: "water.fits", Unit: raster.UnitMonths}},
	}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	fileName := filepath.Join(dir, "catalogue.json")
	if err := os.WriteFile(fileName, data, 0644); err != nil {
		t.Fatal(err)
	}
	return fileName
}

func TestSelect(t *testing.T) {
	c, err := LoadCatalogue(testCatalogue(t))
	if err != nil {
		t.Fatal(err)
	}
	q := NewQuery(region.TCCody, date("2021-12-01"), date("2022-01-01"))
	scenes := c.Select(q)
	if len(scenes) != 2 || scenes[0].File != "a.fits" || scenes[1].File != "b.fits" {
		t.Errorf("got %v", scenes)
	}

	q.Start, q.End = date("2021-12-06"), date("2021-12-20")
	if s := c.Select(q); len(s) != 0 {
		t.Errorf("window end is exclusive, got %v", s)
	}

	q = NewQuery(region.NewRectangle("far", 0, 0, 1, 1), time.Time{}, time.Time{})
	if s := c.Select(q); len(s) != 0 {
		t.Errorf("region filter failed, got %v", s)
	}

	q = NewQuery(nil, time.Time{}, time.Time{})
	q.Polarisation = "HH"
	if s := c.Select(q); len(s) != 0 {
		t.Errorf("polarisation filter failed, got %v", s)
	}
}

func TestFetchMosaic(t *testing.T) {
	c, err := LoadCatalogue(testCatalogue(t))
	if err != nil {
		t.Fatal(err)
	}
	all := region.NewRectangle("all", 177, -18, 178, -17)
	m, err := c.Fetch(context.Background(), NewQuery(all, date("2021-12-01"), date("2022-01-01")))
	if err != nil {
		t.Fatal(err)
	}
	if m.Unit != raster.UnitDB || !m.Grid.SameAs(testGrid) {
		t.Errorf("got %v on %v", m, m.Grid)
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			v, ok := m.At(x, y)
			switch {
			case x >= 2:
				if !ok || v != -20 {
					t.Errorf("(%d,%d) got %f,%v want later scene -20", x, y, v, ok)
				}
			case y < 3:
				if !ok || v != -10 {
					t.Errorf("(%d,%d) got %f,%v want earlier scene -10", x, y, v, ok)
				}
			default:
				if ok {
					t.Errorf("(%d,%d) should be invalid", x, y)
				}
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Fetch(ctx, NewQuery(all, date("2021-12-01"), date("2022-01-01"))); err == nil {
		t.Errorf("expected error on cancelled context")
	}
	if _, err := c.Fetch(context.Background(), NewQuery(all, date("2020-01-01"), date("2020-02-01"))); err == nil {
		t.Errorf("expected error on empty selection")
	}
}

func TestLayer(t *testing.T) {
	c, err := LoadCatalogue(testCatalogue(t))
	if err != nil {
		t.Fatal(err)
	}
	l, err := c.Layer(context.Background(), "seasonality", nil)
	if err != nil {
		t.Fatal(err)
	}
	if l.Unit != raster.UnitMonths || l.Name != "seasonality" || l.Data[0] != 12 {
		t.Errorf("got %v", l)
	}
	if _, err := c.Layer(context.Background(), "elevation", nil); !errors.Is(err, ErrNoLayer) {
		t.Errorf("got %v, want ErrNoLayer", err)
	}
}

func TestFiles(t *testing.T) {
	c := &Catalogue{
		Scenes: []Scene{{File: "a.fits"}, {File: "/abs/b.fits"}},
		Layers: []AuxLayer{{Name: "elevation", File: "dem.nc"}},
		Dir:    "cat",
	}
	want := []string{filepath.Join("cat", "a.fits"), "/abs/b.fits", filepath.Join("cat", "dem.nc")}
	got := c.Files()
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("file %d got %s want %s", i, got[i], want[i])
		}
	}
}

func TestMosaicErrors(t *testing.T) {
	if _, err := Mosaic(nil); err == nil {
		t.Errorf("expected error on empty mosaic")
	}
	a := raster.New(raster.NewGrid(2, 2), raster.UnitDB)
	b := raster.New(raster.NewGrid(3, 2), raster.UnitDB)
	if _, err := Mosaic([]*raster.Raster{a, b}); err == nil {
		t.Errorf("expected grid mismatch")
	}
	c := raster.New(raster.NewGrid(2, 2), raster.UnitNatural)
	if _, err := Mosaic([]*raster.Raster{a, c}); err == nil {
		t.Errorf("expected unit mismatch")
	}
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	mask := raster.NewMasked(testGrid, raster.UnitMask)
	mask.Set(5, 1)

	for _, suffix := range []string{".fits", ".tif", ".jpg"} {
		s := NewFileSink(dir)
		s.Suffix = suffix
		opts := ExportOptions{Region: region.TCCody, CRS: DefaultCRS, Scale: DefaultScale, Description: "flood-mask" + suffix[1:]}
		if err := s.Export(context.Background(), mask, opts); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(filepath.Join(dir, opts.Description+suffix)); err != nil {
			t.Errorf("%s: %v", suffix, err)
		}

		data, err := os.ReadFile(filepath.Join(dir, opts.Description+".geojson"))
		if err != nil {
			t.Fatal(err)
		}
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			t.Fatal(err)
		}
		props := fc.Features[0].Properties
		if props["crs"] != "EPSG:4326" || props["scale"] != 10.0 || props["name"] != "tc-cody" {
			t.Errorf("%s: unexpected sidecar properties %v", suffix, props)
		}
	}

	back, err := ReadRaster(filepath.Join(dir, "flood-maskfits.fits"), "", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if back.Unit != raster.UnitMask || back.ValidCount() != 1 || !back.IsValid(5) {
		t.Errorf("got %v", back)
	}

	if err := NewFileSink(dir).Export(context.Background(), mask, ExportOptions{}); err == nil {
		t.Errorf("expected error without description")
	}
	for _, desc := range []string{"../escape", "sub/mask", ".."} {
		if err := NewFileSink(dir).Export(context.Background(), mask, ExportOptions{Description: desc}); err == nil {
			t.Errorf("expected error for description %q", desc)
		}
	}
}
