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

// Package synth generates synthetic SAR scenes with multiplicative speckle.
package synth

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/valyala/fastrand"

	"github.com/mlnoga/floodlight/internal/raster"
	"github.com/mlnoga/floodlight/internal/region"
	"github.com/mlnoga/floodlight/internal/source"
)

// Parameters of a synthetic flood scene
type Params struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	BeforeDB float32 `json:"beforeDB"` // backscatter of dry land
	FloodDB  float32 `json:"floodDB"`  // backscatter of flooded land in the after scene
	Looks    int     `json:"looks"`    // number of looks, higher means less speckle
	Block    [4]int  `json:"block"`    // flooded block x0, y0, x1, y1
	River    [2]int  `json:"river"`    // columns x0, x1 of a permanent river
	HillX    int     `json:"hillX"`    // columns from here on rise steeply
	Seed     uint32  `json:"seed"`
	OriginX  float64 `json:"originX"`
	OriginY  float64 `json:"originY"`
	Scale    float64 `json:"scale"` // pixel size in meters
}

// Creates parameters for a 128x128 scene at 10 meters in the tc-cody region
func DefaultParams() Params {
	b := region.TCCody.Bound()
	return Params{
		Width: 128, Height: 128,
		BeforeDB: -15, FloodDB: -25,
		Looks: 4,
		Block: [4]int{30, 40, 70, 80},
		River: [2]int{50, 54},
		HillX: 100,
		Seed:  42,
		OriginX: b.Min[0], OriginY: b.Max[1],
		Scale: 10,
	}
}

// Geographic grid of the scene, with square pixels of Scale meters at the origin latitude
func (p Params) Grid() raster.Grid {
	lat := p.OriginY * math.Pi / 180
	return raster.Grid{
		Width:       p.Width,
		Height:      p.Height,
		OriginX:     p.OriginX,
		OriginY:     p.OriginY,
		PixelWidth:  p.Scale / (111320 * math.Cos(lat)),
		PixelHeight: -p.Scale / 110540,
		CRS:         source.DefaultCRS,
	}
}

func (p Params) inBlock(x, y int) bool {
	return x >= p.Block[0] && x < p.Block[2] && y >= p.Block[1] && y < p.Block[3]
}

func (p Params) inRiver(x int) bool {
	return x >= p.River[0] && x < p.River[1]
}

// Draws a unit mean gamma variate with shape looks, as the mean of looks exponentials
func gamma(rng *fastrand.RNG, looks int) float64 {
	sum := 0.0
	for i := 0; i < looks; i++ {
		u := (float64(rng.Uint32n(1<<30)) + 0.5) / float64(1<<30)
		sum -= math.Log(u)
	}
	return sum / float64(looks)
}

// Generates speckled before and after scenes in dB. The river is dark in both,
// the flooded block only in the after scene
func Scenes(p Params) (before, after *raster.Raster, err error) {
	if p.Width <= 0 || p.Height <= 0 || p.Looks <= 0 {
		return nil, nil, fmt.Errorf("invalid synthetic scene %dx%d with %d looks", p.Width, p.Height, p.Looks)
	}
	rng := fastrand.RNG{}
	rng.Seed(p.Seed)

	grid := p.Grid()
	before = raster.New(grid, raster.UnitDB)
	before.ID, before.Name = 1, "before"
	after = raster.New(grid, raster.UnitDB)
	after.ID, after.Name = 2, "after"

	dry := math.Pow(10, float64(p.BeforeDB)/10)
	wet := math.Pow(10, float64(p.FloodDB)/10)
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			i := y*p.Width + x
			b, a := dry, dry
			if p.inRiver(x) {
				b, a = wet, wet
			} else if p.inBlock(x, y) {
				a = wet
			}
			before.Data[i] = float32(10 * math.Log10(b*gamma(&rng, p.Looks)))
			after.Data[i] = float32(10 * math.Log10(a*gamma(&rng, p.Looks)))
		}
	}
	return before, after, nil
}

// Water seasonality in months: 12 in the river, missing elsewhere as in global surface water data
func Seasonality(p Params) *raster.Raster {
	r := raster.NewMasked(p.Grid(), raster.UnitMonths)
	r.Name = "seasonality"
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			if p.inRiver(x) {
				r.Set(y*p.Width+x, 12)
			}
		}
	}
	return r
}

// Elevation in meters: a plain at 2 meters with a hill rising at 30 percent from HillX on
func Elevation(p Params) *raster.Raster {
	r := raster.New(p.Grid(), raster.UnitMeters)
	r.Name = "elevation"
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			h := 2.0
			if x > p.HillX {
				h += 0.3 * p.Scale * float64(x-p.HillX)
			}
			r.Data[y*p.Width+x] = float32(h)
		}
	}
	return r
}

// Writes before and after scenes, auxiliary layers and a catalogue into dir.
// Returns the catalogue file name
func WriteCatalogue(p Params, dir string, logWriter io.Writer) (string, error) {
	before, after, err := Scenes(p)
	if err != nil {
		return "", err
	}
	files := []struct {
		name string
		r    *raster.Raster
	}{
		{"before.fits", before},
		{"after.fits", after},
		{"seasonality.fits", Seasonality(p)},
		{"elevation.fits", Elevation(p)},
	}
	for _, f := range files {
		if err := f.r.WriteFITSFile(filepath.Join(dir, f.name)); err != nil {
			return "", err
		}
		fmt.Fprintf(logWriter, "%d: Wrote synthetic %s %s\n", f.r.ID, f.r.DimensionsToString(), f.name)
	}

	g := p.Grid()
	bounds := [4]float64{
		g.OriginX, g.OriginY + float64(g.Height)*g.PixelHeight,
		g.OriginX + float64(g.Width)*g.PixelWidth, g.OriginY,
	}
	scene := func(file string, acquired time.Time) source.Scene {
		return source.Scene{File: file, Platform: "synthetic", InstrumentMode: "IW", Polarisations: []string{"VV", "VH"},
			OrbitPass: "DESCENDING", ResolutionMeters: p.Scale, Acquired: acquired, Bounds: bounds}
	}
	c := source.Catalogue{
		Scenes: []source.Scene{
			scene("before.fits", time.Date(2021, 12, 15, 6, 30, 0, 0, time.UTC)),
			scene("after.fits", time.Date(2022, 1, 12, 6, 30, 0, 0, time.UTC)),
		},
		Layers: []source.AuxLayer{
			{Name: "seasonality", File: "seasonality.fits", Unit: raster.UnitMonths},
			{Name: "elevation", File: "elevation.fits", Unit: raster.UnitMeters},
		},
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	fileName := filepath.Join(dir, "catalogue.json")
	if err := os.WriteFile(fileName, data, 0644); err != nil {
		return "", err
	}
	return fileName, nil
}
