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

package synth

import (
	"context"
	"io"
	"math"
	"testing"

	"github.com/mlnoga/floodlight/internal/connectivity"
	"github.com/mlnoga/floodlight/internal/flood"
	"github.com/mlnoga/floodlight/internal/raster"
	"github.com/mlnoga/floodlight/internal/region"
	"github.com/mlnoga/floodlight/internal/source"
	"github.com/mlnoga/floodlight/internal/terrain"
)

func TestScenesDeterministic(t *testing.T) {
	p := DefaultParams()
	p.Width, p.Height = 32, 32
	b1, a1, err := Scenes(p)
	if err != nil {
		t.Fatal(err)
	}
	b2, a2, _ := Scenes(p)
	for i := range b1.Data {
		if b1.Data[i] != b2.Data[i] || a1.Data[i] != a2.Data[i] {
			t.Fatalf("pixel %d differs between runs with the same seed", i)
		}
	}
	if b1.Unit != raster.UnitDB || a1.Unit != raster.UnitDB {
		t.Errorf("scenes should be in dB")
	}
}

func TestSpeckleStatistics(t *testing.T) {
	p := DefaultParams()
	before, after, err := Scenes(p)
	if err != nil {
		t.Fatal(err)
	}
	nat, _ := raster.ToNatural(before)

	// dry land away from river and hill has unit mean gamma speckle around BeforeDB
	sum, sumSq, n := 0.0, 0.0, 0
	for y := 0; y < p.Height; y++ {
		for x := 0; x < 40; x++ {
			if p.inRiver(x) || p.inBlock(x, y) {
				continue
			}
			v := float64(nat.Data[y*p.Width+x])
			sum += v
			sumSq += v * v
			n++
		}
	}
	mean := sum / float64(n)
	want := math.Pow(10, float64(p.BeforeDB)/10)
	if math.Abs(mean/want-1) > 0.05 {
		t.Errorf("mean backscatter %g, want about %g", mean, want)
	}
	cv2 := (sumSq/float64(n) - mean*mean) / (mean * mean)
	if math.Abs(cv2-1/float64(p.Looks)) > 0.03 {
		t.Errorf("squared coefficient of variation %g, want about %g", cv2, 1/float64(p.Looks))
	}

	// the flooded block is darker after the event
	bs, as := 0.0, 0.0
	for y := p.Block[1]; y < p.Block[3]; y++ {
		for x := p.Block[0]; x < p.Block[0]+10; x++ {
			bs += float64(before.Data[y*p.Width+x])
			as += float64(after.Data[y*p.Width+x])
		}
	}
	if !(as < bs) {
		t.Errorf("flooded block not darker after the event")
	}
}

func TestAuxLayers(t *testing.T) {
	p := DefaultParams()
	s := Seasonality(p)
	if v, ok := s.At(p.River[0], 3); !ok || v != 12 {
		t.Errorf("river seasonality got %f,%v", v, ok)
	}
	if s.IsValidAt(0, 0) {
		t.Errorf("dry land seasonality should be missing")
	}
	slope, err := terrain.New().Slope(Elevation(p))
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := slope.At(p.HillX+5, 10); v < 10 {
		t.Errorf("hill slope %f, want steep", v)
	}
	if v, _ := slope.At(10, 10); v != 0 {
		t.Errorf("plain slope %f, want 0", v)
	}
}

// Full chain: synthetic catalogue, fetch, detect, refine
func TestFloodMapFromCatalogue(t *testing.T) {
	p := DefaultParams()
	fileName, err := WriteCatalogue(p, t.TempDir(), io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	c, err := source.LoadCatalogue(fileName)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	bs, be, _ := source.ParseWindow("2021-12-01", "2022-01-01")
	as, ae, _ := source.ParseWindow("2022-01-08", "2022-01-20")
	before, err := c.Fetch(ctx, source.NewQuery(region.TCCody, bs, be))
	if err != nil {
		t.Fatal(err)
	}
	after, err := c.Fetch(ctx, source.NewQuery(region.TCCody, as, ae))
	if err != nil {
		t.Fatal(err)
	}
	d, err := flood.Detect(before, after, flood.DefaultDetectParams())
	if err != nil {
		t.Fatal(err)
	}
	seasonality, _ := c.Layer(ctx, "seasonality", region.TCCody)
	elevation, _ := c.Layer(ctx, "elevation", region.TCCody)
	st, err := flood.NewRefiner(terrain.New(), connectivity.New(true)).Refine(d.Mask, seasonality, elevation)
	if err != nil {
		t.Fatal(err)
	}

	inside, insideSet, outside, outsideSet := 0, 0, 0, 0
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			set := st.Final.IsValidAt(x, y)
			core := x >= p.Block[0]+3 && x < p.Block[2]-3 && y >= p.Block[1]+3 && y < p.Block[3]-3
			near := x >= p.Block[0]-4 && x < p.Block[2]+4 && y >= p.Block[1]-4 && y < p.Block[3]+4
			if p.inRiver(x) && set {
				t.Errorf("permanent river pixel (%d,%d) flagged", x, y)
			}
			if x > p.HillX+1 && set {
				t.Errorf("steep hill pixel (%d,%d) flagged", x, y)
			}
			switch {
			case core && !p.inRiver(x):
				inside++
				if set {
					insideSet++
				}
			case !near:
				outside++
				if set {
					outsideSet++
				}
			}
		}
	}
	if float64(insideSet) < 0.9*float64(inside) {
		t.Errorf("only %d of %d flooded pixels detected", insideSet, inside)
	}
	if float64(outsideSet) > 0.01*float64(outside) {
		t.Errorf("%d of %d dry pixels flagged", outsideSet, outside)
	}
}
