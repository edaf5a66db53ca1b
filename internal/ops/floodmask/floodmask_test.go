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

package floodmask

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/floodlight/internal/ops"
	"github.com/mlnoga/floodlight/internal/raster"
	"github.com/mlnoga/floodlight/internal/region"
	"github.com/mlnoga/floodlight/internal/source"
	"github.com/mlnoga/floodlight/internal/synth"
)

var (
	beforeWindow = Window{Start: "2021-12-01", End: "2022-01-01"}
	afterWindow  = Window{Start: "2022-01-08", End: "2022-01-20"}
)

func testContext(t *testing.T) (*ops.Context, synth.Params, string) {
	p := synth.DefaultParams()
	p.Width, p.Height = 96, 96
	p.Block = [4]int{20, 20, 60, 60}
	p.River = [2]int{38, 42}
	p.HillX = 80
	dir := t.TempDir()
	fileName, err := synth.WriteCatalogue(p, dir, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	cat, err := source.LoadCatalogue(fileName)
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out")
	if err := os.Mkdir(out, 0755); err != nil {
		t.Fatal(err)
	}
	c := ops.NewContext(io.Discard)
	c.Source = cat
	c.Sink = source.NewFileSink(out)
	c.Region = region.TCCody
	return c, p, out
}

func TestFloodMapPipeline(t *testing.T) {
	c, p, out := testContext(t)
	seq := NewFloodMap(beforeWindow, afterWindow, NewOpDetectDefault(), NewOpRefineDefault(), NewOpExport("flood-mask"))
	outs, err := seq.MakePromises(nil, c)
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 1 {
		t.Fatalf("got %d outputs, want 1", len(outs))
	}
	mask, err := outs[0]()
	if err != nil {
		t.Fatal(err)
	}
	if mask.Unit != raster.UnitMask {
		t.Errorf("got unit %s", mask.Unit)
	}

	inside, insideSet := 0, 0
	for y := p.Block[1] + 3; y < p.Block[3]-3; y++ {
		for x := p.Block[0] + 3; x < p.Block[2]-3; x++ {
			if x >= p.River[0] && x < p.River[1] {
				if mask.IsValidAt(x, y) {
					t.Errorf("permanent river pixel (%d,%d) flagged", x, y)
				}
				continue
			}
			inside++
			if mask.IsValidAt(x, y) {
				insideSet++
			}
		}
	}
	if float64(insideSet) < 0.9*float64(inside) {
		t.Errorf("only %d of %d flooded pixels detected", insideSet, inside)
	}

	for _, f := range []string{"flood-mask.fits", "flood-mask.geojson"} {
		if _, err := os.Stat(filepath.Join(out, f)); err != nil {
			t.Errorf("missing export %s: %v", f, err)
		}
	}
}

func TestDetectOutputs(t *testing.T) {
	c, _, _ := testContext(t)
	for _, output := range []string{"ratio", "beforeFiltered", "afterFiltered"} {
		detect := NewOpDetectDefault()
		detect.Output = output
		detect.TileSize = 32
		outs, err := ops.NewOpSequence(NewOpFetch(beforeWindow, afterWindow), detect).MakePromises(nil, c)
		if err != nil {
			t.Fatal(err)
		}
		r, err := outs[0]()
		if err != nil {
			t.Fatal(err)
		}
		want := raster.UnitDB
		if output == "ratio" {
			want = raster.UnitRatio
		}
		if r.Unit != want {
			t.Errorf("%s: got unit %s want %s", output, r.Unit, want)
		}
	}

	detect := NewOpDetectDefault()
	detect.Output = "nonsense"
	if _, err := ops.NewOpSequence(NewOpFetch(beforeWindow, afterWindow), detect).MakePromises(nil, c); err == nil {
		t.Errorf("expected error for unknown output")
	}
	if _, err := ops.NewOpSequence(NewOpFetch(beforeWindow), NewOpDetectDefault()).MakePromises(nil, c); err == nil {
		t.Errorf("expected error for a single input")
	}
}

func TestRefineWithoutLayers(t *testing.T) {
	c, _, _ := testContext(t)
	c.Source = nil
	mask := raster.NewMasked(raster.NewGrid(10, 10), raster.UnitMask)
	mask.Set(0, 1) // isolated
	for y := 4; y < 8; y++ {
		for x := 4; x < 8; x++ {
			mask.Set(y*10+x, 1)
		}
	}
	res, err := NewOpRefineDefault().Apply(mask, c)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsValid(0) || raster.CountTrue(res) != 16 {
		t.Errorf("got %d pixels, isolated kept %v", raster.CountTrue(res), res.IsValid(0))
	}
}

func TestRefineCatalogueWithoutLayers(t *testing.T) {
	c, _, out := testContext(t)
	c.Source.(*source.Catalogue).Layers = nil
	var log bytes.Buffer
	c.Log = &log
	seq := NewFloodMap(beforeWindow, afterWindow, NewOpDetectDefault(), NewOpRefineDefault(), NewOpExport("flood-mask"))
	outs, err := seq.MakePromises(nil, c)
	if err != nil {
		t.Fatal(err)
	}
	mask, err := outs[0]()
	if err != nil {
		t.Fatal(err)
	}
	if raster.CountTrue(mask) == 0 {
		t.Errorf("no flooded pixels left")
	}
	for _, name := range []string{"seasonality", "elevation"} {
		if !strings.Contains(log.String(), "Layer "+name+" unavailable, skipping stage") {
			t.Errorf("missing skip message for %s in log:\n%s", name, log.String())
		}
	}
	if _, err := os.Stat(filepath.Join(out, "flood-mask.fits")); err != nil {
		t.Errorf("missing export: %v", err)
	}
}

func TestFetchErrors(t *testing.T) {
	c, _, _ := testContext(t)
	if _, err := NewOpFetch().MakePromises(nil, c); err == nil {
		t.Errorf("expected error without windows")
	}
	if _, err := NewOpFetch(Window{Start: "2022-01-20", End: "2022-01-08"}).MakePromises(nil, c); err == nil {
		t.Errorf("expected error for empty window")
	}
	c.Region = nil
	if _, err := NewOpFetch(beforeWindow).MakePromises(nil, c); err == nil {
		t.Errorf("expected error without region")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Ctx, c.Region = ctx, region.TCCody
	outs, err := NewOpFetch(beforeWindow).MakePromises(nil, c)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := outs[0](); err == nil {
		t.Errorf("expected error on cancelled context")
	}
}

func TestClip(t *testing.T) {
	c, _, _ := testContext(t)
	outs, err := ops.NewOpSequence(NewOpFetch(beforeWindow), NewOpClip(region.NewRectangle("none", 0, 0, 1, 1))).MakePromises(nil, c)
	if err != nil {
		t.Fatal(err)
	}
	r, err := outs[0]()
	if err != nil {
		t.Fatal(err)
	}
	if r.ValidCount() != 0 {
		t.Errorf("got %d valid pixels outside region", r.ValidCount())
	}
}

func TestPipelineJSON(t *testing.T) {
	data := []byte(`{"type":"seq","active":true,"steps":[
		{"type":"fetch","active":true,"windows":[{"start":"2021-12-01","end":"2022-01-01"},{"start":"2022-01-08","end":"2022-01-20"}],"region":"tc-cody"},
		{"type":"detect","active":true,"tie":"lowest"},
		{"type":"refine","active":true,"params":{"waterMonths":5,"maxSlope":5,"minConnected":8,"maxConnected":25}},
		{"type":"export","active":true,"description":"flood-mask"}]}`)
	op, err := ops.UnmarshalOperator(data)
	if err != nil {
		t.Fatal(err)
	}
	seq := op.(*ops.OpSequence)
	if len(seq.Steps) != 4 {
		t.Fatalf("got %d steps", len(seq.Steps))
	}
	fetch := seq.Steps[0].(*OpFetch)
	if fetch.Region == nil || fetch.Region.Name != "tc-cody" || fetch.Polarisation != "VH" || len(fetch.Windows) != 2 {
		t.Errorf("fetch got %#v", fetch)
	}
	detect := seq.Steps[1].(*OpDetect)
	if detect.DiffThreshold != 1.25 || detect.Output != "mask" {
		t.Errorf("detect defaults missing, got %#v", detect)
	}
	refine := seq.Steps[2].(*OpRefine)
	if refine.SeasonalityLayer != "seasonality" || !refine.EightConnected || refine.OpUnaryBase.Apply == nil {
		t.Errorf("refine defaults missing, got %#v", refine)
	}
	export := seq.Steps[3].(*OpExport)
	if export.CRS != source.DefaultCRS || export.Scale != source.DefaultScale {
		t.Errorf("export defaults missing, got %#v", export)
	}

	if _, err := json.Marshal(seq); err != nil {
		t.Errorf("marshal: %v", err)
	}
}
