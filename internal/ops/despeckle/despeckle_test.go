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

package despeckle

import (
	"errors"
	"io"
	"math"
	"testing"

	"github.com/mlnoga/floodlight/internal/lee"
	"github.com/mlnoga/floodlight/internal/ops"
	"github.com/mlnoga/floodlight/internal/raster"
)

func constantDB(w, h int, v float32) *raster.Raster {
	r := raster.New(raster.NewGrid(w, h), raster.UnitDB)
	r.ID = 7
	for i := range r.Data {
		r.Data[i] = v
	}
	return r
}

func promise(r *raster.Raster) ops.Promise {
	return func() (*raster.Raster, error) { return r, nil }
}

func TestDespeckleHomogeneous(t *testing.T) {
	c := ops.NewContext(io.Discard)
	op := NewOpDespeckleDefault()
	outs, err := op.MakePromises([]ops.Promise{promise(constantDB(16, 16, -20))}, c)
	if err != nil {
		t.Fatal(err)
	}
	res, err := outs[0]()
	if err != nil {
		t.Fatal(err)
	}
	if res.Unit != raster.UnitDB || res.ID != 7 {
		t.Errorf("got %v", res)
	}
	for i, v := range res.Data {
		if math.Abs(float64(v+20)) > 1e-4 {
			t.Errorf("pixel %d got %f want -20", i, v)
		}
	}
}

func TestTiledMatchesUntiled(t *testing.T) {
	c := ops.NewContext(io.Discard)
	img := raster.New(raster.NewGrid(24, 20), raster.UnitNatural)
	for i := range img.Data {
		img.Data[i] = float32(1 + (i*7919)%13)
	}
	untiled, err := NewOpRefinedLee(-1, lee.TieLowestIndex).Apply(img, c)
	if err != nil {
		t.Fatal(err)
	}
	tiled, err := NewOpRefinedLee(8, lee.TieLowestIndex).Apply(img, c)
	if err != nil {
		t.Fatal(err)
	}
	for i := range untiled.Data {
		if untiled.Data[i] != tiled.Data[i] {
			t.Fatalf("pixel %d: untiled %f tiled %f", i, untiled.Data[i], tiled.Data[i])
		}
	}
}

func TestRefinedLeeRequiresNatural(t *testing.T) {
	c := ops.NewContext(io.Discard)
	_, err := NewOpRefinedLeeDefault().Apply(constantDB(8, 8, -10), c)
	var iu *raster.InvalidUnitError
	if !errors.As(err, &iu) {
		t.Errorf("got %v, want InvalidUnitError", err)
	}
}

func TestConversionRoundTrip(t *testing.T) {
	c := ops.NewContext(io.Discard)
	db := constantDB(4, 4, -13)
	nat, err := NewOpToNaturalDefault().Apply(db, c)
	if err != nil {
		t.Fatal(err)
	}
	back, err := NewOpToDBDefault().Apply(nat, c)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(back.Data[0]+13)) > 1e-4 || back.Unit != raster.UnitDB {
		t.Errorf("got %f %s", back.Data[0], back.Unit)
	}
}

func TestJSONDefaults(t *testing.T) {
	op, err := ops.UnmarshalOperator([]byte(`{"type":"despeckle","active":true,"filter":{"type":"refinedLee","active":true,"tie":"fail"}}`))
	if err != nil {
		t.Fatal(err)
	}
	d, ok := op.(*OpDespeckle)
	if !ok {
		t.Fatalf("got %#v", op)
	}
	if d.Filter.Tie != lee.TieFail || d.Filter.TileSize != 0 || d.Filter.OpUnaryBase.Apply == nil {
		t.Errorf("got filter %#v", d.Filter)
	}

	op, err = ops.UnmarshalOperator([]byte(`{"type":"despeckle","active":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if d := op.(*OpDespeckle); d.Filter == nil || d.Filter.Tie != lee.TieLowestIndex {
		t.Errorf("missing filter should default, got %#v", d.Filter)
	}
}
