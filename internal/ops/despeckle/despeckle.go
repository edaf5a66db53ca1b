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
	"encoding/json"
	"fmt"

	"github.com/mlnoga/floodlight/internal/lee"
	"github.com/mlnoga/floodlight/internal/ops"
	"github.com/mlnoga/floodlight/internal/raster"
)

// Converts a dB raster to natural units
type OpToNatural struct {
	ops.OpUnaryBase
}

var _ ops.Operator = (*OpToNatural)(nil) // Compile time assertion: type implements the interface

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpToNaturalDefault() }) }

func NewOpToNaturalDefault() *OpToNatural { return NewOpToNatural(true) }

func NewOpToNatural(active bool) *OpToNatural {
	op := &OpToNatural{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "toNatural", Active: active}},
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

func (op *OpToNatural) UnmarshalJSON(data []byte) error {
	type defaults OpToNatural
	def := defaults(*NewOpToNaturalDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpToNatural(def)
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

func (op *OpToNatural) Apply(r *raster.Raster, c *ops.Context) (*raster.Raster, error) {
	return raster.ToNatural(r)
}

// Converts a raster in natural units to dB
type OpToDB struct {
	ops.OpUnaryBase
}

var _ ops.Operator = (*OpToDB)(nil)

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpToDBDefault() }) }

func NewOpToDBDefault() *OpToDB { return NewOpToDB(true) }

func NewOpToDB(active bool) *OpToDB {
	op := &OpToDB{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "toDB", Active: active}},
	}
	op.OpUnaryBase.Apply = op.Apply
	return op
}

func (op *OpToDB) UnmarshalJSON(data []byte) error {
	type defaults OpToDB
	def := defaults(*NewOpToDBDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpToDB(def)
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

func (op *OpToDB) Apply(r *raster.Raster, c *ops.Context) (*raster.Raster, error) {
	return raster.ToDB(r)
}

// Applies the refined Lee speckle filter to a raster in natural units.
// A tile size of 0 picks one from the memory budget of the context, -1 disables tiling
type OpRefinedLee struct {
	ops.OpUnaryBase
	TileSize int           `json:"tileSize"`
	Tie      lee.TiePolicy `json:"tie"`
}

var _ ops.Operator = (*OpRefinedLee)(nil)

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpRefinedLeeDefault() }) }

func NewOpRefinedLeeDefault() *OpRefinedLee { return NewOpRefinedLee(0, lee.TieLowestIndex) }

func NewOpRefinedLee(tileSize int, tie lee.TiePolicy) *OpRefinedLee {
	op := &OpRefinedLee{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "refinedLee", Active: true}},
		TileSize:    tileSize,
		Tie:         tie,
	}
	op.OpUnaryBase.Apply = op.Apply
	return op
}

func (op *OpRefinedLee) UnmarshalJSON(data []byte) error {
	type defaults OpRefinedLee
	def := defaults(*NewOpRefinedLeeDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpRefinedLee(def)
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

// Resolves the effective tile size for a raster, 0 meaning untiled
func (op *OpRefinedLee) tileSizeFor(r *raster.Raster, c *ops.Context) int {
	switch {
	case op.TileSize > 0:
		return op.TileSize
	case op.TileSize == 0:
		return c.AutoTileSize(r.Width(), r.Height())
	}
	return 0
}

func (op *OpRefinedLee) Apply(r *raster.Raster, c *ops.Context) (result *raster.Raster, err error) {
	tileSize := op.tileSizeFor(r, c)
	if tileSize > 0 {
		fmt.Fprintf(c.Log, "%d: Refined Lee filter on %s raster in %dx%d tiles, ties %s\n", r.ID, r.DimensionsToString(), tileSize, tileSize, op.Tie)
		result, err = lee.FilterTiled(r, tileSize, op.Tie, c.MaxThreads)
	} else {
		fmt.Fprintf(c.Log, "%d: Refined Lee filter on %s raster, ties %s\n", r.ID, r.DimensionsToString(), op.Tie)
		result, err = lee.Filter(r, op.Tie)
	}
	if err != nil {
		return nil, fmt.Errorf("%d: %w", r.ID, err)
	}
	return result, nil
}

// Despeckles a dB raster: converts to natural units, filters and converts back
type OpDespeckle struct {
	ops.OpUnaryBase
	Filter *OpRefinedLee `json:"filter"`
}

var _ ops.Operator = (*OpDespeckle)(nil)

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpDespeckleDefault() }) }

func NewOpDespeckleDefault() *OpDespeckle { return NewOpDespeckle(NewOpRefinedLeeDefault()) }

func NewOpDespeckle(filter *OpRefinedLee) *OpDespeckle {
	op := &OpDespeckle{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "despeckle", Active: true}},
		Filter:      filter,
	}
	op.OpUnaryBase.Apply = op.Apply
	return op
}

func (op *OpDespeckle) UnmarshalJSON(data []byte) error {
	type defaults OpDespeckle
	def := defaults(*NewOpDespeckleDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpDespeckle(def)
	if op.Filter == nil {
		op.Filter = NewOpRefinedLeeDefault()
	}
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

func (op *OpDespeckle) Apply(r *raster.Raster, c *ops.Context) (*raster.Raster, error) {
	nat, err := raster.ToNatural(r)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", r.ID, err)
	}
	filtered := nat
	if op.Filter.Active {
		if filtered, err = op.Filter.Apply(nat, c); err != nil {
			return nil, err
		}
	}
	db, err := raster.ToDB(filtered)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "%d: Despeckled %s\n", db.ID, db.CalcStats())
	return db, nil
}
