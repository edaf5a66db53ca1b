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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mlnoga/floodlight/internal/connectivity"
	"github.com/mlnoga/floodlight/internal/flood"
	"github.com/mlnoga/floodlight/internal/lee"
	"github.com/mlnoga/floodlight/internal/ops"
	"github.com/mlnoga/floodlight/internal/raster"
	"github.com/mlnoga/floodlight/internal/region"
	"github.com/mlnoga/floodlight/internal/source"
	"github.com/mlnoga/floodlight/internal/terrain"
)

// An acquisition window with dates in source.DateLayout, end exclusive
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Fetches one mosaic per acquisition window from the raster source of the context.
// Takes zero inputs, produces one output per window
type OpFetch struct {
	ops.OpBase
	Windows        []Window       `json:"windows"`
	Region         *region.Region `json:"region,omitempty"` // defaults to the region of the context
	InstrumentMode string         `json:"instrumentMode"`
	Polarisation   string         `json:"polarisation"`
	OrbitPass      string         `json:"orbitPass"`
	Resolution     float64        `json:"resolution"`
}

var _ ops.Operator = (*OpFetch)(nil) // Compile time assertion: type implements the interface

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpFetchDefault() }) }

func NewOpFetchDefault() *OpFetch { return NewOpFetch() }

// Creates a fetch with the query defaults of the reference method
func NewOpFetch(windows ...Window) *OpFetch {
	q := source.NewQuery(nil, time.Time{}, time.Time{})
	return &OpFetch{
		OpBase:         ops.OpBase{Type: "fetch", Active: true},
		Windows:        windows,
		InstrumentMode: q.InstrumentMode,
		Polarisation:   q.Polarisation,
		OrbitPass:      q.OrbitPass,
		Resolution:     q.ResolutionMeters,
	}
}

func (op *OpFetch) UnmarshalJSON(data []byte) error {
	type defaults OpFetch
	def := defaults(*NewOpFetchDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpFetch(def)
	return nil
}

// Builds the query for a window, without touching the source
func (op *OpFetch) query(w Window, c *ops.Context) (source.Query, error) {
	start, end, err := source.ParseWindow(w.Start, w.End)
	if err != nil {
		return source.Query{}, err
	}
	reg := op.Region
	if reg == nil {
		reg = c.Region
	}
	if reg == nil {
		return source.Query{}, errors.New("fetch: no region of interest")
	}
	q := source.NewQuery(reg, start, end)
	q.InstrumentMode, q.Polarisation, q.OrbitPass, q.ResolutionMeters = op.InstrumentMode, op.Polarisation, op.OrbitPass, op.Resolution
	return q, nil
}

func (op *OpFetch) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins) > 0 {
		return nil, fmt.Errorf("%s operator with non-zero input", op.Type)
	}
	if c.Source == nil {
		return nil, fmt.Errorf("%s operator without raster source", op.Type)
	}
	if len(op.Windows) == 0 {
		return nil, fmt.Errorf("%s operator without acquisition windows", op.Type)
	}
	for i, w := range op.Windows {
		q, err := op.query(w, c)
		if err != nil {
			return nil, err
		}
		id := i + 1
		outs = append(outs, func() (*raster.Raster, error) {
			r, err := c.Source.Fetch(c.Ctx, q)
			if err != nil {
				return nil, fmt.Errorf("%d: fetching %s to %s: %w", id, q.Start.Format(source.DateLayout), q.End.Format(source.DateLayout), err)
			}
			r.ID = id
			fmt.Fprintf(c.Log, "%d: Fetched %s mosaic %s to %s over %s with %v\n", id, r.DimensionsToString(),
				q.Start.Format(source.DateLayout), q.End.Format(source.DateLayout), q.Region.Name, r.CalcStats())
			return r, nil
		})
	}
	return outs, nil
}

// Detects flooded pixels from a before and an after mosaic in dB.
// Takes two inputs, produces one output selected by Output
type OpDetect struct {
	ops.OpBase
	DiffThreshold float32       `json:"diffThreshold"`
	Tie           lee.TiePolicy `json:"tie"`
	TileSize      int           `json:"tileSize"` // 0 picks one from the memory budget, -1 disables tiling
	Output        string        `json:"output"`   // mask, ratio, beforeFiltered or afterFiltered
}

var _ ops.Operator = (*OpDetect)(nil)

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpDetectDefault() }) }

func NewOpDetectDefault() *OpDetect {
	p := flood.DefaultDetectParams()
	return NewOpDetect(p.DiffThreshold, p.Tie)
}

func NewOpDetect(diffThreshold float32, tie lee.TiePolicy) *OpDetect {
	return &OpDetect{
		OpBase:        ops.OpBase{Type: "detect", Active: true},
		DiffThreshold: diffThreshold,
		Tie:           tie,
		Output:        "mask",
	}
}

func (op *OpDetect) UnmarshalJSON(data []byte) error {
	type defaults OpDetect
	def := defaults(*NewOpDetectDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpDetect(def)
	return nil
}

func (op *OpDetect) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins) != 2 {
		return nil, fmt.Errorf("%s operator needs a before and an after input, got %d", op.Type, len(ins))
	}
	switch op.Output {
	case "mask", "ratio", "beforeFiltered", "afterFiltered":
	default:
		return nil, fmt.Errorf("%s operator with unknown output '%s'", op.Type, op.Output)
	}
	out := func() (*raster.Raster, error) {
		rs, err := ops.MaterializeAll(ins, 2, false)
		if err != nil {
			return nil, err
		}
		if len(rs) != 2 {
			return nil, fmt.Errorf("%s operator: missing input", op.Type)
		}
		if err = c.Err(); err != nil {
			return nil, err
		}
		return op.Apply(rs[0], rs[1], c)
	}
	return []ops.Promise{out}, nil
}

// Runs the detection on materialized before and after mosaics
func (op *OpDetect) Apply(before, after *raster.Raster, c *ops.Context) (*raster.Raster, error) {
	p := flood.DetectParams{DiffThreshold: op.DiffThreshold, Tie: op.Tie, TileSize: op.TileSize, MaxThreads: c.MaxThreads}
	if op.TileSize == 0 {
		p.TileSize = c.AutoTileSize(before.Width(), before.Height())
	} else if op.TileSize < 0 {
		p.TileSize = 0
	}
	fmt.Fprintf(c.Log, "%d: Detecting change to %d with threshold %g, tile size %d, ties %s\n",
		before.ID, after.ID, op.DiffThreshold, p.TileSize, op.Tie)
	d, err := flood.Detect(before, after, p)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "%d: Ratio %v, %d pixels flagged\n", before.ID, d.Ratio.CalcStats(), raster.CountTrue(d.Mask))

	var res *raster.Raster
	switch op.Output {
	case "ratio":
		res = d.Ratio
	case "beforeFiltered":
		res = d.BeforeFiltered
	case "afterFiltered":
		res = d.AfterFiltered
	default:
		res = d.Mask
	}
	res.ID = before.ID
	return res, nil
}

// Refines a flood mask with permanent water, slope and connectivity exclusions.
// Auxiliary layers come from the raster source of the context. An empty layer name,
// a missing source or a layer absent from the source skips the respective stage
type OpRefine struct {
	ops.OpUnaryBase
	Params           flood.RefineParams `json:"params"`
	SeasonalityLayer string             `json:"seasonalityLayer"`
	ElevationLayer   string             `json:"elevationLayer"`
	EightConnected   bool               `json:"eightConnected"`
	Output           string             `json:"output"` // final, noPermanentWater, noSteepSlope, slope or counts
}

var _ ops.Operator = (*OpRefine)(nil)

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpRefineDefault() }) }

func NewOpRefineDefault() *OpRefine { return NewOpRefine(flood.DefaultRefineParams()) }

func NewOpRefine(params flood.RefineParams) *OpRefine {
	op := &OpRefine{
		OpUnaryBase:      ops.OpUnaryBase{OpBase: ops.OpBase{Type: "refine", Active: true}},
		Params:           params,
		SeasonalityLayer: "seasonality",
		ElevationLayer:   "elevation",
		EightConnected:   true,
		Output:           "final",
	}
	op.OpUnaryBase.Apply = op.Apply
	return op
}

func (op *OpRefine) UnmarshalJSON(data []byte) error {
	type defaults OpRefine
	def := defaults(*NewOpRefineDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpRefine(def)
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

func (op *OpRefine) layer(id int, name string, c *ops.Context) (*raster.Raster, error) {
	if name == "" || c.Source == nil {
		return nil, nil
	}
	l, err := c.Source.Layer(c.Ctx, name, c.Region)
	if errors.Is(err, source.ErrNoLayer) {
		fmt.Fprintf(c.Log, "%d: Layer %s unavailable, skipping stage\n", id, name)
		return nil, nil
	}
	return l, err
}

func (op *OpRefine) Apply(mask *raster.Raster, c *ops.Context) (*raster.Raster, error) {
	seasonality, err := op.layer(mask.ID, op.SeasonalityLayer, c)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", mask.ID, err)
	}
	dem, err := op.layer(mask.ID, op.ElevationLayer, c)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", mask.ID, err)
	}
	r := flood.NewRefiner(terrain.New(), connectivity.New(op.EightConnected))
	r.Params = op.Params
	st, err := r.Refine(mask, seasonality, dem)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", mask.ID, err)
	}
	fmt.Fprintf(c.Log, "%d: Refined flood mask from %d to %d to %d to %d pixels\n", mask.ID,
		raster.CountTrue(st.Initial), raster.CountTrue(st.NoPermanentWater), raster.CountTrue(st.NoSteepSlope), raster.CountTrue(st.Final))

	var res *raster.Raster
	switch op.Output {
	case "noPermanentWater":
		res = st.NoPermanentWater
	case "noSteepSlope":
		res = st.NoSteepSlope
	case "slope":
		res = st.Slope
	case "counts":
		res = st.Counts
	default:
		res = st.Final
	}
	if res == nil {
		return nil, fmt.Errorf("%d: refine output %s not computed", mask.ID, op.Output)
	}
	return res, nil
}

// Invalidates pixels outside a region. Without a region, uses the region of the context
type OpClip struct {
	ops.OpUnaryBase
	Region *region.Region `json:"region,omitempty"`
}

var _ ops.Operator = (*OpClip)(nil)

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpClipDefault() }) }

func NewOpClipDefault() *OpClip { return NewOpClip(nil) }

func NewOpClip(r *region.Region) *OpClip {
	op := &OpClip{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "clip", Active: true}},
		Region:      r,
	}
	op.OpUnaryBase.Apply = op.Apply
	return op
}

func (op *OpClip) UnmarshalJSON(data []byte) error {
	type defaults OpClip
	def := defaults(*NewOpClipDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpClip(def)
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

func (op *OpClip) Apply(r *raster.Raster, c *ops.Context) (*raster.Raster, error) {
	reg := op.Region
	if reg == nil {
		reg = c.Region
	}
	if reg == nil {
		return r, nil
	}
	res := reg.Clip(r)
	fmt.Fprintf(c.Log, "%d: Clipped to %s, %d of %d pixels remain valid\n", r.ID, reg.Name, res.ValidCount(), r.ValidCount())
	return res, nil
}

// Exports a raster through the sink of the context. Returns the input unchanged
type OpExport struct {
	ops.OpUnaryBase
	Description string  `json:"description"`
	CRS         string  `json:"crs"`
	Scale       float64 `json:"scale"`
}

var _ ops.Operator = (*OpExport)(nil)
var _ ops.PathUser = (*OpExport)(nil)

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpExportDefault() }) }

func NewOpExportDefault() *OpExport { return NewOpExport("flood-mask") }

func NewOpExport(description string) *OpExport {
	op := &OpExport{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "export", Active: true}},
		Description: description,
		CRS:         source.DefaultCRS,
		Scale:       source.DefaultScale,
	}
	op.OpUnaryBase.Apply = op.Apply
	return op
}

func (op *OpExport) UnmarshalJSON(data []byte) error {
	type defaults OpExport
	def := defaults(*NewOpExportDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpExport(def)
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

// The export description becomes a file name in the sink directory
func (op *OpExport) Paths() []string { return []string{op.Description} }

func (op *OpExport) Apply(r *raster.Raster, c *ops.Context) (*raster.Raster, error) {
	if c.Sink == nil {
		return nil, fmt.Errorf("%d: %s operator without export sink", r.ID, op.Type)
	}
	opts := source.ExportOptions{Region: c.Region, CRS: op.CRS, Scale: op.Scale, Description: op.Description}
	if err := c.Sink.Export(c.Ctx, r, opts); err != nil {
		return nil, fmt.Errorf("%d: %w", r.ID, err)
	}
	fmt.Fprintf(c.Log, "%d: Exported %s as %s\n", r.ID, r.DimensionsToString(), op.Description)
	return r, nil
}

// Builds the full flood mapping pipeline: fetch before and after mosaics,
// detect change, refine and export
func NewFloodMap(before, after Window, detect *OpDetect, refine *OpRefine, export *OpExport) *ops.OpSequence {
	return ops.NewOpSequence(NewOpFetch(before, after), detect, refine, export)
}
