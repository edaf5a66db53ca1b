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

// Package source provides file-backed SAR scene catalogues and export sinks.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mlnoga/floodlight/internal/raster"
	"github.com/mlnoga/floodlight/internal/region"
)

// Returned by RasterSource.Layer when the source has no layer of that name
var ErrNoLayer = errors.New("no such layer")

// Date layout of catalogue acquisition dates and query windows
const DateLayout = "2006-01-02"

// Metadata of one single-band SAR scene
type Scene struct {
	File             string     `json:"file"`
	Variable         string     `json:"variable,omitempty"` // netCDF variable name, first one if empty
	Platform         string     `json:"platform"`
	InstrumentMode   string     `json:"instrumentMode"`
	Polarisations    []string   `json:"polarisations"`
	OrbitPass        string     `json:"orbitPass"`
	ResolutionMeters float64    `json:"resolutionMeters"`
	Acquired         time.Time  `json:"acquired"`
	Bounds           [4]float64 `json:"bounds"` // minLon, minLat, maxLon, maxLat
}

// An auxiliary layer such as water seasonality or elevation
type AuxLayer struct {
	Name     string      `json:"name"`
	File     string      `json:"file"`
	Variable string      `json:"variable,omitempty"`
	Unit     raster.Unit `json:"unit,omitempty"`
}

// Scene filter, with the defaults of the reference method
type Query struct {
	Region           *region.Region
	Start, End       time.Time // acquisition window [Start, End)
	InstrumentMode   string
	Polarisation     string
	OrbitPass        string
	ResolutionMeters float64
}

// Creates a query for interferometric wide swath, VH polarised, descending pass
// scenes at 10 meter resolution
func NewQuery(r *region.Region, start, end time.Time) Query {
	return Query{
		Region:           r,
		Start:            start,
		End:              end,
		InstrumentMode:   "IW",
		Polarisation:     "VH",
		OrbitPass:        "DESCENDING",
		ResolutionMeters: 10,
	}
}

// Parses a query window from dates in DateLayout
func ParseWindow(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date: %w", err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date: %w", err)
	}
	if !e.After(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("empty date window %s to %s", start, end)
	}
	return s, e, nil
}

// Provides co-registered rasters for a region
type RasterSource interface {
	// Returns the clipped mosaic of all scenes matching the query, in dB
	Fetch(ctx context.Context, q Query) (*raster.Raster, error)
	// Returns the named auxiliary layer, clipped to the region. Wraps ErrNoLayer if absent
	Layer(ctx context.Context, name string, r *region.Region) (*raster.Raster, error)
}

// A scene catalogue stored as JSON next to its raster files
type Catalogue struct {
	Scenes []Scene    `json:"scenes"`
	Layers []AuxLayer `json:"layers"`

	Dir string    `json:"-"` // base directory for relative file names
	Log io.Writer `json:"-"` // optional log output
}

var _ RasterSource = (*Catalogue)(nil)

// Loads a catalogue from a JSON file. Relative file names resolve against its directory
func LoadCatalogue(fileName string) (*Catalogue, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	c := &Catalogue{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	c.Dir = filepath.Dir(fileName)
	return c, nil
}

// Returns the scenes matching the query, ordered by acquisition time
func (c *Catalogue) Select(q Query) []Scene {
	var res []Scene
	for _, s := range c.Scenes {
		if q.InstrumentMode != "" && !strings.EqualFold(s.InstrumentMode, q.InstrumentMode) {
			continue
		}
		if q.Polarisation != "" && !containsFold(s.Polarisations, q.Polarisation) {
			continue
		}
		if q.OrbitPass != "" && !strings.EqualFold(s.OrbitPass, q.OrbitPass) {
			continue
		}
		if q.ResolutionMeters != 0 && s.ResolutionMeters != q.ResolutionMeters {
			continue
		}
		if !q.Start.IsZero() && s.Acquired.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && !s.Acquired.Before(q.End) {
			continue
		}
		if q.Region != nil {
			b := orb.Bound{Min: orb.Point{s.Bounds[0], s.Bounds[1]}, Max: orb.Point{s.Bounds[2], s.Bounds[3]}}
			if !q.Region.Intersects(b) {
				continue
			}
		}
		res = append(res, s)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Acquired.Before(res[j].Acquired) })
	return res
}

// Loads, mosaics and clips all scenes matching the query. Untagged scenes are taken as dB
func (c *Catalogue) Fetch(ctx context.Context, q Query) (*raster.Raster, error) {
	scenes := c.Select(q)
	if len(scenes) == 0 {
		return nil, fmt.Errorf("no scenes match %s to %s", q.Start.Format(DateLayout), q.End.Format(DateLayout))
	}
	rs := make([]*raster.Raster, len(scenes))
	for i, s := range scenes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := ReadRaster(c.path(s.File), s.Variable, i+1, c.Log)
		if err != nil {
			return nil, err
		}
		if r.Unit == raster.UnitNone {
			r.Unit = raster.UnitDB
		}
		if c.Log != nil {
			fmt.Fprintf(c.Log, "%d: Loaded %s scene %s acquired %s\n", r.ID, r.DimensionsToString(), s.File, s.Acquired.Format(DateLayout))
		}
		rs[i] = r
	}
	m, err := Mosaic(rs)
	if err != nil {
		return nil, err
	}
	if q.Region != nil {
		m = q.Region.Clip(m)
	}
	return m, nil
}

// Loads the named auxiliary layer, clipped to the region if given
func (c *Catalogue) Layer(ctx context.Context, name string, r *region.Region) (*raster.Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, l := range c.Layers {
		if l.Name != name {
			continue
		}
		res, err := ReadRaster(c.path(l.File), l.Variable, 0, c.Log)
		if err != nil {
			return nil, err
		}
		if l.Unit != raster.UnitNone {
			res.Unit = l.Unit
		}
		res.Name = name
		if r != nil {
			res = r.Clip(res)
		}
		return res, nil
	}
	return nil, fmt.Errorf("layer '%s' in catalogue: %w", name, ErrNoLayer)
}

// Returns the resolved paths of all scene and layer files
func (c *Catalogue) Files() []string {
	res := make([]string, 0, len(c.Scenes)+len(c.Layers))
	for _, s := range c.Scenes {
		res = append(res, c.path(s.File))
	}
	for _, l := range c.Layers {
		res = append(res, c.path(l.File))
	}
	return res
}

func (c *Catalogue) path(file string) string {
	if filepath.IsAbs(file) || c.Dir == "" {
		return file
	}
	return filepath.Join(c.Dir, file)
}

func containsFold(list []string, s string) bool {
	for _, l := range list {
		if strings.EqualFold(l, s) {
			return true
		}
	}
	return false
}

// Combines co-registered rasters into one. Later rasters lie on top: each pixel takes
// the value of the last raster in which it is valid
func Mosaic(rs []*raster.Raster) (*raster.Raster, error) {
	if len(rs) == 0 {
		return nil, fmt.Errorf("mosaic: no rasters")
	}
	if err := raster.RequireSameGrid("mosaic", rs...); err != nil {
		return nil, err
	}
	for _, r := range rs[1:] {
		if r.Unit != rs[0].Unit {
			return nil, &raster.InvalidUnitError{Op: "mosaic", Want: []raster.Unit{rs[0].Unit}, Got: r.Unit}
		}
	}
	res := raster.NewLike(rs[len(rs)-1], rs[0].Unit)
	res.Name = "mosaic"
	for i := range res.Data {
		for j := len(rs) - 1; j >= 0; j-- {
			if rs[j].IsValid(i) {
				res.Set(i, rs[j].Data[i])
				break
			}
		}
	}
	return res, nil
}

// Reads a raster from a FITS or netCDF file, chosen by suffix
func ReadRaster(fileName, variable string, id int, logWriter io.Writer) (*raster.Raster, error) {
	if logWriter == nil {
		logWriter = io.Discard
	}
	lower := strings.ToLower(fileName)
	lower = strings.TrimSuffix(strings.TrimSuffix(lower, ".gz"), ".gzip")
	switch filepath.Ext(lower) {
	case ".fits", ".fit", ".fts":
		return raster.ReadFITSFile(fileName, id, logWriter)
	case ".nc", ".cdf":
		return raster.ReadNetCDFFile(fileName, variable, id)
	}
	return nil, fmt.Errorf("%s: unsupported raster format", fileName)
}
