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

// Package region handles areas of interest in geographic coordinates.
package region

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/mlnoga/floodlight/internal/raster"
)

// An area of interest, as a polygon in lon/lat coordinates
type Region struct {
	Name    string
	Polygon orb.Polygon
}

// Area of interest of the tropical cyclone Cody reference flood map, Viti Levu, Fiji
var TCCody = MustFromCorners("tc-cody", [][2]float64{
	{177.67115992672154, -17.508795532962466},
	{177.67115992672154, -17.54210714315108},
	{177.70145815975377, -17.54210714315108},
	{177.70145815975377, -17.508795532962466},
})

// Named regions available by name on the command line and in pipelines
var Presets = map[string]*Region{
	TCCody.Name: TCCody,
}

// Creates a rectangular region from its bounds
func NewRectangle(name string, minLon, minLat, maxLon, maxLat float64) *Region {
	b := orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}
	return &Region{Name: name, Polygon: b.ToPolygon()}
}

// Creates a region from the corners of its outline. The ring is closed if needed
func FromCorners(name string, corners [][2]float64) (*Region, error) {
	if len(corners) < 3 {
		return nil, fmt.Errorf("region %s needs at least 3 corners, got %d", name, len(corners))
	}
	ring := make(orb.Ring, 0, len(corners)+1)
	for _, c := range corners {
		ring = append(ring, orb.Point{c[0], c[1]})
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return &Region{Name: name, Polygon: orb.Polygon{ring}}, nil
}

// Like FromCorners, but panics on error
func MustFromCorners(name string, corners [][2]float64) *Region {
	r, err := FromCorners(name, corners)
	if err != nil {
		panic(err)
	}
	return r
}

// Parses a region from a GeoJSON feature collection, feature or bare polygon geometry.
// For collections the first polygon feature is used. The name is taken from the
// "name" property if present
func ParseGeoJSON(data []byte) (*Region, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing GeoJSON: %w", err)
	}

	var features []*geojson.Feature
	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("parsing GeoJSON: %w", err)
		}
		features = fc.Features
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("parsing GeoJSON: %w", err)
		}
		features = []*geojson.Feature{f}
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("parsing GeoJSON: %w", err)
		}
		features = []*geojson.Feature{geojson.NewFeature(g.Geometry())}
	}

	for _, f := range features {
		if poly, ok := f.Geometry.(orb.Polygon); ok && len(poly) > 0 {
			name, _ := f.Properties["name"].(string)
			return &Region{Name: name, Polygon: poly}, nil
		}
	}
	return nil, fmt.Errorf("GeoJSON contains no polygon")
}

// Reads a region from a GeoJSON file
func ReadGeoJSONFile(fileName string) (*Region, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	r, err := ParseGeoJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	if r.Name == "" {
		r.Name = fileName
	}
	return r, nil
}

// Resolves a region argument, either the name of a preset or a GeoJSON file name
func Lookup(arg string) (*Region, error) {
	if r, ok := Presets[arg]; ok {
		return r, nil
	}
	return ReadGeoJSONFile(arg)
}

// Bounding box of the region
func (r *Region) Bound() orb.Bound {
	return r.Polygon.Bound()
}

// Returns true if the point lies inside the region
func (r *Region) Contains(lon, lat float64) bool {
	p := orb.Point{lon, lat}
	if !r.Bound().Contains(p) {
		return false
	}
	return planar.PolygonContains(r.Polygon, p)
}

// Returns true if the bounding boxes of region and b overlap
func (r *Region) Intersects(b orb.Bound) bool {
	return r.Bound().Intersects(b)
}

// Returns a copy of the raster with all pixels invalid whose center lies outside
// the region. The raster grid must be in lon/lat
func (r *Region) Clip(img *raster.Raster) *raster.Raster {
	res := img.Clone()
	res.Stats = nil
	width, height := img.Grid.Width, img.Grid.Height
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			if !res.IsValid(i) {
				continue
			}
			lon, lat := img.Grid.Center(x, y)
			if !r.Contains(lon, lat) {
				res.Invalidate(i)
			}
		}
	}
	return res
}

// Returns a GeoJSON feature for the region with the given properties
func (r *Region) Feature(props map[string]interface{}) *geojson.Feature {
	f := geojson.NewFeature(r.Polygon)
	if r.Name != "" {
		f.Properties["name"] = r.Name
	}
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

func (r *Region) MarshalJSON() ([]byte, error) {
	return r.Feature(nil).MarshalJSON()
}

func (r *Region) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		p, ok := Presets[name]
		if !ok {
			return fmt.Errorf("unknown region preset '%s'", name)
		}
		*r = *p
		return nil
	}
	parsed, err := ParseGeoJSON(data)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}

func (r *Region) String() string {
	b := r.Bound()
	return fmt.Sprintf("%s [%g,%g]-[%g,%g]", r.Name, b.Min[0], b.Min[1], b.Max[0], b.Max[1])
}
