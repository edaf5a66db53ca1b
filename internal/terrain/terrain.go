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

// Package terrain derives slope, aspect and hillshade from elevation rasters.
package terrain

import (
	"math"
	"strings"

	"github.com/mlnoga/floodlight/internal/neighborhood"
	"github.com/mlnoga/floodlight/internal/raster"
)

// Geographic coordinate reference system with pixel sizes in degrees
const GeographicCRS = "EPSG:4326"

const (
	metersPerDegreeLat = 110540.0 // meters per degree of latitude
	metersPerDegreeLon = 111320.0 // meters per degree of longitude at the equator
)

// Default sun position for hillshading
const (
	DefaultAzimuth   = 270.0
	DefaultElevation = 45.0
)

// Terrain derivatives of one elevation raster
type Products struct {
	Slope     *raster.Raster // degrees from horizontal
	Aspect    *raster.Raster // degrees clockwise from north, downslope facing. Invalid on flat ground
	Hillshade *raster.Raster // illumination 0..255
}

// Horn method terrain derivatives. Rows are assumed to run from north to south
type Service struct {
	Azimuth   float64 // sun azimuth for hillshading, degrees clockwise from north
	Elevation float64 // sun elevation for hillshading, degrees above horizon
}

// Creates a terrain service with the default sun position
func New() *Service {
	return &Service{Azimuth: DefaultAzimuth, Elevation: DefaultElevation}
}

// Derives the slope in degrees
func (s *Service) Slope(dem *raster.Raster) (*raster.Raster, error) {
	p, err := s.Derive(dem)
	if err != nil {
		return nil, err
	}
	return p.Slope, nil
}

// Derives slope, aspect and hillshade. Neighbors beyond the grid edge replicate the
// edge pixel. Pixels with an invalid neighbor are invalid in all outputs
func (s *Service) Derive(dem *raster.Raster) (*Products, error) {
	if err := raster.RequireUnit("terrain", dem, raster.UnitMeters, raster.UnitNone); err != nil {
		return nil, err
	}
	p := &Products{
		Slope:     raster.NewLike(dem, raster.UnitDegrees),
		Aspect:    raster.NewLike(dem, raster.UnitDegrees),
		Hillshade: raster.NewLike(dem, raster.UnitNone),
	}
	p.Slope.Name, p.Aspect.Name, p.Hillshade.Name = "slope", "aspect", "hillshade"

	g := dem.Grid
	width, height := g.Width, g.Height
	geographic := strings.EqualFold(g.CRS, GeographicCRS)
	zenith := (90 - s.Elevation) * math.Pi / 180
	azimuth := s.Azimuth * math.Pi / 180

	neighborhood.ParallelRows(height, func(y0, y1 int) {
		var z [9]float64
		for y := y0; y < y1; y++ {
			dx, dy := math.Abs(g.PixelWidth), math.Abs(g.PixelHeight)
			if geographic {
				_, lat := g.Center(0, y)
				dx *= metersPerDegreeLon * math.Cos(lat*math.Pi/180)
				dy *= metersPerDegreeLat
			}
			if dx == 0 || dy == 0 {
				continue
			}
		pixels:
			for x := 0; x < width; x++ {
				for j := 0; j < 9; j++ {
					nx, ny := clamp(x+j%3-1, width), clamp(y+j/3-1, height)
					v, ok := dem.At(nx, ny)
					if !ok {
						continue pixels
					}
					z[j] = float64(v)
				}
				// z[0..8] are a b c / d e f / g h i with a in the north-west
				dzEast := ((z[2] + 2*z[5] + z[8]) - (z[0] + 2*z[3] + z[6])) / (8 * dx)
				dzNorth := ((z[0] + 2*z[1] + z[2]) - (z[6] + 2*z[7] + z[8])) / (8 * dy)
				grad := math.Hypot(dzEast, dzNorth)
				slope := math.Atan(grad)

				i := y*width + x
				p.Slope.Set(i, float32(slope*180/math.Pi))

				aspect := 0.0
				if grad > 0 {
					aspect = math.Atan2(-dzEast, -dzNorth)
					if aspect < 0 {
						aspect += 2 * math.Pi
					}
					p.Aspect.Set(i, float32(aspect*180/math.Pi))
				}

				hs := math.Cos(zenith)*math.Cos(slope) + math.Sin(zenith)*math.Sin(slope)*math.Cos(azimuth-aspect)
				p.Hillshade.Set(i, float32(255*math.Max(hs, 0)))
			}
		}
	})
	return p, nil
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
