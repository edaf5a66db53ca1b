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

package flood

import (
	"fmt"

	"github.com/mlnoga/floodlight/internal/raster"
)

// Derives slope in degrees from an elevation raster
type TerrainService interface {
	Slope(dem *raster.Raster) (*raster.Raster, error)
}

// Counts connected mask pixels per pixel, capped at maxSize
type ConnectivityService interface {
	ConnectedPixelCount(mask *raster.Raster, maxSize int) (*raster.Raster, error)
}

// Parameters for mask refinement, defaults from the reference method
type RefineParams struct {
	WaterMonths  float32 `json:"waterMonths"`  // seasonality at or above which water is permanent
	MaxSlope     float32 `json:"maxSlope"`     // slope in degrees above which pixels are excluded
	MinConnected int     `json:"minConnected"` // pixels in smaller components are excluded
	MaxConnected int     `json:"maxConnected"` // cap on the connected pixel count
}

func DefaultRefineParams() RefineParams {
	return RefineParams{WaterMonths: 5, MaxSlope: 5, MinConnected: 8, MaxConnected: 25}
}

// Successive refinement stages. Each stage is a subset of the previous one
type Stages struct {
	Initial          *raster.Raster
	NoPermanentWater *raster.Raster
	NoSteepSlope     *raster.Raster
	Final            *raster.Raster

	Slope  *raster.Raster // derived slope, nil if no elevation given
	Counts *raster.Raster // connected pixel counts on NoSteepSlope
}

// Intersects an initial flood mask with permanent water, steep slope and
// isolated pixel exclusions
type Refiner struct {
	Params       RefineParams
	Terrain      TerrainService
	Connectivity ConnectivityService
}

// Creates a refiner with default parameters
func NewRefiner(terrain TerrainService, connectivity ConnectivityService) *Refiner {
	return &Refiner{Params: DefaultRefineParams(), Terrain: terrain, Connectivity: connectivity}
}

// Runs all refinement stages. A nil seasonality or elevation raster skips the
// respective stage, which then equals its predecessor
func (r *Refiner) Refine(initial, seasonality, dem *raster.Raster) (*Stages, error) {
	if err := raster.RequireUnit("refine", initial, raster.UnitMask); err != nil {
		return nil, err
	}
	st := &Stages{Initial: initial}
	var err error

	st.NoPermanentWater = initial
	if seasonality != nil {
		water, err := PermanentWaterKeep(seasonality, r.Params.WaterMonths)
		if err != nil {
			return nil, err
		}
		if st.NoPermanentWater, err = Apply(initial, water); err != nil {
			return nil, err
		}
	}

	st.NoSteepSlope = st.NoPermanentWater
	if dem != nil {
		if r.Terrain == nil {
			return nil, fmt.Errorf("refine: elevation given without terrain service")
		}
		if st.Slope, err = r.Terrain.Slope(dem); err != nil {
			return nil, fmt.Errorf("refine: deriving slope: %w", err)
		}
		flat, err := SlopeKeep(st.Slope, r.Params.MaxSlope)
		if err != nil {
			return nil, err
		}
		if st.NoSteepSlope, err = Apply(st.NoPermanentWater, flat); err != nil {
			return nil, err
		}
	}

	st.Final = st.NoSteepSlope
	if r.Connectivity != nil && r.Params.MinConnected > 1 {
		if st.Counts, err = r.Connectivity.ConnectedPixelCount(st.NoSteepSlope, r.Params.MaxConnected); err != nil {
			return nil, fmt.Errorf("refine: counting connected pixels: %w", err)
		}
		connected, err := ConnectedKeep(st.Counts, r.Params.MinConnected)
		if err != nil {
			return nil, err
		}
		if st.Final, err = Apply(st.NoSteepSlope, connected); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Keep mask for permanent water: 0 where seasonality is at least the given number of
// months, 1 elsewhere including pixels without seasonality data
func PermanentWaterKeep(seasonality *raster.Raster, months float32) (*raster.Raster, error) {
	if err := raster.RequireUnit("permanentWater", seasonality, raster.UnitMonths, raster.UnitNone); err != nil {
		return nil, err
	}
	keep := raster.New(seasonality.Grid, raster.UnitMask)
	keep.ID, keep.Name = seasonality.ID, "noPermanentWater"
	for i := range keep.Data {
		if seasonality.IsValid(i) && seasonality.Data[i] >= months {
			continue
		}
		keep.Data[i] = 1
	}
	return keep, nil
}

// Keep mask for terrain: 1 where slope is at most maxSlope degrees, 0 where steeper
// or where slope is undefined
func SlopeKeep(slope *raster.Raster, maxSlope float32) (*raster.Raster, error) {
	if err := raster.RequireUnit("steepSlope", slope, raster.UnitDegrees); err != nil {
		return nil, err
	}
	keep := raster.New(slope.Grid, raster.UnitMask)
	keep.ID, keep.Name = slope.ID, "noSteepSlope"
	for i := range keep.Data {
		if slope.IsValid(i) && !(slope.Data[i] > maxSlope) {
			keep.Data[i] = 1
		}
	}
	return keep, nil
}

// Keep mask for connectivity: 1 where the connected pixel count reaches minCount, 0 elsewhere
func ConnectedKeep(counts *raster.Raster, minCount int) (*raster.Raster, error) {
	if err := raster.RequireUnit("isolatedPixels", counts, raster.UnitCount); err != nil {
		return nil, err
	}
	keep := raster.New(counts.Grid, raster.UnitMask)
	keep.ID, keep.Name = counts.ID, "connected"
	for i := range keep.Data {
		if counts.IsValid(i) && counts.Data[i] >= float32(minCount) {
			keep.Data[i] = 1
		}
	}
	return keep, nil
}

// Intersects a mask with keep masks. Pixels stay set only where every keep mask is
// valid and non-zero. The result does not depend on the order of the keep masks
func Apply(mask *raster.Raster, keeps ...*raster.Raster) (*raster.Raster, error) {
	res := mask
	for _, k := range keeps {
		next, err := raster.UpdateMask(res, k)
		if err != nil {
			return nil, err
		}
		res = next
	}
	if len(keeps) == 0 {
		if err := raster.RequireUnit("apply", mask, raster.UnitMask); err != nil {
			return nil, err
		}
		res = mask.Clone()
	}
	return res, nil
}
