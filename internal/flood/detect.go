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
	"sync"

	"github.com/mlnoga/floodlight/internal/lee"
	"github.com/mlnoga/floodlight/internal/raster"
	"github.com/mlnoga/floodlight/internal/stats"
)

// Default threshold on the after/before ratio of filtered dB values
const DefaultDiffThreshold = 1.25

// Parameters for change detection
type DetectParams struct {
	DiffThreshold float32       `json:"diffThreshold"` // ratio above which a pixel is flagged
	Tie           lee.TiePolicy `json:"tie"`           // orientation tie policy of the speckle filter
	TileSize      int           `json:"tileSize"`      // tile size for the speckle filter, or 0 for untiled
	MaxThreads    int           `json:"-"`             // concurrent tiles, 0 for GOMAXPROCS
}

// Creates detection parameters with the defaults of the reference method
func DefaultDetectParams() DetectParams {
	return DetectParams{DiffThreshold: DefaultDiffThreshold, Tie: lee.TieLowestIndex}
}

// Intermediate and final rasters of a detection run
type Detection struct {
	BeforeFiltered *raster.Raster // despeckled before mosaic, dB
	AfterFiltered  *raster.Raster // despeckled after mosaic, dB
	Ratio          *raster.Raster // after/before ratio of dB values
	Mask           *raster.Raster // initial flood mask, defined only where flagged
}

// Despeckles a dB raster: converts to natural units, applies the refined Lee
// filter and converts back to dB
func Despeckle(db *raster.Raster, tie lee.TiePolicy, tileSize, maxThreads int) (*raster.Raster, error) {
	nat, err := raster.ToNatural(db)
	if err != nil {
		return nil, err
	}
	var filtered *raster.Raster
	if tileSize > 0 {
		filtered, err = lee.FilterTiled(nat, tileSize, tie, maxThreads)
	} else {
		filtered, err = lee.Filter(nat, tie)
	}
	if err != nil {
		return nil, err
	}
	return raster.ToDB(filtered)
}

// Per-pixel ratio of after and before dB values. This is a ratio of dB magnitudes,
// not of powers. Pixels with a zero before value are invalid
func ChangeRatio(beforeDB, afterDB *raster.Raster) (*raster.Raster, error) {
	if err := raster.RequireUnit("changeRatio", beforeDB, raster.UnitDB); err != nil {
		return nil, err
	}
	if err := raster.RequireUnit("changeRatio", afterDB, raster.UnitDB); err != nil {
		return nil, err
	}
	ratio, err := raster.Divide(afterDB, beforeDB)
	if err != nil {
		return nil, err
	}
	ratio.Name = "ratio"
	return ratio, nil
}

// Flags pixels whose ratio exceeds the threshold. The resulting mask is defined only
// where the predicate holds
func Threshold(ratio *raster.Raster, diffThreshold float32) (*raster.Raster, error) {
	if err := raster.RequireUnit("threshold", ratio, raster.UnitRatio); err != nil {
		return nil, err
	}
	mask := raster.GreaterThan(ratio, diffThreshold)
	mask.Name = "flooded"
	return mask, nil
}

// Derives the initial flood mask from co-registered before and after mosaics in dB.
// Both mosaics are despeckled concurrently
func Detect(beforeDB, afterDB *raster.Raster, p DetectParams) (*Detection, error) {
	if err := raster.RequireUnit("detect", beforeDB, raster.UnitDB); err != nil {
		return nil, err
	}
	if err := raster.RequireUnit("detect", afterDB, raster.UnitDB); err != nil {
		return nil, err
	}
	if err := raster.RequireSameGrid("detect", beforeDB, afterDB); err != nil {
		return nil, err
	}

	d := &Detection{}
	var errBefore, errAfter error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.BeforeFiltered, errBefore = Despeckle(beforeDB, p.Tie, p.TileSize, p.MaxThreads)
	}()
	go func() {
		defer wg.Done()
		d.AfterFiltered, errAfter = Despeckle(afterDB, p.Tie, p.TileSize, p.MaxThreads)
	}()
	wg.Wait()
	if errBefore != nil {
		return nil, fmt.Errorf("despeckling before mosaic: %w", errBefore)
	}
	if errAfter != nil {
		return nil, fmt.Errorf("despeckling after mosaic: %w", errAfter)
	}

	var err error
	if d.Ratio, err = ChangeRatio(d.BeforeFiltered, d.AfterFiltered); err != nil {
		return nil, err
	}
	if d.Mask, err = Threshold(d.Ratio, p.DiffThreshold); err != nil {
		return nil, err
	}
	return d, nil
}

// Number of histogram bins for threshold suggestions
const suggestBins = 256

// Suggests a ratio threshold as the histogram mode plus sigmas standard deviations of
// the dominant, unchanged population. Useful to sanity-check the default threshold on a
// new scene
func SuggestThreshold(ratio *raster.Raster, sigmas float32) (float32, error) {
	if err := raster.RequireUnit("suggestThreshold", ratio, raster.UnitRatio); err != nil {
		return 0, err
	}
	s := ratio.CalcStats()
	if s.Count == 0 {
		return 0, fmt.Errorf("suggestThreshold: no valid ratio pixels")
	}
	if !(s.Max > s.Min) {
		return s.Min, nil
	}
	// restrict to mean +/- 4 sigma so outliers do not flatten the histogram
	lo, hi := s.Min, s.Max
	if l := s.Mean - 4*s.StdDev; l > lo {
		lo = l
	}
	if h := s.Mean + 4*s.StdDev; h < hi {
		hi = h
	}
	if !(hi > lo) {
		return s.Mean, nil
	}
	bins := make([]int32, suggestBins)
	stats.Histogram(ratio.ValidData(), lo, hi, bins)
	mode, stdDev, err := stats.GetModeStdDevFromHistogram(bins, lo, hi)
	if err != nil {
		return 0, err
	}
	return mode + sigmas*stdDev, nil
}
