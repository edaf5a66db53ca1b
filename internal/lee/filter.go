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

package lee

import (
	"fmt"
	"image"
	"math"

	"github.com/mlnoga/floodlight/internal/neighborhood"
	"github.com/mlnoga/floodlight/internal/raster"
)

// Half of the 7x7 window. Output at a pixel depends on input pixels up to this distance
const Halo = 3

// Rectangular half-window: bottom four rows of the 7x7 window including the center row.
// Rotated by i quarter turns it serves direction 2i+1
var rectKernel = neighborhood.MustKernel([][]int{
	{0, 0, 0, 0, 0, 0, 0},
	{0, 0, 0, 0, 0, 0, 0},
	{0, 0, 0, 0, 0, 0, 0},
	{1, 1, 1, 1, 1, 1, 1},
	{1, 1, 1, 1, 1, 1, 1},
	{1, 1, 1, 1, 1, 1, 1},
	{1, 1, 1, 1, 1, 1, 1},
}, 3, 3)

// Diagonal half-window: lower triangle of the 7x7 window including the diagonal.
// Rotated by i quarter turns it serves direction 2i+2
var diagKernel = neighborhood.MustKernel([][]int{
	{1, 0, 0, 0, 0, 0, 0},
	{1, 1, 0, 0, 0, 0, 0},
	{1, 1, 1, 0, 0, 0, 0},
	{1, 1, 1, 1, 0, 0, 0},
	{1, 1, 1, 1, 1, 0, 0},
	{1, 1, 1, 1, 1, 1, 0},
	{1, 1, 1, 1, 1, 1, 1},
}, 3, 3)

var square3 = neighborhood.NewSquareKernel(3)
var square7 = neighborhood.NewSquareKernel(7)

// Returns the half-window kernel for edge direction d in 1..8
func DirectionKernel(d int) (*neighborhood.Kernel, error) {
	if d < 1 || d > 8 {
		return nil, fmt.Errorf("direction %d out of range 1..8", d)
	}
	if d%2 == 1 {
		return rectKernel.Rotate((d - 1) / 2), nil
	}
	return diagKernel.Rotate((d - 2) / 2), nil
}

// Intermediate and final results of one filter run
type Stages struct {
	Mean3       *raster.Raster   // 3x3 mean
	Variance3   *raster.Raster   // 3x3 population variance
	SampleMean  []*raster.Raster // 3x3 means sampled at the nine sub-window centers
	SampleVar   []*raster.Raster // 3x3 variances sampled at the nine sub-window centers
	Directions  *raster.Raster   // edge orientation 1..8, invalid where undefined
	SigmaV      *raster.Raster   // noise variance estimate
	DirMean     *raster.Raster   // mean over the selected half-window
	DirVariance *raster.Raster   // variance over the selected half-window
	Result      *raster.Raster   // despeckled output, natural units
}

// Applies the refined Lee speckle filter to a raster in natural units.
// Returns a raster of identical grid, unit and validity
func Filter(img *raster.Raster, tie TiePolicy) (*raster.Raster, error) {
	st, err := FilterStages(img, tie)
	if err != nil {
		return nil, err
	}
	return st.Result, nil
}

// Applies the refined Lee speckle filter and returns all intermediate rasters
func FilterStages(img *raster.Raster, tie TiePolicy) (*Stages, error) {
	return filterStages(img, tie, nil)
}

// As FilterStages, with tie failures limited to the core rectangle if given
func filterStages(img *raster.Raster, tie TiePolicy, core *image.Rectangle) (*Stages, error) {
	if err := raster.RequireUnit("refinedLee", img, raster.UnitNatural); err != nil {
		return nil, err
	}
	st := &Stages{}
	var err error
	if st.Mean3, err = neighborhood.Reduce(img, square3, neighborhood.Mean); err != nil {
		return nil, err
	}
	if st.Variance3, err = neighborhood.Reduce(img, square3, neighborhood.Variance); err != nil {
		return nil, err
	}
	if st.SampleMean, err = neighborhood.SampleSubgrid(st.Mean3, neighborhood.SampleKernel7x7); err != nil {
		return nil, err
	}
	if st.SampleVar, err = neighborhood.SampleSubgrid(st.Variance3, neighborhood.SampleKernel7x7); err != nil {
		return nil, err
	}
	if st.Directions, err = estimateDirections(st.SampleMean, tie, core); err != nil {
		return nil, err
	}
	if st.SigmaV, err = NoiseVariance(st.SampleMean, st.SampleVar); err != nil {
		return nil, err
	}
	if st.DirMean, st.DirVariance, err = DirectionalStats(img, st.Directions); err != nil {
		return nil, err
	}
	st.Result = blend(img, st.DirMean, st.DirVariance, st.SigmaV)
	return st, nil
}

// Computes mean and population variance of img over the half-window selected by the
// direction map at each pixel. Pixels with undefined direction use the full 7x7 window
func DirectionalStats(img, dirs *raster.Raster) (mean, variance *raster.Raster, err error) {
	if err := raster.RequireUnit("directionalStats", dirs, raster.UnitDirection); err != nil {
		return nil, nil, err
	}
	if err := raster.RequireSameGrid("directionalStats", img, dirs); err != nil {
		return nil, nil, err
	}

	// offsets per direction, index 0 holding the isotropic fallback
	var offs [9][]neighborhood.Offset
	offs[0] = square7.Offsets()
	for d := 1; d <= 8; d++ {
		k, _ := DirectionKernel(d)
		offs[d] = k.Offsets()
	}

	mean = raster.NewLike(img, img.Unit)
	mean.Name = "dirMean"
	variance = raster.NewLike(img, img.Unit)
	variance.Name = "dirVariance"
	width, height := img.Grid.Width, img.Grid.Height

	neighborhood.ParallelRows(height, func(y0, y1 int) {
		vals := make([]float64, 0, len(offs[0]))
		for y := y0; y < y1; y++ {
			for x := 0; x < width; x++ {
				i := y*width + x
				d := 0
				if dirs.IsValid(i) {
					d = int(dirs.Data[i])
					if d < 1 || d > 8 {
						d = 0
					}
				}
				vals = vals[:0]
				for _, o := range offs[d] {
					nx, ny := x+o.DX, y+o.DY
					if nx < 0 || ny < 0 || nx >= width || ny >= height {
						continue
					}
					ni := ny*width + nx
					if img.IsValid(ni) {
						vals = append(vals, float64(img.Data[ni]))
					}
				}
				if len(vals) == 0 {
					continue
				}
				m := 0.0
				for _, v := range vals {
					m += v
				}
				m /= float64(len(vals))
				mean.Set(i, float32(m))
				sumSq := 0.0
				for _, v := range vals {
					sumSq += (v - m) * (v - m)
				}
				variance.Set(i, float32(sumSq/float64(len(vals))))
			}
		}
	})
	return mean, variance, nil
}

// Minimum mean square error blend of the original pixel towards the directional mean.
// Output is valid where the input and the directional mean are valid
func blend(img, dirMean, dirVar, sigmaV *raster.Raster) *raster.Raster {
	res := raster.NewLike(img, img.Unit)
	for i, orig := range img.Data {
		if !img.IsValid(i) || !dirMean.IsValid(i) {
			continue
		}
		m := float64(dirMean.Data[i])
		vy := float64(dirVar.Data[i])
		if !dirVar.IsValid(i) || vy == 0 {
			res.Set(i, float32(m))
			continue
		}
		sv := float64(sigmaV.Data[i])
		varX := (vy - m*m*sv) / (sv + 1)
		varX = math.Max(varX, 0)
		b := varX / vy
		res.Set(i, float32(m+b*(float64(orig)-m)))
	}
	if img.Valid == nil && res.ValidCount() == len(res.Data) {
		res.Valid = nil
	}
	return res
}
