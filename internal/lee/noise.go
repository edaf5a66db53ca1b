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
	"math"

	"github.com/mlnoga/floodlight/internal/qsort"
	"github.com/mlnoga/floodlight/internal/raster"
)

// Number of most homogeneous sub-windows averaged for the noise estimate
const noiseSamples = 5

// Estimates the speckle noise variance sigmaV per pixel as the mean of the lowest five
// variance/mean² ratios over the sampled sub-windows. Samples with invalid operands,
// zero mean or a non-finite ratio are dropped. With fewer usable samples the available
// ones are averaged, with none sigmaV is zero.
func NoiseVariance(sampleMean, sampleVar []*raster.Raster) (*raster.Raster, error) {
	if len(sampleMean) != len(sampleVar) || len(sampleMean) == 0 {
		return nil, fmt.Errorf("noiseVariance: need matching sample bands, got %d means and %d variances",
			len(sampleMean), len(sampleVar))
	}
	all := append(append([]*raster.Raster(nil), sampleMean...), sampleVar...)
	if err := raster.RequireSameGrid("noiseVariance", all...); err != nil {
		return nil, err
	}

	res := raster.New(sampleMean[0].Grid, raster.UnitRatio)
	res.ID, res.Name = sampleMean[0].ID, "sigmaV"
	ratios := make([]float32, 0, len(sampleMean))
	for i := range res.Data {
		ratios = ratios[:0]
		for s := range sampleMean {
			if !sampleMean[s].IsValid(i) || !sampleVar[s].IsValid(i) {
				continue
			}
			m := float64(sampleMean[s].Data[i])
			if m == 0 {
				continue
			}
			r := float64(sampleVar[s].Data[i]) / (m * m)
			if math.IsNaN(r) || math.IsInf(r, 0) || r > math.MaxFloat32 {
				continue
			}
			ratios = append(ratios, float32(r))
		}
		res.Data[i] = qsort.MeanOfLowestFloat32(ratios, noiseSamples)
	}
	return res, nil
}
