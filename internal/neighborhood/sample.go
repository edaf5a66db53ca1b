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

package neighborhood

import (
	"fmt"

	"github.com/mlnoga/floodlight/internal/raster"
)

// 7x7 kernel sampling the centers of the nine 3x3 sub-windows of a 7x7 window
var SampleKernel7x7 = MustKernel([][]int{
	{0, 0, 0, 0, 0, 0, 0},
	{0, 1, 0, 1, 0, 1, 0},
	{0, 0, 0, 0, 0, 0, 0},
	{0, 1, 0, 1, 0, 1, 0},
	{0, 0, 0, 0, 0, 0, 0},
	{0, 1, 0, 1, 0, 1, 0},
	{0, 0, 0, 0, 0, 0, 0},
}, 3, 3)

// Extracts, for every pixel, the values of the stat raster at each set position of the
// sample kernel, and returns one band per position in row-major kernel order.
// Positions outside the grid or on invalid pixels are invalid in the respective band
func SampleSubgrid(stat *raster.Raster, k *Kernel) ([]*raster.Raster, error) {
	offs := k.Offsets()
	if len(offs) == 0 {
		return nil, fmt.Errorf("sampleSubgrid: kernel has no set positions")
	}
	width, height := stat.Grid.Width, stat.Grid.Height
	bands := make([]*raster.Raster, len(offs))
	for b, o := range offs {
		band := raster.NewLike(stat, stat.Unit)
		band.Name = fmt.Sprintf("%s_%d", stat.Name, b)
		for y := 0; y < height; y++ {
			ny := y + o.DY
			if ny < 0 || ny >= height {
				continue
			}
			for x := 0; x < width; x++ {
				nx := x + o.DX
				if nx < 0 || nx >= width {
					continue
				}
				ni := ny*width + nx
				if stat.IsValid(ni) {
					band.Set(y*width+x, stat.Data[ni])
				}
			}
		}
		bands[b] = band
	}
	return bands, nil
}
