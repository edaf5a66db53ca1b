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
	"runtime"
	"sync"

	"github.com/mlnoga/floodlight/internal/raster"
)

// Statistic computed over a kernel footprint
type Reducer int

const (
	Mean     Reducer = iota // arithmetic mean
	Variance                // population variance, denominator n
)

func (r Reducer) String() string {
	switch r {
	case Mean:
		return "mean"
	case Variance:
		return "variance"
	}
	return fmt.Sprintf("reducer(%d)", int(r))
}

// Applies the reducer over the kernel footprint of every pixel. Out-of-bounds and
// invalid neighbors are excluded from the statistic. Pixels without any contributing
// neighbor are invalid. The result carries the unit of the input
func Reduce(img *raster.Raster, k *Kernel, red Reducer) (*raster.Raster, error) {
	if red != Mean && red != Variance {
		return nil, fmt.Errorf("reduce: unknown reducer %v", red)
	}
	offs := k.Offsets()
	res := raster.NewLike(img, img.Unit)
	width, height := img.Grid.Width, img.Grid.Height

	ParallelRows(height, func(y0, y1 int) {
		vals := make([]float64, 0, len(offs))
		for y := y0; y < y1; y++ {
			for x := 0; x < width; x++ {
				vals = vals[:0]
				for _, o := range offs {
					nx, ny := x+o.DX, y+o.DY
					if nx < 0 || ny < 0 || nx >= width || ny >= height {
						continue
					}
					ni := ny*width + nx
					if !img.IsValid(ni) {
						continue
					}
					vals = append(vals, float64(img.Data[ni]))
				}
				if len(vals) == 0 {
					continue
				}
				mean := 0.0
				for _, v := range vals {
					mean += v
				}
				mean /= float64(len(vals))
				if red == Mean {
					res.Set(y*width+x, float32(mean))
					continue
				}
				sumSq := 0.0
				for _, v := range vals {
					d := v - mean
					sumSq += d * d
				}
				res.Set(y*width+x, float32(sumSq/float64(len(vals))))
			}
		}
	})
	return res, nil
}

// Number of rows per work item for ParallelRows
const rowsPerStripe = 16

// Calls f on disjoint stripes [y0,y1) covering [0,height), using up to GOMAXPROCS goroutines.
// Returns when all stripes are done
func ParallelRows(height int, f func(y0, y1 int)) {
	if height <= rowsPerStripe {
		f(0, height)
		return
	}
	limiter := make(chan bool, runtime.GOMAXPROCS(0))
	var wg sync.WaitGroup
	for y0 := 0; y0 < height; y0 += rowsPerStripe {
		y1 := y0 + rowsPerStripe
		if y1 > height {
			y1 = height
		}
		limiter <- true
		wg.Add(1)
		go func(y0, y1 int) {
			defer func() { <-limiter; wg.Done() }()
			f(y0, y1)
		}(y0, y1)
	}
	wg.Wait()
}
