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
	"runtime"
	"sync"

	"github.com/mlnoga/floodlight/internal/raster"
)

// Applies the refined Lee filter tile by tile, with each tile extended by a halo of
// Halo pixels so results are identical to an untiled run. Tie failures are only
// reported for core pixels, whose windows are complete. Up to maxThreads tiles are
// processed concurrently, or GOMAXPROCS if maxThreads is not positive
func FilterTiled(img *raster.Raster, tileSize int, tie TiePolicy, maxThreads int) (*raster.Raster, error) {
	if err := raster.RequireUnit("refinedLee", img, raster.UnitNatural); err != nil {
		return nil, err
	}
	if tileSize <= 0 {
		return nil, fmt.Errorf("refinedLee: invalid tile size %d", tileSize)
	}
	width, height := img.Grid.Width, img.Grid.Height
	if tileSize >= width && tileSize >= height {
		return Filter(img, tie)
	}
	if maxThreads <= 0 {
		maxThreads = runtime.GOMAXPROCS(0)
	}

	res := raster.NewLike(img, img.Unit)
	limiter := make(chan bool, maxThreads)
	var wg sync.WaitGroup
	var mutex sync.Mutex
	var firstErr error

	for ty := 0; ty < height; ty += tileSize {
		for tx := 0; tx < width; tx += tileSize {
			limiter <- true
			wg.Add(1)
			go func(tx, ty int) {
				defer func() { <-limiter; wg.Done() }()

				// core tile, and its window extended by the halo and clipped to the grid
				cw, ch := min(tileSize, width-tx), min(tileSize, height-ty)
				x0, y0 := max(tx-Halo, 0), max(ty-Halo, 0)
				x1, y1 := min(tx+cw+Halo, width), min(ty+ch+Halo, height)

				win := img.Window(x0, y0, x1-x0, y1-y0)
				core := image.Rect(tx-x0, ty-y0, tx-x0+cw, ty-y0+ch)
				st, err := filterStages(win, tie, &core)

				mutex.Lock()
				defer mutex.Unlock()
				if err != nil {
					if amb, ok := err.(*raster.ComputationAmbiguity); ok {
						amb.X, amb.Y = amb.X+x0, amb.Y+y0
					}
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				res.Paste(st.Result, tx-x0, ty-y0, tx, ty, cw, ch)
			}(tx, ty)
		}
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	if img.Valid == nil && res.ValidCount() == len(res.Data) {
		res.Valid = nil
	}
	return res, nil
}
