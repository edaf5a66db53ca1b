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

// Package connectivity labels connected components of binary masks.
package connectivity

import (
	"container/list"
	"fmt"

	"github.com/mlnoga/floodlight/internal/raster"
)

var neighbors4 = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
var neighbors8 = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}}

// Connected pixel counting over 4- or 8-connected components
type Service struct {
	EightConnected bool
}

// Creates a connectivity service
func New(eightConnected bool) *Service {
	return &Service{EightConnected: eightConnected}
}

// Labels the connected components of set mask pixels, i.e. valid and non-zero.
// Returns per-pixel labels starting from 1, with 0 for unset pixels, and the
// component sizes indexed by label
func (s *Service) Label(mask *raster.Raster) (labels []int32, sizes []int) {
	width, height := mask.Grid.Width, mask.Grid.Height
	dirs := neighbors4
	if s.EightConnected {
		dirs = neighbors8
	}
	set := func(i int) bool { return mask.IsValid(i) && mask.Data[i] != 0 }

	labels = make([]int32, len(mask.Data))
	sizes = []int{0}
	q := list.New()
	for start := range mask.Data {
		if !set(start) || labels[start] != 0 {
			continue
		}
		label := int32(len(sizes))
		size := 0
		labels[start] = label
		q.PushBack(start)
		for q.Len() > 0 {
			e := q.Front()
			q.Remove(e)
			ci := e.Value.(int)
			size++
			cx, cy := ci%width, ci/width
			for _, d := range dirs {
				nx, ny := cx+d[0], cy+d[1]
				if nx < 0 || ny < 0 || nx >= width || ny >= height {
					continue
				}
				ni := ny*width + nx
				if set(ni) && labels[ni] == 0 {
					labels[ni] = label
					q.PushBack(ni)
				}
			}
		}
		sizes = append(sizes, size)
	}
	return labels, sizes
}

// Returns, for each set mask pixel, the size of its connected component capped at
// maxSize. Unset pixels are invalid. A maxSize below one disables the cap
func (s *Service) ConnectedPixelCount(mask *raster.Raster, maxSize int) (*raster.Raster, error) {
	if err := raster.RequireUnit("connectedPixelCount", mask, raster.UnitMask); err != nil {
		return nil, err
	}
	if len(mask.Data) != mask.Grid.Pixels() {
		return nil, fmt.Errorf("connectedPixelCount: %d values for %v", len(mask.Data), mask.Grid)
	}
	labels, sizes := s.Label(mask)
	res := raster.NewLike(mask, raster.UnitCount)
	res.Name = "connected"
	for i, l := range labels {
		if l == 0 {
			continue
		}
		n := sizes[l]
		if maxSize > 0 && n > maxSize {
			n = maxSize
		}
		res.Set(i, float32(n))
	}
	return res, nil
}
