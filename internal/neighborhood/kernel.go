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
	"strings"
)

// A fixed-shape 0/1 window kernel with an anchor. Weight (kx,ky) covers the
// neighbor at offset (kx-AnchorX, ky-AnchorY) from the pixel being reduced
type Kernel struct {
	Width   int
	Height  int
	AnchorX int
	AnchorY int
	Weights []bool // Row-major, Width*Height entries
}

// An offset from the anchor to a set kernel position
type Offset struct {
	DX, DY int
}

// Creates a kernel from rows of 0/1 weights, with the given anchor
func NewKernel(weights [][]int, anchorX, anchorY int) (*Kernel, error) {
	if len(weights) == 0 || len(weights[0]) == 0 {
		return nil, fmt.Errorf("kernel needs at least one weight")
	}
	k := &Kernel{Width: len(weights[0]), Height: len(weights), AnchorX: anchorX, AnchorY: anchorY}
	if anchorX < 0 || anchorY < 0 || anchorX >= k.Width || anchorY >= k.Height {
		return nil, fmt.Errorf("kernel anchor (%d,%d) outside %dx%d weights", anchorX, anchorY, k.Width, k.Height)
	}
	k.Weights = make([]bool, k.Width*k.Height)
	for y, row := range weights {
		if len(row) != k.Width {
			return nil, fmt.Errorf("kernel row %d has %d weights, want %d", y, len(row), k.Width)
		}
		for x, w := range row {
			switch w {
			case 0:
			case 1:
				k.Weights[y*k.Width+x] = true
			default:
				return nil, fmt.Errorf("kernel weight %d at (%d,%d) is not 0 or 1", w, x, y)
			}
		}
	}
	return k, nil
}

// Creates a kernel from weights known to be well-formed. Panics otherwise
func MustKernel(weights [][]int, anchorX, anchorY int) *Kernel {
	k, err := NewKernel(weights, anchorX, anchorY)
	if err != nil {
		panic(err)
	}
	return k
}

// Creates a square all-ones kernel of odd size n, anchored at the center
func NewSquareKernel(n int) *Kernel {
	w := make([][]int, n)
	for y := range w {
		w[y] = make([]int, n)
		for x := range w[y] {
			w[y][x] = 1
		}
	}
	return MustKernel(w, n/2, n/2)
}

// Returns a copy of the kernel rotated by k times 90 degrees clockwise around
// its anchor. Negative k rotates counter-clockwise
func (k *Kernel) Rotate(times int) *Kernel {
	times = ((times % 4) + 4) % 4
	res := k.clone()
	for i := 0; i < times; i++ {
		res = res.rotateOnce()
	}
	return res
}

// Rotates by 90 degrees clockwise: new[r][c] = old[H-1-c][r]
func (k *Kernel) rotateOnce() *Kernel {
	res := &Kernel{
		Width:   k.Height,
		Height:  k.Width,
		AnchorX: k.Height - 1 - k.AnchorY,
		AnchorY: k.AnchorX,
		Weights: make([]bool, len(k.Weights)),
	}
	for r := 0; r < res.Height; r++ {
		for c := 0; c < res.Width; c++ {
			res.Weights[r*res.Width+c] = k.Weights[(k.Height-1-c)*k.Width+r]
		}
	}
	return res
}

func (k *Kernel) clone() *Kernel {
	c := *k
	c.Weights = append([]bool(nil), k.Weights...)
	return &c
}

// Returns the offsets of all set kernel positions relative to the anchor, in row-major order
func (k *Kernel) Offsets() []Offset {
	var offs []Offset
	for y := 0; y < k.Height; y++ {
		for x := 0; x < k.Width; x++ {
			if k.Weights[y*k.Width+x] {
				offs = append(offs, Offset{DX: x - k.AnchorX, DY: y - k.AnchorY})
			}
		}
	}
	return offs
}

// Largest distance of any set position from the anchor along either axis
func (k *Kernel) Radius() int {
	r := 0
	for _, o := range k.Offsets() {
		if o.DX > r {
			r = o.DX
		} else if -o.DX > r {
			r = -o.DX
		}
		if o.DY > r {
			r = o.DY
		} else if -o.DY > r {
			r = -o.DY
		}
	}
	return r
}

func (k *Kernel) String() string {
	b := strings.Builder{}
	for y := 0; y < k.Height; y++ {
		for x := 0; x < k.Width; x++ {
			switch {
			case x == k.AnchorX && y == k.AnchorY && k.Weights[y*k.Width+x]:
				b.WriteByte('X')
			case x == k.AnchorX && y == k.AnchorY:
				b.WriteByte('x')
			case k.Weights[y*k.Width+x]:
				b.WriteByte('1')
			default:
				b.WriteByte('0')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
