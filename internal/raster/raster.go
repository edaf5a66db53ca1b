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

package raster

import (
	"fmt"
	"math"
	"strings"

	"github.com/mlnoga/floodlight/internal/stats"
)

// Unit tags the physical meaning of raster values
type Unit string

const (
	UnitNone      Unit = ""
	UnitNatural   Unit = "natural"   // linear backscatter power, non-negative
	UnitDB        Unit = "dB"        // 10*log10(natural)
	UnitRatio     Unit = "ratio"     // dimensionless quotient
	UnitMask      Unit = "mask"      // 1 where true, invalid elsewhere
	UnitDirection Unit = "direction" // edge orientation id 1..8
	UnitDegrees   Unit = "degrees"
	UnitCount     Unit = "count"
	UnitMonths    Unit = "months"
	UnitMeters    Unit = "meters"
)

// Grid describes the pixel grid and georeference of a raster.
// Pixel (x,y) covers [OriginX+x*PixelWidth, OriginX+(x+1)*PixelWidth) horizontally
// and [OriginY+y*PixelHeight, OriginY+(y+1)*PixelHeight) vertically. PixelHeight is
// usually negative for north-up grids.
type Grid struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	OriginX     float64 `json:"originX"`
	OriginY     float64 `json:"originY"`
	PixelWidth  float64 `json:"pixelWidth"`
	PixelHeight float64 `json:"pixelHeight"`
	CRS         string  `json:"crs"`
}

// Creates a unit grid of given size, without georeference
func NewGrid(width, height int) Grid {
	return Grid{Width: width, Height: height, PixelWidth: 1, PixelHeight: 1}
}

// Number of pixels in the grid
func (g Grid) Pixels() int { return g.Width * g.Height }

// Returns the coordinates of the center of pixel (x,y)
func (g Grid) Center(x, y int) (cx, cy float64) {
	return g.OriginX + (float64(x)+0.5)*g.PixelWidth, g.OriginY + (float64(y)+0.5)*g.PixelHeight
}

// Tolerance for comparing grid origins and pixel sizes, relative to the pixel size
const gridTolerance = 1e-6

// Returns true if both grids have the same size, CRS and georeference
func (g Grid) SameAs(o Grid) bool {
	if g.Width != o.Width || g.Height != o.Height || g.CRS != o.CRS {
		return false
	}
	tol := gridTolerance * math.Max(math.Abs(g.PixelWidth), math.Abs(g.PixelHeight))
	return math.Abs(g.OriginX-o.OriginX) <= tol && math.Abs(g.OriginY-o.OriginY) <= tol &&
		math.Abs(g.PixelWidth-o.PixelWidth) <= tol && math.Abs(g.PixelHeight-o.PixelHeight) <= tol
}

// Returns a subgrid starting at pixel (x0,y0) with the given size
func (g Grid) Sub(x0, y0, width, height int) Grid {
	s := g
	s.Width, s.Height = width, height
	s.OriginX = g.OriginX + float64(x0)*g.PixelWidth
	s.OriginY = g.OriginY + float64(y0)*g.PixelHeight
	return s
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%d %s origin (%g,%g) pixel (%g,%g)", g.Width, g.Height, g.CRS,
		g.OriginX, g.OriginY, g.PixelWidth, g.PixelHeight)
}

// A single-band raster with explicit validity bitmap and unit tag.
// Rasters produced by pipeline stages are never modified after construction.
type Raster struct {
	ID       int    // Sequential ID number, for log output
	FileName string // Original file name, if any, for log output
	Name     string // Band or layer name

	Grid Grid
	Unit Unit

	Data  []float32 // Row-major pixel values
	Valid []bool    // Validity bitmap. Nil means all pixels are valid

	Stats *stats.Stats // Statistics over valid pixels, calculated lazily
}

// Creates a raster on the given grid. Data is allocated. All pixels are valid
func New(grid Grid, unit Unit) *Raster {
	return &Raster{
		Grid: grid,
		Unit: unit,
		Data: make([]float32, grid.Pixels()),
	}
}

// Creates a raster on the given grid with an allocated, all-false validity bitmap
func NewMasked(grid Grid, unit Unit) *Raster {
	r := New(grid, unit)
	r.Valid = make([]bool, grid.Pixels())
	return r
}

// Creates a raster from given data, which is not copied. NaN values are marked invalid
func NewFromData(grid Grid, unit Unit, data []float32) *Raster {
	r := &Raster{Grid: grid, Unit: unit, Data: data}
	for i, d := range data {
		if math.IsNaN(float64(d)) {
			if r.Valid == nil {
				r.Valid = make([]bool, len(data))
				for j := range r.Valid {
					r.Valid[j] = true
				}
			}
			r.Valid[i] = false
		}
	}
	return r
}

// Creates a raster with the same ID, name and grid as the given one, with a new unit.
// Data and validity bitmap are allocated, all pixels invalid
func NewLike(src *Raster, unit Unit) *Raster {
	r := NewMasked(src.Grid, unit)
	r.ID, r.FileName, r.Name = src.ID, src.FileName, src.Name
	return r
}

// Deep copy of the raster
func (r *Raster) Clone() *Raster {
	c := &Raster{
		ID:       r.ID,
		FileName: r.FileName,
		Name:     r.Name,
		Grid:     r.Grid,
		Unit:     r.Unit,
		Data:     append([]float32(nil), r.Data...),
		Stats:    r.Stats,
	}
	if r.Valid != nil {
		c.Valid = append([]bool(nil), r.Valid...)
	}
	return c
}

func (r *Raster) Width() int  { return r.Grid.Width }
func (r *Raster) Height() int { return r.Grid.Height }

// Returns true if pixel index i holds a defined value
func (r *Raster) IsValid(i int) bool {
	return r.Valid == nil || r.Valid[i]
}

// Returns true if pixel (x,y) lies within the grid and holds a defined value
func (r *Raster) IsValidAt(x, y int) bool {
	if x < 0 || y < 0 || x >= r.Grid.Width || y >= r.Grid.Height {
		return false
	}
	return r.IsValid(y*r.Grid.Width + x)
}

// Returns the value at (x,y) and whether it is defined
func (r *Raster) At(x, y int) (float32, bool) {
	if !r.IsValidAt(x, y) {
		return 0, false
	}
	return r.Data[y*r.Grid.Width+x], true
}

// Sets the value at index i and marks it valid
func (r *Raster) Set(i int, v float32) {
	r.Data[i] = v
	if r.Valid != nil {
		r.Valid[i] = true
	}
}

// Marks index i invalid, allocating the validity bitmap if needed
func (r *Raster) Invalidate(i int) {
	if r.Valid == nil {
		r.Valid = make([]bool, len(r.Data))
		for j := range r.Valid {
			r.Valid[j] = true
		}
	}
	r.Valid[i] = false
	r.Data[i] = 0
}

// Number of valid pixels
func (r *Raster) ValidCount() int {
	if r.Valid == nil {
		return len(r.Data)
	}
	n := 0
	for _, v := range r.Valid {
		if v {
			n++
		}
	}
	return n
}

// Returns the valid values as a new slice
func (r *Raster) ValidData() []float32 {
	if r.Valid == nil {
		return append([]float32(nil), r.Data...)
	}
	res := make([]float32, 0, len(r.Data))
	for i, d := range r.Data {
		if r.Valid[i] {
			res = append(res, d)
		}
	}
	return res
}

// Returns a copy of the data with invalid pixels set to NaN
func (r *Raster) DataWithNaN() []float32 {
	res := append([]float32(nil), r.Data...)
	if r.Valid != nil {
		nan := float32(math.NaN())
		for i, v := range r.Valid {
			if !v {
				res[i] = nan
			}
		}
	}
	return res
}

// Calculates statistics over the valid pixels, caching the result
func (r *Raster) CalcStats() *stats.Stats {
	if r.Stats == nil {
		r.Stats = stats.NewStats(r.ValidData())
	}
	return r.Stats
}

func (r *Raster) DimensionsToString() string {
	return fmt.Sprintf("%dx%d", r.Grid.Width, r.Grid.Height)
}

func (r *Raster) String() string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "%s %s raster", r.DimensionsToString(), r.Unit)
	if r.Name != "" {
		fmt.Fprintf(&b, " '%s'", r.Name)
	}
	fmt.Fprintf(&b, " with %d valid pixels", r.ValidCount())
	return b.String()
}

// Extracts the window starting at (x0,y0) with given size into a new raster
func (r *Raster) Window(x0, y0, width, height int) *Raster {
	w := New(r.Grid.Sub(x0, y0, width, height), r.Unit)
	w.ID, w.FileName, w.Name = r.ID, r.FileName, r.Name
	if r.Valid != nil {
		w.Valid = make([]bool, width*height)
	}
	for y := 0; y < height; y++ {
		src := (y0+y)*r.Grid.Width + x0
		copy(w.Data[y*width:(y+1)*width], r.Data[src:src+width])
		if r.Valid != nil {
			copy(w.Valid[y*width:(y+1)*width], r.Valid[src:src+width])
		}
	}
	return w
}

// Copies the window of src starting at (sx,sy) with given size into r at (dx,dy)
func (r *Raster) Paste(src *Raster, sx, sy, dx, dy, width, height int) {
	if src.Valid != nil && r.Valid == nil {
		r.Valid = make([]bool, len(r.Data))
		for i := range r.Valid {
			r.Valid[i] = true
		}
	}
	for y := 0; y < height; y++ {
		s := (sy+y)*src.Grid.Width + sx
		d := (dy+y)*r.Grid.Width + dx
		copy(r.Data[d:d+width], src.Data[s:s+width])
		if r.Valid != nil {
			if src.Valid != nil {
				copy(r.Valid[d:d+width], src.Valid[s:s+width])
			} else {
				for i := d; i < d+width; i++ {
					r.Valid[i] = true
				}
			}
		}
	}
}
