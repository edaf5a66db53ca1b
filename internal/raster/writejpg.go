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
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// A mask layer drawn on top of a preview, in the given hex color, e.g. "#ffa500"
type Layer struct {
	Mask  *Raster
	Color string
}

// Named palette colors for the flood map layers
var Palette = map[string]string{
	"orange": "#ffa500", // initial flood area
	"blue":   "#0000ff", // permanent water
	"cyan":   "#00ffff", // steep areas
	"yellow": "#ffff00", // disconnected areas
	"red":    "#ff0000", // final flood areas
	"grey":   "#808080", // area of interest
}

// Resolves a palette name or hex color string
func ParseColor(s string) (colorful.Color, error) {
	if hex, ok := Palette[s]; ok {
		s = hex
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return colorful.Color{}, fmt.Errorf("invalid color '%s': %w", s, err)
	}
	return c, nil
}

// Writes a preview JPEG of the raster with mask layers on top, see WritePreviewJPG
func (r *Raster) WritePreviewJPGFile(fileName string, min, max float32, quality int, layers ...Layer) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := r.WritePreviewJPG(writer, min, max, quality, layers...); err != nil {
		return err
	}
	return writer.Flush()
}

// Writes a preview JPEG: the raster as grayscale backdrop scaled from [min, max],
// with each layer's valid non-zero mask pixels painted in the layer color.
// Later layers are drawn on top. Invalid backdrop pixels are black
func (r *Raster) WritePreviewJPG(writer io.Writer, min, max float32, quality int, layers ...Layer) error {
	if min == max {
		s := r.CalcStats()
		min, max = s.Min, s.Max
	}
	colors := make([]colorful.Color, len(layers))
	for i, l := range layers {
		if !l.Mask.Grid.SameAs(r.Grid) {
			return &GridMismatchError{Op: "preview", A: r.Grid, B: l.Mask.Grid}
		}
		c, err := ParseColor(l.Color)
		if err != nil {
			return err
		}
		colors[i] = c
	}

	width, height := r.Grid.Width, r.Grid.Height
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := float32(1)
	if max > min {
		scale = 1 / (max - min)
	}
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			i := yoffset + x
			gray := float32(0)
			if r.IsValid(i) {
				gray = (r.Data[i] - min) * scale
				// replace NaNs with zeros for export, else JPG output breaks
				if math.IsNaN(float64(gray)) || gray < 0 {
					gray = 0
				}
				if gray > 1 {
					gray = 1
				}
			}
			c := colorful.Color{R: float64(gray), G: float64(gray), B: float64(gray)}
			for li, l := range layers {
				if l.Mask.IsValid(i) && l.Mask.Data[i] != 0 {
					c = colors[li]
				}
			}
			cr, cg, cb := c.Clamped().RGB255()
			img.SetRGBA(x, y, color.RGBA{cr, cg, cb, 255})
		}
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}
