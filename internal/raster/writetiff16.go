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
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"golang.org/x/image/tiff"
)

// Writes the raster to a 16-bit grayscale TIFF file, scaling [min, max] to the full range.
// If min==max, the range of the valid values is used
func (r *Raster) WriteTIFF16File(fileName string, min, max float32) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := r.WriteTIFF16(writer, min, max); err != nil {
		return err
	}
	return writer.Flush()
}

// Writes the raster to 16-bit grayscale TIFF. Invalid pixels are written as zero,
// valid ones in [1, 65535]
func (r *Raster) WriteTIFF16(writer io.Writer, min, max float32) error {
	if min == max {
		s := r.CalcStats()
		min, max = s.Min, s.Max
	}
	width, height := r.Grid.Width, r.Grid.Height
	img := image.NewGray16(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := float32(1)
	if max > min {
		scale = 1 / (max - min)
	}
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			if !r.IsValid(yoffset + x) {
				img.SetGray16(x, y, color.Gray16{0})
				continue
			}
			gray := (r.Data[yoffset+x] - min) * scale
			if math.IsNaN(float64(gray)) || gray < 0 {
				gray = 0
			}
			if gray > 1 {
				gray = 1
			}
			img.SetGray16(x, y, color.Gray16{1 + uint16(gray*65534)})
		}
	}

	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}
