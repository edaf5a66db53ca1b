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

package source

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/mlnoga/floodlight/internal/raster"
	"github.com/mlnoga/floodlight/internal/region"
)

// Export defaults of the reference method
const (
	DefaultCRS   = "EPSG:4326"
	DefaultScale = 10.0
)

// Parameters of an export, passed through to the sink unchanged
type ExportOptions struct {
	Region      *region.Region
	CRS         string
	Scale       float64 // pixel size in meters
	Description string  // base name of the export
}

// Persists final rasters
type ExportSink interface {
	Export(ctx context.Context, r *raster.Raster, opts ExportOptions) error
}

// Writes exports into a directory, in the format given by the suffix, with a
// GeoJSON sidecar describing region, CRS and scale
type FileSink struct {
	Dir        string
	Suffix     string // output format, e.g. ".fits", ".nc", ".tif" or ".jpg"
	JPGQuality int
	Log        io.Writer
}

var _ ExportSink = (*FileSink)(nil)

// Creates a file sink writing FITS files into dir
func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir, Suffix: ".fits", JPGQuality: 95}
}

// Writes the raster and its sidecar. Without a region, the sidecar carries the raster extent
func (s *FileSink) Export(ctx context.Context, r *raster.Raster, opts ExportOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opts.Description == "" {
		return fmt.Errorf("export: missing description")
	}
	if opts.Description != filepath.Base(opts.Description) || strings.Contains(opts.Description, "..") {
		return fmt.Errorf("export: description '%s' is not a plain file name", opts.Description)
	}
	fileName := filepath.Join(s.Dir, opts.Description+s.Suffix)
	if err := WriteFile(r, fileName, s.JPGQuality); err != nil {
		return err
	}

	props := map[string]interface{}{
		"description": opts.Description,
		"crs":         opts.CRS,
		"scale":       opts.Scale,
		"file":        filepath.Base(fileName),
		"unit":        string(r.Unit),
		"width":       r.Grid.Width,
		"height":      r.Grid.Height,
		"validPixels": r.ValidCount(),
	}
	fc := geojson.NewFeatureCollection()
	reg := opts.Region
	if reg == nil {
		reg = extent(r.Grid)
	}
	fc.Append(reg.Feature(props))
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	sidecar := filepath.Join(s.Dir, opts.Description+".geojson")
	if err := os.WriteFile(sidecar, data, 0644); err != nil {
		return err
	}
	if s.Log != nil {
		fmt.Fprintf(s.Log, "%d: Exported %s with CRS %s at scale %g to %s\n", r.ID, r.DimensionsToString(), opts.CRS, opts.Scale, fileName)
	}
	return nil
}

// Writes a raster in the format given by the file name suffix. TIFF and JPEG are
// scaled from the minimum to the maximum valid value, masks are drawn in red on black
func WriteFile(r *raster.Raster, fileName string, jpgQuality int) error {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".fits", ".fit", ".fts":
		return r.WriteFITSFile(fileName)
	case ".nc", ".cdf":
		return r.WriteNetCDFFile(fileName)
	case ".tif", ".tiff":
		min, max := displayRange(r)
		return r.WriteTIFF16File(fileName, min, max)
	case ".jpg", ".jpeg":
		if r.Unit == raster.UnitMask {
			backdrop := raster.New(r.Grid, raster.UnitNone)
			return backdrop.WritePreviewJPGFile(fileName, 0, 1, jpgQuality, raster.Layer{Mask: r, Color: "red"})
		}
		min, max := displayRange(r)
		return r.WritePreviewJPGFile(fileName, min, max, jpgQuality)
	}
	return fmt.Errorf("%s: unsupported output format", fileName)
}

func displayRange(r *raster.Raster) (min, max float32) {
	s := r.CalcStats()
	if s.Count == 0 {
		return 0, 1
	}
	if !(s.Max > s.Min) {
		return s.Min, s.Min + 1
	}
	return s.Min, s.Max
}

// Region covering the full extent of the grid
func extent(g raster.Grid) *region.Region {
	x0, x1 := g.OriginX, g.OriginX+float64(g.Width)*g.PixelWidth
	y0, y1 := g.OriginY, g.OriginY+float64(g.Height)*g.PixelHeight
	return region.NewRectangle("extent", math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1))
}
