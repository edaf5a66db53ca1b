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

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

// Attribute names used for georeference and unit tags in netCDF files
const (
	ncAttrUnits       = "units"
	ncAttrFill        = "_FillValue"
	ncAttrCRS         = "crs"
	ncAttrOriginX     = "origin_x"
	ncAttrOriginY     = "origin_y"
	ncAttrPixelWidth  = "pixel_width"
	ncAttrPixelHeight = "pixel_height"
)

// Reads the named two-dimensional variable from a netCDF file. Values equal to the
// _FillValue attribute or NaN are invalid
func ReadNetCDFFile(fileName, variable string, id int) (*Raster, error) {
	nc, err := netcdf.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	if variable == "" {
		vars := nc.ListVariables()
		if len(vars) != 1 {
			return nil, fmt.Errorf("%d: %s holds %d variables, need a variable name", id, fileName, len(vars))
		}
		variable = vars[0]
	}
	vr, err := nc.GetVariable(variable)
	if err != nil {
		return nil, fmt.Errorf("%d: reading variable %s from %s: %w", id, variable, fileName, err)
	}

	rows, err := netCDFRows(vr.Values)
	if err != nil {
		return nil, fmt.Errorf("%d: variable %s in %s: %w", id, variable, fileName, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%d: variable %s in %s is empty", id, variable, fileName)
	}

	grid := Grid{
		Width:       len(rows[0]),
		Height:      len(rows),
		OriginX:     attrFloat(vr.Attributes, ncAttrOriginX, 0),
		OriginY:     attrFloat(vr.Attributes, ncAttrOriginY, 0),
		PixelWidth:  attrFloat(vr.Attributes, ncAttrPixelWidth, 1),
		PixelHeight: attrFloat(vr.Attributes, ncAttrPixelHeight, 1),
		CRS:         attrString(vr.Attributes, ncAttrCRS),
	}
	fill := attrFloat(vr.Attributes, ncAttrFill, math.NaN())

	data := make([]float32, 0, grid.Pixels())
	for y, row := range rows {
		if len(row) != grid.Width {
			return nil, fmt.Errorf("%d: variable %s in %s has ragged row %d", id, variable, fileName, y)
		}
		for _, v := range row {
			if v == fill {
				v = math.NaN()
			}
			data = append(data, float32(v))
		}
	}

	r := NewFromData(grid, Unit(attrString(vr.Attributes, ncAttrUnits)), data)
	r.ID, r.FileName, r.Name = id, fileName, variable
	return r, nil
}

// Converts the values of a two-dimensional netCDF variable to float64 rows
func netCDFRows(values interface{}) ([][]float64, error) {
	var rows [][]float64
	switch vs := values.(type) {
	case [][]float32:
		for _, row := range vs {
			r := make([]float64, len(row))
			for i, v := range row {
				r[i] = float64(v)
			}
			rows = append(rows, r)
		}
	case [][]float64:
		rows = vs
	case [][]int8:
		for _, row := range vs {
			r := make([]float64, len(row))
			for i, v := range row {
				r[i] = float64(v)
			}
			rows = append(rows, r)
		}
	case [][]uint8:
		for _, row := range vs {
			r := make([]float64, len(row))
			for i, v := range row {
				r[i] = float64(v)
			}
			rows = append(rows, r)
		}
	case [][]int16:
		for _, row := range vs {
			r := make([]float64, len(row))
			for i, v := range row {
				r[i] = float64(v)
			}
			rows = append(rows, r)
		}
	case [][]int32:
		for _, row := range vs {
			r := make([]float64, len(row))
			for i, v := range row {
				r[i] = float64(v)
			}
			rows = append(rows, r)
		}
	default:
		return nil, fmt.Errorf("unsupported value type %T, need a two-dimensional numeric array", values)
	}
	return rows, nil
}

func attrFloat(attrs api.AttributeMap, key string, def float64) float64 {
	if attrs == nil {
		return def
	}
	v, ok := attrs.Get(key)
	if !ok {
		return def
	}
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int32:
		return float64(x)
	case int16:
		return float64(x)
	case int8:
		return float64(x)
	case []float64:
		if len(x) > 0 {
			return x[0]
		}
	case []float32:
		if len(x) > 0 {
			return float64(x[0])
		}
	}
	return def
}

func attrString(attrs api.AttributeMap, key string) string {
	if attrs == nil {
		return ""
	}
	if v, ok := attrs.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Writes the raster as a float32 netCDF variable named after the raster, or "band".
// Invalid pixels are stored as NaN, which is also recorded as _FillValue
func (r *Raster) WriteNetCDFFile(fileName string) error {
	cw, err := cdf.OpenWriter(fileName)
	if err != nil {
		return err
	}

	data := r.DataWithNaN()
	rows := make([][]float32, r.Grid.Height)
	for y := range rows {
		rows[y] = data[y*r.Grid.Width : (y+1)*r.Grid.Width]
	}

	keys := []string{ncAttrFill, ncAttrOriginX, ncAttrOriginY, ncAttrPixelWidth, ncAttrPixelHeight}
	vals := map[string]interface{}{
		ncAttrFill:        float32(math.NaN()),
		ncAttrOriginX:     r.Grid.OriginX,
		ncAttrOriginY:     r.Grid.OriginY,
		ncAttrPixelWidth:  r.Grid.PixelWidth,
		ncAttrPixelHeight: r.Grid.PixelHeight,
	}
	if r.Unit != UnitNone {
		keys, vals[ncAttrUnits] = append(keys, ncAttrUnits), string(r.Unit)
	}
	if r.Grid.CRS != "" {
		keys, vals[ncAttrCRS] = append(keys, ncAttrCRS), r.Grid.CRS
	}
	attrs, err := util.NewOrderedMap(keys, vals)
	if err != nil {
		cw.Close()
		return err
	}

	name := r.Name
	if name == "" {
		name = "band"
	}
	err = cw.AddVar(name, api.Variable{
		Values:     rows,
		Dimensions: []string{"y", "x"},
		Attributes: attrs,
	})
	if err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}
