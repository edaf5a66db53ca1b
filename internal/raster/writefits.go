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
	"io"
	"math"
	"os"
	"strings"
)

const bufLen int = 16 * 1024 // output buffer length for writing to file

// Writes the raster to a FITS file with given filename. Creates/overwrites the file if necessary
func (r *Raster) WriteFITSFile(fileName string) error {
	f, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := r.WriteFITS(w); err != nil {
		return err
	}
	return w.Flush()
}

// Writes the raster as 32-bit floating point FITS. Invalid pixels are stored as NaN
func (r *Raster) WriteFITS(w io.Writer) error {
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	writeInt(&sb, "BITPIX", -32, "32-bit floating point")
	writeInt(&sb, "NAXIS", 2, "[1] Number of axis")
	writeInt(&sb, "NAXIS1", int64(r.Grid.Width), "[1] Axis size")
	writeInt(&sb, "NAXIS2", int64(r.Grid.Height), "[1] Axis size")
	writeFloat(&sb, "CRVAL1", r.Grid.OriginX, "Origin x")
	writeFloat(&sb, "CRVAL2", r.Grid.OriginY, "Origin y")
	writeFloat(&sb, "CDELT1", r.Grid.PixelWidth, "Pixel width")
	writeFloat(&sb, "CDELT2", r.Grid.PixelHeight, "Pixel height")
	if r.Grid.CRS != "" {
		writeString(&sb, "CRS", r.Grid.CRS, "Coordinate reference system")
	}
	if r.Unit != UnitNone {
		writeString(&sb, "BUNIT", string(r.Unit), "Unit of pixel values")
	}
	if r.Name != "" {
		writeString(&sb, "EXTNAME", r.Name, "Band name")
	}
	writeEnd(&sb)

	// Pad current header block with spaces if necessary
	if rem := sb.Len() % fitsBlockSize; rem > 0 {
		sb.WriteString(strings.Repeat(" ", fitsBlockSize-rem))
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}

	if err := writeFloat32Array(w, r.DataWithNaN()); err != nil {
		return err
	}

	// Pad data block with zeros
	if rem := (len(r.Data) * 4) % fitsBlockSize; rem > 0 {
		_, err := w.Write(make([]byte, fitsBlockSize-rem))
		return err
	}
	return nil
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	writeKeyLine(w, key, fmt.Sprintf("%20s", v), comment)
}

// Writes a FITS header integer value
func writeInt(w io.Writer, key string, value int64, comment string) {
	writeKeyLine(w, key, fmt.Sprintf("%20d", value), comment)
}

// Writes a FITS header floating point value
func writeFloat(w io.Writer, key string, value float64, comment string) {
	writeKeyLine(w, key, fmt.Sprintf("%20.12E", value), comment)
}

// Writes a FITS header string value, with escaping. Long values are truncated
func writeString(w io.Writer, key, value, comment string) {
	value = strings.ReplaceAll(value, "'", "''")
	if len(value) > 66 {
		value = value[:66]
	}
	v := "'" + value + "'"
	if len(v) < 20 {
		v += strings.Repeat(" ", 20-len(v))
	}
	writeKeyLine(w, key, v, comment)
}

// Writes a key line padded to the header line size
func writeKeyLine(w io.Writer, key, value, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	line := fmt.Sprintf("%-8s= %s / %s", key, value, comment)
	if len(line) > headerLineSize {
		line = line[:headerLineSize]
	}
	fmt.Fprintf(w, "%-80s", line)
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", headerLineSize-3))
}

// Writes FITS binary body data in network byte order
func writeFloat32Array(w io.Writer, data []float32) error {
	buf := make([]byte, bufLen)

	for block := 0; block < len(data); block += (bufLen >> 2) {
		size := len(data) - block
		if size > (bufLen >> 2) {
			size = (bufLen >> 2)
		}

		for offset := 0; offset < size; offset++ {
			val := math.Float32bits(data[block+offset])
			buf[(offset<<2)+0] = byte(val >> 24)
			buf[(offset<<2)+1] = byte(val >> 16)
			buf[(offset<<2)+2] = byte(val >> 8)
			buf[(offset<<2)+3] = byte(val)
		}
		if _, err := w.Write(buf[:(size << 2)]); err != nil {
			return err
		}
	}
	return nil
}
