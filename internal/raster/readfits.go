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
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const headerLineSize int = 80  // Line size of a FITS header

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int64
	Floats   map[string]float64
	Strings  map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int64),
		Floats:   make(map[string]float64),
		Strings:  make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
	}
}

// Reads a single-band raster from a FITS file. Decompresses gzip if .gz or .gzip suffix is present
func ReadFITSFile(fileName string, id int, logWriter io.Writer) (*Raster, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	lExt := strings.ToLower(path.Ext(fileName))
	if lExt == ".gz" || lExt == ".gzip" {
		if r, err = gzip.NewReader(f); err != nil {
			return nil, err
		}
	}
	res, err := ReadFITS(r, id, logWriter)
	if err != nil {
		return nil, err
	}
	res.FileName = fileName
	return res, nil
}

// Reads a single-band raster from a FITS stream. Georeference is taken from the
// CRVALn/CDELTn/CRS keys, the unit tag from BUNIT. NaN values are invalid
func ReadFITS(r io.Reader, id int, logWriter io.Writer) (*Raster, error) {
	h := NewHeader()
	if err := h.read(r, id, logWriter); err != nil {
		return nil, err
	}
	if !h.Bools["SIMPLE"] {
		return nil, fmt.Errorf("%d: not a valid FITS file; SIMPLE=T missing in header", id)
	}
	bitpix, ok := h.Ints["BITPIX"]
	if !ok {
		return nil, fmt.Errorf("%d: FITS header does not contain key BITPIX", id)
	}
	naxis, ok := h.Ints["NAXIS"]
	if !ok || naxis != 2 {
		return nil, fmt.Errorf("%d: need a two-dimensional FITS image, got NAXIS=%d", id, naxis)
	}
	width, okW := h.Ints["NAXIS1"]
	height, okH := h.Ints["NAXIS2"]
	if !okW || !okH || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%d: FITS header has invalid NAXIS1/NAXIS2", id)
	}

	grid := Grid{
		Width:       int(width),
		Height:      int(height),
		OriginX:     h.float("CRVAL1", 0),
		OriginY:     h.float("CRVAL2", 0),
		PixelWidth:  h.float("CDELT1", 1),
		PixelHeight: h.float("CDELT2", 1),
		CRS:         h.Strings["CRS"],
	}
	bzero, bscale := h.float("BZERO", 0), h.float("BSCALE", 1)

	data, err := readFITSData(r, int(bitpix), grid.Pixels(), bzero, bscale)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", id, err)
	}
	res := NewFromData(grid, Unit(strings.TrimSpace(h.Strings["BUNIT"])), data)
	res.ID = id
	res.Name = strings.TrimSpace(h.Strings["EXTNAME"])
	return res, nil
}

// Returns a float or integer header value, or the default if absent
func (h *Header) float(key string, def float64) float64 {
	if v, ok := h.Floats[key]; ok {
		return v
	}
	if v, ok := h.Ints[key]; ok {
		return float64(v)
	}
	return def
}

// Reads image data in network byte order and converts to float32, applying bzero and bscale
func readFITSData(r io.Reader, bitpix, pixels int, bzero, bscale float64) ([]float32, error) {
	bytesPerValue := bitpix / 8
	if bytesPerValue < 0 {
		bytesPerValue = -bytesPerValue
	}
	switch bitpix {
	case 8, 16, 32, 64, -32, -64:
	default:
		return nil, fmt.Errorf("unknown BITPIX value %d", bitpix)
	}

	buf := make([]byte, pixels*bytesPerValue)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	data := make([]float32, pixels)
	for i := range data {
		b := buf[i*bytesPerValue : (i+1)*bytesPerValue]
		var v float64
		switch bitpix {
		case 8:
			v = float64(b[0])
		case 16:
			v = float64(int16(uint16(b[0])<<8 | uint16(b[1])))
		case 32:
			v = float64(int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])))
		case 64:
			v = float64(int64(uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
				uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])))
		case -32:
			v = float64(math.Float32frombits(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])))
		case -64:
			v = math.Float64frombits(uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
				uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7]))
		}
		data[i] = float32(v*bscale + bzero)
	}
	return data, nil
}

func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	buf := make([]byte, fitsBlockSize)

	for h.Length = 0; !h.End; {
		// read next header unit
		bytesRead, err := io.ReadFull(r, buf)
		if err != nil {
			return fmt.Errorf("%d: %w", id, err)
		}
		h.Length += bytesRead

		// parse all lines in this header unit
		for lineNo := 0; lineNo < fitsBlockSize/headerLineSize && !h.End; lineNo++ {
			line := buf[lineNo*headerLineSize : (lineNo+1)*headerLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				fmt.Fprintf(logWriter, "%d: Warning: cannot parse '%s', ignoring\n", id, string(line))
			} else {
				h.readLine(reParser.SubexpNames(), subValues)
			}
		}
	}
	return nil
}

func (h *Header) readLine(subNames []string, subValues [][]byte) {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] == nil || len(subNames[i]) != 1 {
			continue
		}
		switch subNames[i][0] {
		case 'E': // end line
			h.End = true
		case 'H': // history line
			h.History = append(h.History, string(subValues[i]))
		case 'C': // comment line
			h.Comments = append(h.Comments, string(subValues[i]))
		case 'k': // key
			key = string(subValues[i])
		case 'b': // boolean
			if len(subValues[i]) > 0 {
				h.Bools[key] = subValues[i][0] == 'T'
			}
		case 'i': // int
			if val, err := strconv.ParseInt(string(subValues[i]), 10, 64); err == nil {
				h.Ints[key] = val
			}
		case 'f': // float
			s := strings.Replace(string(subValues[i]), "D", "E", 1)
			if val, err := strconv.ParseFloat(s, 64); err == nil {
				h.Floats[key] = val
			}
		case 's': // string
			h.Strings[key] = strings.ReplaceAll(string(subValues[i]), "''", "'")
		}
	}
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"

	histLine := "HISTORY" + whiteOpt + "(?P<H>.*)"
	commLine := "COMMENT" + whiteOpt + "(?P<C>.*)"
	endLine := "(?P<E>END)" + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?(?:[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?|[0-9]+[ED][-+]?[0-9]+|[Nn]a[Nn]|[+-]?[Ii]nf))"
	stri := "'(?P<s>(?:[^']|'')*)'"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + ")"

	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + "=" + whiteOpt + val + whiteOpt + commOpt

	lineRe := "^(?:" + white + "|" + histLine + "|" + commLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}
