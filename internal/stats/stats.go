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

package stats

import (
	"fmt"
	"math"

	"github.com/mlnoga/floodlight/internal/qsort"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Basic statistics on data arrays
type Stats struct {
	Count  int     `json:"count"`  // Number of values
	Min    float32 `json:"min"`    // Minimum
	Max    float32 `json:"max"`    // Maximum
	Mean   float32 `json:"mean"`   // Mean (average)
	StdDev float32 `json:"stdDev"` // Standard deviation (norm 2, sigma)
	Median float32 `json:"median"` // Median
}

// Calculates statistics for the given values. NaNs must have been removed
func NewStats(data []float32) *Stats {
	s := &Stats{Count: len(data)}
	if len(data) == 0 {
		nan := float32(math.NaN())
		s.Min, s.Max, s.Mean, s.StdDev, s.Median = nan, nan, nan, nan, nan
		return s
	}

	xs := make([]float64, len(data))
	for i, d := range data {
		xs[i] = float64(d)
	}
	s.Min, s.Max = float32(floats.Min(xs)), float32(floats.Max(xs))
	mean, std := stat.MeanStdDev(xs, nil)
	if len(xs) < 2 {
		std = 0
	}
	s.Mean, s.StdDev = float32(mean), float32(std)

	scratch := append([]float32(nil), data...)
	s.Median = qsort.QSelectMedianFloat32(scratch)
	return s
}

// Pretty print basic stats to string
func (s *Stats) String() string {
	return fmt.Sprintf("Count %d Min %.6g Max %.6g Mean %.6g StdDev %.6g Median %.6g",
		s.Count, s.Min, s.Max, s.Mean, s.StdDev, s.Median)
}

// Pretty print basic stats to CSV header
func (s *Stats) ToCSVHeader() string {
	return "Count,Min,Max,Mean,StdDev,Median"
}

// Pretty print basic stats to CSV line item
func (s *Stats) ToCSVLine() string {
	return fmt.Sprintf("%d,%.6g,%.6g,%.6g,%.6g,%.6g", s.Count, s.Min, s.Max, s.Mean, s.StdDev, s.Median)
}
