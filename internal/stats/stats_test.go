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
	"math"
	"testing"

	"github.com/valyala/fastrand"
)

func TestNewStats(t *testing.T) {
	s := NewStats([]float32{4, 1, 3, 2, 5})
	if s.Count != 5 || s.Min != 1 || s.Max != 5 || s.Mean != 3 || s.Median != 3 {
		t.Errorf("got %v", s)
	}
	if math.Abs(float64(s.StdDev)-math.Sqrt(2.5)) > 1e-6 {
		t.Errorf("stddev got %f want %f", s.StdDev, math.Sqrt(2.5))
	}

	empty := NewStats(nil)
	if empty.Count != 0 || !math.IsNaN(float64(empty.Mean)) {
		t.Errorf("got %v", empty)
	}
	if one := NewStats([]float32{7}); one.StdDev != 0 || one.Median != 7 {
		t.Errorf("got %v", one)
	}
}

func TestHistogramClamps(t *testing.T) {
	bins := make([]int32, 4)
	Histogram([]float32{-10, 0, 1, 2, 3, 10}, 0, 3, bins)
	want := []int32{2, 1, 1, 2}
	for i, w := range want {
		if bins[i] != w {
			t.Errorf("bin %d got %d want %d", i, bins[i], w)
		}
	}
}

// Box-Muller normal variates from fastrand
func normal(rng *fastrand.RNG, mu, sigma float64) float32 {
	u1 := (float64(rng.Uint32n(1<<24)) + 0.5) / float64(1<<24)
	u2 := (float64(rng.Uint32n(1<<24)) + 0.5) / float64(1<<24)
	return float32(mu + sigma*math.Sqrt(-2*math.Log(u1))*math.Cos(2*math.Pi*u2))
}

func TestModeStdDevFromHistogram(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(7)
	data := make([]float32, 100000)
	for i := range data {
		data[i] = normal(&rng, 1.0, 0.05)
	}
	bins := make([]int32, 256)
	Histogram(data, 0.8, 1.2, bins)
	mode, stdDev, err := GetModeStdDevFromHistogram(bins, 0.8, 1.2)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(mode)-1.0) > 0.01 {
		t.Errorf("mode got %f want 1.0", mode)
	}
	if math.Abs(float64(stdDev)-0.05) > 0.01 {
		t.Errorf("stddev got %f want 0.05", stdDev)
	}

	if _, _, err := GetModeStdDevFromHistogram(bins[:1], 0, 1); err == nil {
		t.Errorf("expected error for single bin")
	}
}
