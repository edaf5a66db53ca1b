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
	"math"
)

// Converts a dB raster to natural units: natural = 10^(dB/10)
func ToNatural(r *Raster) (*Raster, error) {
	if err := RequireUnit("toNatural", r, UnitDB); err != nil {
		return nil, err
	}
	return Map(r, UnitNatural, func(v float32) (float32, bool) {
		return float32(math.Pow(10, float64(v)/10)), true
	}), nil
}

// Converts a natural unit raster to dB: dB = 10*log10(natural).
// Non-positive values have no logarithm and become invalid
func ToDB(r *Raster) (*Raster, error) {
	if err := RequireUnit("toDB", r, UnitNatural); err != nil {
		return nil, err
	}
	return Map(r, UnitDB, func(v float32) (float32, bool) {
		if v <= 0 {
			return 0, false
		}
		return float32(10 * math.Log10(float64(v))), true
	}), nil
}

// Applies f to each valid pixel, producing a new raster with the given unit.
// Pixels for which f returns false become invalid
func Map(r *Raster, unit Unit, f func(v float32) (float32, bool)) *Raster {
	res := NewLike(r, unit)
	for i, v := range r.Data {
		if !r.IsValid(i) {
			continue
		}
		if out, ok := f(v); ok {
			res.Set(i, out)
		}
	}
	return res
}

// Applies f to each pixel valid in both a and b, producing a new raster with the given unit.
// Fails if the rasters are not co-registered
func Zip(op string, a, b *Raster, unit Unit, f func(va, vb float32) (float32, bool)) (*Raster, error) {
	if err := RequireSameGrid(op, a, b); err != nil {
		return nil, err
	}
	res := NewLike(a, unit)
	for i := range a.Data {
		if !a.IsValid(i) || !b.IsValid(i) {
			continue
		}
		if out, ok := f(a.Data[i], b.Data[i]); ok {
			res.Set(i, out)
		}
	}
	return res, nil
}

// Per-pixel quotient a/b. Division by zero yields an invalid pixel
func Divide(a, b *Raster) (*Raster, error) {
	return Zip("divide", a, b, UnitRatio, func(va, vb float32) (float32, bool) {
		if vb == 0 {
			return 0, false
		}
		return va / vb, true
	})
}

// Self-masked comparison: 1 where the valid value exceeds the threshold, invalid elsewhere
func GreaterThan(r *Raster, threshold float32) *Raster {
	return Map(r, UnitMask, func(v float32) (float32, bool) {
		return 1, v > threshold
	})
}

// Keeps mask pixels where keep is valid and non-zero. All other pixels become invalid
func UpdateMask(mask, keep *Raster) (*Raster, error) {
	if err := RequireUnit("updateMask", mask, UnitMask); err != nil {
		return nil, err
	}
	return Zip("updateMask", mask, keep, UnitMask, func(vm, vk float32) (float32, bool) {
		return vm, vk != 0
	})
}

// Returns true if every pixel set in sub is also set in super
func IsSubset(sub, super *Raster) bool {
	if len(sub.Data) != len(super.Data) {
		return false
	}
	for i := range sub.Data {
		if sub.IsValid(i) && sub.Data[i] != 0 && (!super.IsValid(i) || super.Data[i] == 0) {
			return false
		}
	}
	return true
}

// Number of valid non-zero mask pixels
func CountTrue(mask *Raster) int {
	n := 0
	for i, v := range mask.Data {
		if mask.IsValid(i) && v != 0 {
			n++
		}
	}
	return n
}
