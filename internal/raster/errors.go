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
	"strings"
)

// Returned when a raster carries a different unit than an operation requires
type InvalidUnitError struct {
	Op   string
	Want []Unit
	Got  Unit
}

func (e *InvalidUnitError) Error() string {
	want := make([]string, len(e.Want))
	for i, u := range e.Want {
		want[i] = string(u)
	}
	got := string(e.Got)
	if got == "" {
		got = "untagged"
	}
	return fmt.Sprintf("%s: invalid unit %s, want %s", e.Op, got, strings.Join(want, " or "))
}

// Returned when operand rasters are not co-registered
type GridMismatchError struct {
	Op   string
	A, B Grid
}

func (e *GridMismatchError) Error() string {
	return fmt.Sprintf("%s: grid mismatch between %v and %v", e.Op, e.A, e.B)
}

// Returned when a computation has no unique answer under the selected policy,
// e.g. several gradient directions tie for the maximum
type ComputationAmbiguity struct {
	Op         string
	X, Y       int
	Candidates []int
}

func (e *ComputationAmbiguity) Error() string {
	return fmt.Sprintf("%s: ambiguous result at pixel (%d,%d), candidates %v", e.Op, e.X, e.Y, e.Candidates)
}

// Checks that the raster carries one of the given units
func RequireUnit(op string, r *Raster, units ...Unit) error {
	for _, u := range units {
		if r.Unit == u {
			return nil
		}
	}
	return &InvalidUnitError{Op: op, Want: units, Got: r.Unit}
}

// Checks that all given rasters share the grid of the first one
func RequireSameGrid(op string, rs ...*Raster) error {
	for _, r := range rs[1:] {
		if !rs[0].Grid.SameAs(r.Grid) {
			return &GridMismatchError{Op: op, A: rs[0].Grid, B: r.Grid}
		}
	}
	return nil
}
