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

package lee

import (
	"fmt"
	"image"
	"strings"

	"github.com/mlnoga/floodlight/internal/raster"
)

// Policy for pixels where several gradients tie for the maximum
type TiePolicy int

const (
	TieLowestIndex TiePolicy = iota // the lowest gradient index among the maxima wins
	TieFail                         // fail with a ComputationAmbiguity error
)

func (p TiePolicy) String() string {
	switch p {
	case TieLowestIndex:
		return "lowest"
	case TieFail:
		return "fail"
	}
	return fmt.Sprintf("tie(%d)", int(p))
}

// Parses a tie policy name as printed by String()
func ParseTiePolicy(s string) (TiePolicy, error) {
	switch strings.ToLower(s) {
	case "", "lowest":
		return TieLowestIndex, nil
	case "fail":
		return TieFail, nil
	}
	return TieLowestIndex, fmt.Errorf("unknown tie policy '%s', want lowest or fail", s)
}

func (p TiePolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *TiePolicy) UnmarshalText(b []byte) error {
	v, err := ParseTiePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Index of the sub-window center in the 3x3 grid of samples
const centerSample = 4

// Opposite sample pairs along the four axes. The first entry of each pair is the
// upper side used for the direction indicator
var gradientPairs = [4][2]int{{1, 7}, {6, 2}, {3, 5}, {0, 8}}

// Derives the edge orientation map from the nine sampled sub-window means
// (row-major over the 3x3 sample positions, center at index 4).
// For each pixel the axis with the maximum absolute gradient between opposite samples
// is selected. Along that axis, direction d=axis+1 is assigned if the upper side
// difference to the center exceeds the lower side difference, else d=axis+5.
// Gradients with an invalid operand do not take part. Pixels without a valid gradient
// or without a valid center sample remain invalid.
func EstimateDirections(sampleMean []*raster.Raster, policy TiePolicy) (*raster.Raster, error) {
	return estimateDirections(sampleMean, policy, nil)
}

// As EstimateDirections. If core is not nil, TieFail only applies to pixels inside it
func estimateDirections(sampleMean []*raster.Raster, policy TiePolicy, core *image.Rectangle) (*raster.Raster, error) {
	if len(sampleMean) != 9 {
		return nil, fmt.Errorf("estimateDirections: need 9 sample bands, got %d", len(sampleMean))
	}
	if err := raster.RequireSameGrid("estimateDirections", sampleMean...); err != nil {
		return nil, err
	}
	ref := sampleMean[centerSample]
	res := raster.NewLike(ref, raster.UnitDirection)
	res.Name = "directions"
	width := ref.Grid.Width

	var ties []int
	for i := range ref.Data {
		// gradients along the four axes, and their maximum
		maxGrad, winner := float32(-1), -1
		ties = ties[:0]
		for axis, p := range gradientPairs {
			a, b := sampleMean[p[0]], sampleMean[p[1]]
			if !a.IsValid(i) || !b.IsValid(i) {
				continue
			}
			g := a.Data[i] - b.Data[i]
			if g < 0 {
				g = -g
			}
			if g > maxGrad {
				maxGrad, winner = g, axis
				ties = append(ties[:0], axis)
			} else if g == maxGrad {
				ties = append(ties, axis)
			}
		}
		if winner < 0 || !ref.IsValid(i) {
			continue
		}
		if len(ties) > 1 && policy == TieFail && (core == nil || image.Pt(i%width, i/width).In(*core)) {
			cands := make([]int, len(ties))
			for j, axis := range ties {
				cands[j] = axis + 1
			}
			return nil, &raster.ComputationAmbiguity{Op: "estimateDirections", X: i % width, Y: i / width, Candidates: cands}
		}
		// ties[0] is the lowest tied axis, as axes are visited in ascending order

		p := gradientPairs[ties[0]]
		upper := sampleMean[p[0]].Data[i] - ref.Data[i]
		lower := ref.Data[i] - sampleMean[p[1]].Data[i]
		dir := float32(ties[0] + 1)
		if !(upper > lower) {
			dir += 4
		}
		res.Set(i, dir)
	}
	return res, nil
}
