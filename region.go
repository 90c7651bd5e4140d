package facemerge

import (
	"fmt"
	"math"

	"github.com/esimov/facemerge/landmark"
	"github.com/esimov/facemerge/utils"
)

// Region is the face outline derived from a landmark set: the scanlines [Top, Bottom)
// and, for each of them, the half-open column span [Left[i], Right[i]).
type Region struct {
	Top    int
	Bottom int
	Left   []int
	Right  []int
}

// Height returns the number of scanlines covered by the region.
func (r *Region) Height() int {
	return r.Bottom - r.Top
}

// Width returns the span of the i-th scanline, counted from Top.
func (r *Region) Width(i int) int {
	return r.Right[i] - r.Left[i]
}

// Row returns the column span of the absolute scanline y.
func (r *Region) Row(y int) (left, right int, ok bool) {
	if y < r.Top || y >= r.Bottom {
		return 0, 0, false
	}
	i := y - r.Top
	return r.Left[i], r.Right[i], true
}

func (r *Region) clone() *Region {
	return &Region{
		Top:    r.Top,
		Bottom: r.Bottom,
		Left:   append([]int(nil), r.Left...),
		Right:  append([]int(nil), r.Right...),
	}
}

// ComputeRegion derives the face outline from the eyebrow, mouth and lower lip keypoints.
//
// The vertical span runs from the highest eyebrow point to one line below the lowest
// mouth point, padded by 15% at the bottom and then by 10% of the padded height at the top.
// The boundaries taper linearly from the brow width toward the mouth width. Except for the
// last tenth of the rows (the chin), they also bulge outward by sqrt(maxWidth - |height/2 - i|).
func ComputeRegion(lm landmark.Set) (*Region, error) {
	if err := lm.Require(landmark.Outline...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientLandmarks, err)
	}
	pt := func(n landmark.Name) landmark.Point {
		p, _ := lm.Point(n)
		return p
	}

	browLeft, browRight := pt(landmark.EyebrowLeftOuter), pt(landmark.EyebrowRightOuter)
	mouthLeft, mouthRight := pt(landmark.MouthLeft), pt(landmark.MouthRight)

	top := utils.MinOf(browLeft.Y, pt(landmark.EyebrowLeftInner).Y, pt(landmark.EyebrowRightInner).Y, browRight.Y)
	bottom := utils.MaxOf(mouthLeft.Y, mouthRight.Y, pt(landmark.UnderLipBottom).Y) + 1

	// The bottom is padded first, the top padding uses the updated height.
	bottom += (bottom - top) * 15 / 100
	top -= (bottom - top) * 10 / 100

	if bottom <= top {
		return nil, fmt.Errorf("%w: empty vertical span [%d, %d)", ErrDegenerateGeometry, top, bottom)
	}

	maxWidth := browRight.X - browLeft.X
	if maxWidth <= 0 {
		return nil, fmt.Errorf("%w: eyebrow span is %d pixels wide", ErrDegenerateGeometry, maxWidth)
	}
	minWidth := mouthRight.X - mouthLeft.X
	halfWidthDiff := (maxWidth - minWidth) / 2

	height := bottom - top
	chin := height - height/10

	r := &Region{
		Top:    top,
		Bottom: bottom,
		Left:   make([]int, height),
		Right:  make([]int, height),
	}
	for i := 0; i < height; i++ {
		taper := halfWidthDiff * i / height
		var bulge int
		if i < chin {
			bulge = bulgeAt(maxWidth, height, i)
		}
		left := utils.Max(browLeft.X+taper-bulge, 0)
		right := utils.Max(browRight.X-taper+bulge, 0)
		if right < left {
			return nil, fmt.Errorf("%w: row %d spans [%d, %d)", ErrDegenerateGeometry, top+i, left, right)
		}
		r.Left[i], r.Right[i] = left, right
	}
	return r, nil
}

// bulgeAt returns the outward widening of row i. The radicand mixes a width with a
// vertical distance; a negative value yields no widening.
func bulgeAt(maxWidth, height, i int) int {
	rad := maxWidth - utils.Abs(height/2-i)
	if rad <= 0 {
		return 0
	}
	return int(math.Sqrt(float64(rad)))
}
