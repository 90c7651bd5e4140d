package facemerge

import (
	"fmt"

	"github.com/esimov/facemerge/landmark"
)

// Offset is the translation applied to every copied scanline.
type Offset struct {
	X, Y int
}

// Neg returns the opposite translation.
func (o Offset) Neg() Offset {
	return Offset{-o.X, -o.Y}
}

// AlignmentOffset returns the translation moving the nose centroid of src onto the one of dst.
func AlignmentOffset(src, dst landmark.Set) (Offset, error) {
	d, err := landmark.Offset(src, dst)
	if err != nil {
		return Offset{}, fmt.Errorf("%w: %v", ErrInsufficientLandmarks, err)
	}
	return Offset{d.X, d.Y}, nil
}

// Plan is a validated compositing operation. It is computed without touching any pixel
// and is only valid for buffers with the geometry it was planned against.
type Plan struct {
	Offset Offset

	region     *Region
	srcW, srcH int
	dstW, dstH int
	bpp        int
}

// PlanComposite validates the inputs of a compositing call and computes the face region
// and the alignment offset.
func PlanComposite(src *PixelBuffer, srcLm landmark.Set, dst *PixelBuffer, dstLm landmark.Set) (*Plan, error) {
	if err := srcLm.Require(landmark.Required...); err != nil {
		return nil, fmt.Errorf("%w: source: %v", ErrInsufficientLandmarks, err)
	}
	if err := dstLm.Require(landmark.Nose...); err != nil {
		return nil, fmt.Errorf("%w: destination: %v", ErrInsufficientLandmarks, err)
	}
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	if src.BitsPerPixel != dst.BitsPerPixel {
		return nil, fmt.Errorf("%w: source has %d bits per pixel, destination %d",
			ErrPixelFormat, src.BitsPerPixel, dst.BitsPerPixel)
	}
	if err := checkInside(srcLm, landmark.Required, src); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if err := checkInside(dstLm, landmark.Nose, dst); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}

	region, err := ComputeRegion(srcLm)
	if err != nil {
		return nil, err
	}
	offset, err := AlignmentOffset(srcLm, dstLm)
	if err != nil {
		return nil, err
	}

	if err := checkSpans(region, offset, src.Width, src.Height, dst.Width, dst.Height); err != nil {
		return nil, err
	}

	return &Plan{
		Offset: offset,
		region: region,
		srcW:   src.Width,
		srcH:   src.Height,
		dstW:   dst.Width,
		dstH:   dst.Height,
		bpp:    src.BitsPerPixel,
	}, nil
}

// Region returns a copy of the planned face region.
func (p *Plan) Region() *Region {
	return p.region.clone()
}

// checkSpans reports whether every scanline of r, and its translation by off, lies inside
// buffers of the given sizes.
func checkSpans(r *Region, off Offset, srcW, srcH, dstW, dstH int) error {
	if r.Height() < 0 || len(r.Left) != r.Height() || len(r.Right) != r.Height() {
		return fmt.Errorf("%w: region has %d rows but %d/%d spans",
			ErrOutOfBounds, r.Height(), len(r.Left), len(r.Right))
	}
	for i := 0; i < r.Height(); i++ {
		y := r.Top + i
		left, right := r.Left[i], r.Right[i]
		if y < 0 || y >= srcH || left < 0 || left > right || right > srcW {
			return fmt.Errorf("%w: source row %d span [%d, %d) outside %dx%d",
				ErrOutOfBounds, y, left, right, srcW, srcH)
		}
		dy, dl, dr := y+off.Y, left+off.X, right+off.X
		if dy < 0 || dy >= dstH || dl < 0 || dr > dstW {
			return fmt.Errorf("%w: destination row %d span [%d, %d) outside %dx%d",
				ErrOutOfBounds, dy, dl, dr, dstW, dstH)
		}
	}
	return nil
}

// Apply copies the planned scanlines from src into dst. Every source row is read before
// the first write, so src and dst may share the same pixels.
func (p *Plan) Apply(src, dst *PixelBuffer) error {
	if src.Width != p.srcW || src.Height != p.srcH || dst.Width != p.dstW || dst.Height != p.dstH ||
		src.BitsPerPixel != p.bpp || dst.BitsPerPixel != p.bpp {
		return fmt.Errorf("%w: buffers differ from the planned geometry", ErrPixelFormat)
	}
	r := p.region
	if err := checkSpans(r, p.Offset, p.srcW, p.srcH, p.dstW, p.dstH); err != nil {
		return err
	}
	bpp := src.BytesPerPixel()

	var total int
	for i := 0; i < r.Height(); i++ {
		total += r.Width(i) * bpp
	}
	scratch := make([]byte, 0, total)
	for i := 0; i < r.Height(); i++ {
		row := src.Row(r.Top + i)
		scratch = append(scratch, row[r.Left[i]*bpp:r.Right[i]*bpp]...)
	}

	var off int
	for i := 0; i < r.Height(); i++ {
		n := r.Width(i) * bpp
		row := dst.Row(r.Top + i + p.Offset.Y)
		start := (r.Left[i] + p.Offset.X) * bpp
		copy(row[start:start+n], scratch[off:off+n])
		off += n
	}
	return nil
}

// CompositeRegion copies the face outlined by srcLm from src into dst, aligned on the
// nose centroid of dstLm. On error dst is left untouched.
func CompositeRegion(src *PixelBuffer, srcLm landmark.Set, dst *PixelBuffer, dstLm landmark.Set) error {
	plan, err := PlanComposite(src, srcLm, dst, dstLm)
	if err != nil {
		return err
	}
	return plan.Apply(src, dst)
}

func checkInside(lm landmark.Set, list []landmark.Name, b *PixelBuffer) error {
	for _, n := range list {
		p, _ := lm.Point(n)
		if p.X < 0 || p.Y < 0 || p.X >= b.Width || p.Y >= b.Height {
			return fmt.Errorf("%w: %v at (%d, %d) outside %dx%d", ErrOutOfBounds, n, p.X, p.Y, b.Width, b.Height)
		}
	}
	return nil
}
