package facemerge

import (
	"fmt"
	"image"
	"image/color"
)

// PixelBuffer is a row-major, top-to-bottom grid of pixels.
type PixelBuffer struct {
	Width        int
	Height       int
	BitsPerPixel int
	Pix          []byte
}

// NewPixelBuffer allocates a zeroed buffer.
func NewPixelBuffer(width, height, bitsPerPixel int) (*PixelBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid size %dx%d", ErrPixelFormat, width, height)
	}
	if bitsPerPixel <= 0 || bitsPerPixel%8 != 0 {
		return nil, fmt.Errorf("%w: %d bits per pixel", ErrPixelFormat, bitsPerPixel)
	}
	b := &PixelBuffer{Width: width, Height: height, BitsPerPixel: bitsPerPixel}
	b.Pix = make([]byte, b.Stride()*height)
	return b, nil
}

// Stride returns the length of a scanline in bytes.
func (b *PixelBuffer) Stride() int {
	return b.Width * b.BitsPerPixel / 8
}

// BytesPerPixel returns the pixel depth in bytes.
func (b *PixelBuffer) BytesPerPixel() int {
	return b.BitsPerPixel / 8
}

// Validate checks that the declared geometry is backed by enough bytes.
func (b *PixelBuffer) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", ErrPixelFormat)
	}
	if b.Width <= 0 || b.Height <= 0 || b.BitsPerPixel <= 0 || b.BitsPerPixel%8 != 0 {
		return fmt.Errorf("%w: %dx%d@%dbpp", ErrPixelFormat, b.Width, b.Height, b.BitsPerPixel)
	}
	if need := b.Stride() * b.Height; len(b.Pix) < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrPixelFormat, len(b.Pix), need)
	}
	return nil
}

// Row returns the pixel bytes of scanline y.
func (b *PixelBuffer) Row(y int) []byte {
	s := b.Stride()
	return b.Pix[y*s : (y+1)*s]
}

// Clone returns a deep copy of the buffer.
func (b *PixelBuffer) Clone() *PixelBuffer {
	c := *b
	c.Pix = append([]byte(nil), b.Pix...)
	return &c
}

// Image exposes a 32 bits per pixel buffer as an NRGBA image sharing the same pixels.
func (b *PixelBuffer) Image() (*image.NRGBA, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.BitsPerPixel != 32 {
		return nil, fmt.Errorf("%w: NRGBA needs 32 bits per pixel, got %d", ErrPixelFormat, b.BitsPerPixel)
	}
	return &image.NRGBA{
		Pix:    b.Pix,
		Stride: b.Stride(),
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}, nil
}

// FromImage converts any image type to a 32 bits per pixel NRGBA buffer with min-point at (0, 0).
func FromImage(img image.Image) *PixelBuffer {
	dst := toNRGBA(img)
	return &PixelBuffer{
		Width:        dst.Rect.Dx(),
		Height:       dst.Rect.Dy(),
		BitsPerPixel: 32,
		Pix:          dst.Pix,
	}
}

// toNRGBA always returns a freshly allocated image, so the buffer never aliases the caller's pixels.
func toNRGBA(img image.Image) *image.NRGBA {
	srcBounds := img.Bounds()
	srcMinX := srcBounds.Min.X
	srcMinY := srcBounds.Min.Y

	dstBounds := srcBounds.Sub(srcBounds.Min)
	dstW := dstBounds.Dx()
	dstH := dstBounds.Dy()
	dst := image.NewNRGBA(dstBounds)

	switch src := img.(type) {
	case *image.NRGBA:
		rowSize := dstW * 4
		for dstY := 0; dstY < dstH; dstY++ {
			di := dst.PixOffset(0, dstY)
			si := src.PixOffset(srcMinX, srcMinY+dstY)
			copy(dst.Pix[di:di+rowSize], src.Pix[si:si+rowSize])
		}
	case *image.YCbCr:
		for dstY := 0; dstY < dstH; dstY++ {
			di := dst.PixOffset(0, dstY)
			for dstX := 0; dstX < dstW; dstX++ {
				srcX := srcMinX + dstX
				srcY := srcMinY + dstY
				siy := src.YOffset(srcX, srcY)
				sic := src.COffset(srcX, srcY)
				r, g, b := color.YCbCrToRGB(src.Y[siy], src.Cb[sic], src.Cr[sic])
				dst.Pix[di+0] = r
				dst.Pix[di+1] = g
				dst.Pix[di+2] = b
				dst.Pix[di+3] = 0xff
				di += 4
			}
		}
	default:
		for dstY := 0; dstY < dstH; dstY++ {
			di := dst.PixOffset(0, dstY)
			for dstX := 0; dstX < dstW; dstX++ {
				c := color.NRGBAModel.Convert(img.At(srcMinX+dstX, srcMinY+dstY)).(color.NRGBA)
				dst.Pix[di+0] = c.R
				dst.Pix[di+1] = c.G
				dst.Pix[di+2] = c.B
				dst.Pix[di+3] = c.A
				di += 4
			}
		}
	}

	return dst
}
