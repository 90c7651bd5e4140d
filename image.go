package facemerge

import (
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/esimov/facemerge/utils"
	"golang.org/x/image/bmp"
)

// Decode reads an image and rotates it according to its EXIF orientation tag.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: could not decode the image: %v", ErrIO, err)
	}
	return img, nil
}

// DecodeFile opens and decodes an image file.
func DecodeFile(path string) (image.Image, error) {
	ctype, err := utils.DetectContentType(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if !strings.Contains(ctype, "image") {
		return nil, fmt.Errorf("%w: %s is not an image file", ErrIO, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open the image: %v", ErrIO, err)
	}
	defer file.Close()

	return Decode(file)
}

// Encode writes the image in the format matching the extension. An empty extension means jpeg.
func Encode(w io.Writer, img image.Image, ext string) error {
	switch strings.ToLower(ext) {
	case "", ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 100})
	case ".png":
		return png.Encode(w, img)
	case ".bmp":
		return bmp.Encode(w, img)
	case ".gif":
		return gif.Encode(w, img, nil)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// EncodeFile creates the file and encodes the image into it.
func EncodeFile(path string, img image.Image) error {
	ext := filepath.Ext(path)
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".bmp", ".gif":
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: unable to create the destination file: %v", ErrIO, err)
	}
	if err := Encode(file, img, ext); err != nil {
		file.Close()
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}
