package facemerge

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"

	"github.com/esimov/facemerge/detect"
	"github.com/esimov/facemerge/landmark"
)

// MergeFaces pastes the face of src onto a copy of dst. Neither image is modified.
func MergeFaces(src image.Image, srcLm landmark.Set, dst image.Image, dstLm landmark.Set) (*image.NRGBA, error) {
	sb := FromImage(src)
	db := FromImage(dst)
	if err := CompositeRegion(sb, srcLm, db, dstLm); err != nil {
		return nil, err
	}
	return db.Image()
}

// Merge detects the most prominent face of both image files and pastes the one of
// srcPath onto a copy of dstPath.
func Merge(ctx context.Context, det detect.Detector, srcPath, dstPath string) (*image.NRGBA, error) {
	src, srcLm, err := DetectFile(ctx, det, srcPath)
	if err != nil {
		return nil, err
	}
	dst, dstLm, err := DetectFile(ctx, det, dstPath)
	if err != nil {
		return nil, err
	}
	return MergeFaces(src, srcLm, dst, dstLm)
}

// DetectFile decodes the image file and returns the landmarks of its first detected face.
func DetectFile(ctx context.Context, det detect.Detector, path string) (image.Image, landmark.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, landmark.Set{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, landmark.Set{}, err
	}
	faces, err := det.Detect(ctx, data)
	if err != nil {
		return nil, landmark.Set{}, fmt.Errorf("face detection failed on %s: %w", path, err)
	}
	if len(faces) == 0 {
		return nil, landmark.Set{}, fmt.Errorf("%w: no face found in %s", ErrInsufficientLandmarks, path)
	}
	return img, faces[0].Landmarks, nil
}
