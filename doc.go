/*
Package facemerge transplants a face from one image onto another. The face outline is derived
from a handful of facial landmarks (eyebrow corners, mouth corners, the lower lip), the two faces
are aligned by their nose centroids, and the outlined window of source scanlines is copied into the
destination canvas.

The package provides a command line interface which also scans whole directories for faces.
To check the supported commands type:

	$ facemerge --help

In case you wish to integrate the API in a self constructed environment here is a simple example:

	package main

	import (
		"fmt"

		"github.com/esimov/facemerge"
	)

	func main() {
		src := facemerge.FromImage(srcImg)
		dst := facemerge.FromImage(dstImg)

		if err := facemerge.CompositeRegion(src, srcLandmarks, dst, dstLandmarks); err != nil {
			fmt.Printf("Error merging the faces: %s", err.Error())
		}
	}
*/
package facemerge
