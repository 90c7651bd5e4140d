package utils

import (
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUtils_ShouldDownloadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		png.Encode(w, image.NewNRGBA(image.Rect(0, 0, 4, 4)))
	}))
	defer srv.Close()

	f, err := DownloadImage(context.Background(), srv.URL+"/face.png")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	defer f.Close()

	assert.Equal(t, ".png", filepath.Ext(f.Name()))
	_, err = png.Decode(f)
	assert.NoError(t, err)
}

func TestUtils_ShouldRejectNonImageDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>not an image</body></html>"))
	}))
	defer srv.Close()

	_, err := DownloadImage(context.Background(), srv.URL+"/page")
	assert.Error(t, err)

	nf := httptest.NewServer(http.NotFoundHandler())
	defer nf.Close()
	_, err = DownloadImage(context.Background(), nf.URL+"/missing.jpg")
	assert.ErrorContains(t, err, "404")
}

func TestUtils_ShouldBeValidUrl(t *testing.T) {
	assert.True(t, IsValidUrl("https://github.com/esimov/facemerge/"))
	assert.False(t, IsValidUrl("testdata/face.jpg"))
	assert.False(t, IsValidUrl("http://"))
}

func TestUtils_ShouldDetectValidFileType(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "sample.png")
	f, err := os.Create(fname)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 2, 2))))
	require.NoError(t, f.Close())

	ftype, err := DetectContentType(fname)
	require.NoError(t, err)
	if !strings.Contains(ftype, "image") {
		t.Errorf("Content type expected to be of type image, got: %v", ftype)
	}
}
