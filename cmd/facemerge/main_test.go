package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/esimov/facemerge"
	"github.com/esimov/facemerge/batch"
	"github.com/esimov/facemerge/config"
	"github.com/esimov/facemerge/detect"
	"github.com/esimov/facemerge/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskContinue(t *testing.T) {
	cases := map[string]bool{
		"y\n":     true,
		"YES\n":   true,
		" yes \n": true,
		"n\n":     false,
		"\n":      false,
		"maybe\n": false,
		"":        false,
		"y":       true,
	}
	for in, want := range cases {
		var out bytes.Buffer
		got := askContinue(strings.NewReader(in), &out, 10, 25)
		assert.Equal(t, want, got, "answer %q", in)
		assert.Contains(t, out.String(), "10 of 25 images")
		assert.Contains(t, out.String(), "[y/N]")
	}
}

func TestSyntheticFaces(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, facemerge.Encode(&buf, image.NewGray(image.Rect(0, 0, 200, 160)), ".png"))

	faces := syntheticFaces(buf.Bytes())
	require.Len(t, faces, 1)
	assert.NotEmpty(t, faces[0].ID)

	_, err := facemerge.ComputeRegion(faces[0].Landmarks)
	require.NoError(t, err)
	assert.Empty(t, syntheticFaces([]byte("garbage")))
}

func writeImage(t *testing.T, path string, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 240, 240))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	require.NoError(t, facemerge.EncodeFile(path, img))
}

func TestMerge_MockBackendAndStore(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "dst.png")
	out := filepath.Join(dir, "out.png")
	writeImage(t, src, color.NRGBA{R: 200, A: 255})
	writeImage(t, dst, color.NRGBA{B: 200, A: 255})

	c, err := config.Load("")
	require.NoError(t, err)
	c.Detector.Backend = config.BackendMock
	c.Store.Path = filepath.Join(dir, "faces.db")
	cfg = c

	// Scan first so that merge reads the stored landmarks.
	det, err := newDetector(cfg)
	require.NoError(t, err)
	report, err := batch.New(det, cfg.BatchOptions()).Run(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 2, report.Aggregate.Len())

	db, err := store.New(cfg.Store.Path)
	require.NoError(t, err)
	require.NoError(t, db.SaveReport(context.Background(), report))

	require.NoError(t, merge(context.Background(), &faceSource{db: db}, src, dst, out))
	require.NoError(t, db.Close())

	res, err := facemerge.DecodeFile(out)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 240, 240), res.Bounds())

	r, g, b, _ := res.At(120, 120).RGBA()
	assert.Equal(t, [3]uint32{200, 0, 0}, [3]uint32{r >> 8, g >> 8, b >> 8}, "face pixels come from the source")
	r, g, b, _ = res.At(5, 5).RGBA()
	assert.Equal(t, [3]uint32{0, 0, 200}, [3]uint32{r >> 8, g >> 8, b >> 8}, "background comes from the destination")

	_, err = os.Stat(out)
	assert.NoError(t, err)
}

func TestMerge_DetectorFallback(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "dst.png")
	writeImage(t, src, color.NRGBA{G: 90, A: 255})
	writeImage(t, dst, color.NRGBA{R: 90, A: 255})

	m := detect.NewMock()
	m.SetFaceFunc(syntheticFaces)
	err := merge(context.Background(), &faceSource{det: m}, src, dst, filepath.Join(dir, "out.jpg"))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Calls())

	err = merge(context.Background(), &faceSource{det: m}, src, dst, filepath.Join(dir, "out.tiff"))
	assert.ErrorIs(t, err, facemerge.ErrUnsupportedFormat)

	err = merge(context.Background(), &faceSource{det: detect.NewMock()}, src, dst, filepath.Join(dir, "out.jpg"))
	assert.ErrorIs(t, err, facemerge.ErrInsufficientLandmarks)
}

func TestSaveReport_AfterInterrupt(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "a.png"), color.NRGBA{R: 10, A: 255})

	m := detect.NewMock()
	m.SetFaceFunc(syntheticFaces)
	report, err := batch.New(m, batch.Options{Concurrency: 1}).Run(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 1, report.Aggregate.Len())

	db, err := store.New(filepath.Join(dir, "faces.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, db.SaveReport(ctx, report), "a cancelled context reaches the database")

	require.NoError(t, saveReport(ctx, db, report))
	images, err := db.Images(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, store.StatusCompleted, images[0].Status)
}

func TestSoftCapMessage(t *testing.T) {
	msg := softCapMessage(10)
	assert.Contains(t, msg, "10 images")
	assert.Contains(t, msg, "not a terminal")
	assert.Contains(t, msg, "--yes")

	flag := scanCmd.Flags().Lookup("soft-cap")
	require.NotNil(t, flag)
	assert.Contains(t, flag.Usage, "--yes")
}
