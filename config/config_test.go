package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/esimov/facemerge/detect"
	"github.com/esimov/facemerge/landmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendRemote, cfg.Detector.Backend)
	assert.Equal(t, 30*time.Second, cfg.Detector.Timeout)
	assert.Equal(t, 4, cfg.Batch.Concurrency)
	assert.Equal(t, 10, cfg.Batch.SoftCap)
	assert.Equal(t, []string{"jpg", "png", "bmp", "gif"}, cfg.Batch.Extensions)
	assert.Equal(t, 100*time.Millisecond, cfg.Batch.BackoffInitial)

	// The remote backend has no credentials by default.
	assert.Error(t, cfg.Validate())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facemerge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
detector:
  endpoint: https://face.example.com/face/v1.0
  key: from-file
batch:
  concurrency: 8
  extensions: [jpg]
pigo:
  landmarks:
    noseTip: {cascade: lp93, flip: true}
    upperLipTop: {cascade: lp82}
`), 0o644))

	t.Setenv("FACEMERGE_KEY", "from-env")
	t.Setenv("FACEMERGE_SOFT_CAP", "0")
	t.Setenv("FACEMERGE_TIMEOUT", "5s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "from-env", cfg.Detector.Key)
	assert.Equal(t, 5*time.Second, cfg.Detector.Timeout)
	assert.Equal(t, 8, cfg.Batch.Concurrency)
	assert.Equal(t, 0, cfg.Batch.SoftCap)

	rc := cfg.RemoteDetectorConfig()
	assert.Equal(t, "https://face.example.com/face/v1.0", rc.Endpoint)
	assert.Equal(t, "from-env", rc.Key)

	opts := cfg.BatchOptions()
	assert.Equal(t, []string{".jpg"}, opts.Extensions)
	assert.Equal(t, 8, opts.Concurrency)
	require.NotNil(t, opts.Backoff)
	first := opts.Backoff().NextBackOff()
	assert.GreaterOrEqual(t, first, 50*time.Millisecond)
	assert.LessOrEqual(t, first, 150*time.Millisecond)

	pc, err := cfg.PigoDetectorConfig()
	require.NoError(t, err)
	assert.Equal(t, detect.FlpBinding{Cascade: "lp93", Flip: true}, pc.Bindings[landmark.NoseTip])
	assert.Equal(t, detect.FlpBinding{Cascade: "lp82"}, pc.Bindings[landmark.UpperLipTop])
	assert.Equal(t, detect.DefaultBindings[landmark.MouthLeft], pc.Bindings[landmark.MouthLeft])
	assert.Len(t, pc.Bindings, len(detect.DefaultBindings))
	assert.Equal(t, detect.FlpBinding{Cascade: "lp93"}, detect.DefaultBindings[landmark.NoseTip], "defaults must not be modified")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("batch: [1, 2"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	t.Setenv("FACEMERGE_CONCURRENCY", "many")
	_, err = Load("")
	assert.ErrorContains(t, err, "FACEMERGE_CONCURRENCY")
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Detector.Backend = BackendMock
	assert.NoError(t, cfg.Validate())

	cfg.Batch.Concurrency = 0
	cfg.Batch.SoftCap = -1
	cfg.Batch.Extensions = []string{" "}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency")
	assert.Contains(t, err.Error(), "soft cap")
	assert.Contains(t, err.Error(), "extension")

	cfg, _ = Load("")
	cfg.Detector.Backend = "carrier-pigeon"
	assert.ErrorContains(t, cfg.Validate(), "unknown detector backend")
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FACEMERGE_TEST_DOTENV=loaded\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("FACEMERGE_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("FACEMERGE_TEST_DOTENV"))
	assert.Error(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
