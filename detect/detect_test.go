package detect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/esimov/facemerge/landmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detectResponse = `[{
	"faceId": "c5c24a82-6845-4031-9d5d-978df9175426",
	"faceRectangle": {"top": 60, "left": 90, "width": 140, "height": 150},
	"faceLandmarks": {
		"eyebrowLeftOuter": {"x": 100.4, "y": 80.1},
		"eyebrowRightOuter": {"x": 220.0, "y": 80.9},
		"noseTip": {"x": 160.2, "y": 160.7},
		"eyeLeftTop": {"x": 120.0, "y": 95.0}
	}
}]`

func TestRemote_Detect(t *testing.T) {
	var gotKey, gotQuery, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/face/v1.0/detect", r.URL.Path)
		gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
		gotType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(detectResponse))
	}))
	defer srv.Close()

	r, err := NewRemote(RemoteConfig{Endpoint: srv.URL + "/face/v1.0/", Key: "secret"})
	require.NoError(t, err)

	faces, err := r.Detect(context.Background(), []byte("jpeg bytes"))
	require.NoError(t, err)
	require.Len(t, faces, 1)

	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "application/octet-stream", gotType)
	assert.Contains(t, gotQuery, "returnFaceId=true")
	assert.Contains(t, gotQuery, "returnFaceLandmarks=true")
	assert.Equal(t, "jpeg bytes", string(gotBody))

	f := faces[0]
	assert.Equal(t, "c5c24a82-6845-4031-9d5d-978df9175426", f.ID)
	assert.Equal(t, 90, f.Rect.Min.X)
	assert.Equal(t, 210, f.Rect.Max.Y)
	assert.Equal(t, 3, f.Landmarks.Len())
	p, ok := f.Landmarks.Point(landmark.EyebrowLeftOuter)
	assert.True(t, ok)
	assert.Equal(t, landmark.Point{X: 100, Y: 80}, p)
}

func TestRemote_ErrorClassification(t *testing.T) {
	cases := []struct {
		status     int
		body       string
		retryAfter string
		kind       Kind
		code       string
		wait       time.Duration
	}{
		{429, `{"error":{"code":"RateLimitExceeded","message":"Rate limit is exceeded."}}`, "2", RateLimited, "RateLimitExceeded", 2 * time.Second},
		{429, ``, "", RateLimited, "429", 0},
		{409, `{"error":{"code":"ConcurrentOperationConflict","message":"There is a conflict operation."}}`, "", Transient, "ConcurrentOperationConflict", 0},
		{503, `service unavailable`, "1", Transient, "503", time.Second},
		{400, `{"error":{"code":"InvalidImage","message":"Decoding error."}}`, "", Other, "InvalidImage", 0},
		{401, `{"error":{"code":"401","message":"Access denied."}}`, "", Other, "401", 0},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d-%s", tc.status, tc.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			r, err := NewRemote(RemoteConfig{Endpoint: srv.URL, Key: "k"})
			require.NoError(t, err)

			_, err = r.Detect(context.Background(), []byte("img"))
			var de *Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tc.kind, de.Kind)
			assert.Equal(t, tc.code, de.Code)
			assert.Equal(t, tc.wait, de.RetryAfter)
			assert.Equal(t, tc.kind != Other, IsRetryable(err))
		})
	}
}

func TestRemote_LongErrorBody(t *testing.T) {
	// Every rune of the body past the first byte is two bytes long, so byte 200 falls inside one.
	body := "x" + strings.Repeat("é", 150)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	r, err := NewRemote(RemoteConfig{Endpoint: srv.URL, Key: "k"})
	require.NoError(t, err)

	_, err = r.Detect(context.Background(), []byte("img"))
	var de *Error
	require.True(t, errors.As(err, &de))
	assert.True(t, utf8.ValidString(de.Message), "message %q", de.Message)
	assert.True(t, strings.HasSuffix(de.Message, "..."))
	assert.LessOrEqual(t, len(de.Message), maxMessageLen+len("..."))
	assert.True(t, strings.HasPrefix(body, strings.TrimSuffix(de.Message, "...")))

	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "a...", truncate("aé", 2))
}

func TestRemote_TransportFailureIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r, err := NewRemote(RemoteConfig{Endpoint: url, Key: "k", Timeout: time.Second})
	require.NoError(t, err)
	_, err = r.Detect(context.Background(), []byte("img"))
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestRemote_Config(t *testing.T) {
	_, err := NewRemote(RemoteConfig{Key: "k"})
	assert.Error(t, err)
	_, err = NewRemote(RemoteConfig{Endpoint: "https://example.com"})
	assert.Error(t, err)
	_, err = NewRemote(RemoteConfig{Endpoint: "not a url", Key: "k"})
	assert.Error(t, err)
}

func TestError_Helpers(t *testing.T) {
	wrapped := fmt.Errorf("item x: %w", NewRateLimited(3*time.Second))
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, 3*time.Second, RetryAfter(wrapped))

	assert.True(t, IsRetryable(NewTransient("busy")))
	assert.False(t, IsRetryable(NewOther("InvalidImage", "bad")))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, time.Duration(0), RetryAfter(errors.New("plain")))

	assert.True(t, strings.Contains(NewOther("InvalidImage", "bad").Error(), "InvalidImage: bad"))
}

func TestMockDetector(t *testing.T) {
	t.Run("returns empty faces by default", func(t *testing.T) {
		m := NewMock()
		faces, err := m.Detect(context.Background(), []byte("a"))
		assert.NoError(t, err)
		assert.Nil(t, faces)
	})

	t.Run("returns configured faces then scripted failures", func(t *testing.T) {
		m := NewMock()
		m.SetFaces([]byte("a"), Face{ID: "1"}, Face{ID: "2"})
		m.FailNext([]byte("a"), NewRateLimited(0))

		_, err := m.Detect(context.Background(), []byte("a"))
		assert.True(t, IsRetryable(err))

		faces, err := m.Detect(context.Background(), []byte("a"))
		require.NoError(t, err)
		assert.Len(t, faces, 2)
		assert.Equal(t, 2, m.CallsFor([]byte("a")))
		assert.Equal(t, 2, m.Calls())
	})

	t.Run("returns configured error", func(t *testing.T) {
		m := NewMock()
		expected := errors.New("detection failed")
		m.SetError(expected)
		faces, err := m.Detect(context.Background(), nil)
		assert.Equal(t, expected, err)
		assert.Nil(t, faces)
	})

	t.Run("records peak concurrency", func(t *testing.T) {
		m := NewMock()
		m.HoldUntil(3)

		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.Detect(context.Background(), []byte("x"))
			}()
		}
		wg.Wait()
		assert.Equal(t, 3, m.Peak())
		assert.Equal(t, 0, m.InFlight())
	})

	t.Run("implements Detector interface", func(t *testing.T) {
		var _ Detector = (*Mock)(nil)
		var _ Detector = (*Remote)(nil)
		var _ Detector = (*Pigo)(nil)
	})
}

func TestPigo_Bindings(t *testing.T) {
	b, err := ParseBindings(map[string]FlpBinding{
		"noseTip":    {Cascade: "lp93"},
		"MouthRight": {Cascade: "lp84", Flip: true},
	})
	require.NoError(t, err)
	assert.Equal(t, FlpBinding{Cascade: "lp84", Flip: true}, b[landmark.MouthRight])

	_, err = ParseBindings(map[string]FlpBinding{"chin": {Cascade: "lp84"}})
	assert.Error(t, err)
	_, err = ParseBindings(map[string]FlpBinding{"noseTip": {}})
	assert.Error(t, err)

	for _, n := range append([]landmark.Name{landmark.NoseTip}, landmark.Outline...) {
		_, ok := DefaultBindings[n]
		assert.True(t, ok, "no default cascade for %v", n)
	}
	// Derived from the pupils and the nose tip.
	for _, n := range []landmark.Name{landmark.NoseRootLeft, landmark.NoseRootRight, landmark.NoseLeftAlarOutTip, landmark.NoseRightAlarOutTip} {
		_, ok := DefaultBindings[n]
		assert.False(t, ok, "%v has a cascade", n)
	}
}

func TestPigo_MissingCascade(t *testing.T) {
	_, err := NewPigo(PigoConfig{FaceCascade: "testdata/does-not-exist"})
	assert.ErrorContains(t, err, "face cascade")
}
