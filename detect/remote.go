package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/esimov/facemerge/landmark"
)

// Error codes of the remote face service which are worth retrying.
const (
	codeConcurrentConflict = "ConcurrentOperationConflict"
	codeRateLimitExceeded  = "RateLimitExceeded"
)

// RemoteConfig configures the client of a Face API compatible detection service.
type RemoteConfig struct {
	// Endpoint is the service base URL, e.g. https://westeurope.api.cognitive.microsoft.com/face/v1.0
	Endpoint string
	// Key is sent as the Ocp-Apim-Subscription-Key header.
	Key     string
	Timeout time.Duration
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Remote detects faces through the HTTP API of a cloud face service.
type Remote struct {
	endpoint *url.URL
	key      string
	client   *http.Client
}

// NewRemote validates the configuration and returns a client.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("detection endpoint is required")
	}
	if cfg.Key == "" {
		return nil, errors.New("subscription key is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid detection endpoint %q", cfg.Endpoint)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Remote{endpoint: u, key: cfg.Key, client: client}, nil
}

type wireFace struct {
	FaceID        string `json:"faceId"`
	FaceRectangle struct {
		Top    int `json:"top"`
		Left   int `json:"left"`
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"faceRectangle"`
	FaceLandmarks landmark.Set `json:"faceLandmarks"`
}

type wireError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Detect posts the image bytes and returns the faces with their landmarks.
func (r *Remote) Detect(ctx context.Context, img []byte) ([]Face, error) {
	u := *r.endpoint
	u.Path += "/detect"
	u.RawQuery = url.Values{
		"returnFaceId":        {"true"},
		"returnFaceLandmarks": {"true"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", r.key)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, NewOther("Transport", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewOther("Transport", fmt.Sprintf("could not read response body: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp, body)
	}

	var wire []wireFace
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, NewOther("InvalidResponse", fmt.Sprintf("could not unmarshal response: %v", err))
	}

	faces := make([]Face, 0, len(wire))
	for _, f := range wire {
		rect := f.FaceRectangle
		faces = append(faces, Face{
			ID:        f.FaceID,
			Rect:      image.Rect(rect.Left, rect.Top, rect.Left+rect.Width, rect.Top+rect.Height),
			Landmarks: f.FaceLandmarks,
		})
	}
	return faces, nil
}

// classify maps an error response onto a detection error kind.
func classify(resp *http.Response, body []byte) *Error {
	var we wireError
	_ = json.Unmarshal(body, &we)

	code, msg := we.Error.Code, we.Error.Message
	if code == "" {
		code = strconv.Itoa(resp.StatusCode)
	}
	if msg == "" {
		msg = truncate(strings.TrimSpace(string(body)), maxMessageLen)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || code == codeRateLimitExceeded:
		return &Error{Kind: RateLimited, Code: code, Message: msg, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case code == codeConcurrentConflict || resp.StatusCode == http.StatusServiceUnavailable:
		return &Error{Kind: Transient, Code: code, Message: msg, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		return &Error{Kind: Other, Code: code, Message: msg}
	}
}

const maxMessageLen = 200

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// parseRetryAfter accepts both the delay-seconds and the HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
