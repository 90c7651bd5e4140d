package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUtils_FormatTime(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{1500 * time.Millisecond, "1.50s"},
		{2*time.Minute + 3*time.Second, "2m 3.00s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3.00s"},
		{26 * time.Hour, "1d 2h 0m 0.00s"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatTime(tc.in))
	}
}

func TestUtils_DecorateText(t *testing.T) {
	SetColor(true)
	t.Cleanup(func() { SetColor(true) })

	assert.Equal(t, ErrorColor+"boom"+DefaultColor, DecorateText("boom", ErrorMessage))
	assert.Equal(t, "plain", DecorateText("plain", MessageType(42)))

	SetColor(false)
	assert.Equal(t, "boom", DecorateText("boom", ErrorMessage))
}
