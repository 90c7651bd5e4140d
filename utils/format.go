package utils

import (
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"time"
)

// MessageType selects the colour of a terminal message.
type MessageType int

// The message types used across the CLI application.
const (
	DefaultMessage MessageType = iota
	SuccessMessage
	ErrorMessage
	StatusMessage
)

// Colors used across the CLI application.
const (
	DefaultColor = "\x1b[0m"
	StatusColor  = "\x1b[36m"
	SuccessColor = "\x1b[32m"
	ErrorColor   = "\x1b[31m"
)

var colorEnabled atomic.Bool

func init() {
	colorEnabled.Store(os.Getenv("NO_COLOR") == "")
}

// SetColor turns the terminal colours on or off, e.g. when the output is redirected.
func SetColor(enabled bool) {
	colorEnabled.Store(enabled)
}

// DecorateText shows the message types in different colors.
func DecorateText(s string, msgType MessageType) string {
	if !colorEnabled.Load() {
		return s
	}
	var color string
	switch msgType {
	case DefaultMessage:
		color = DefaultColor
	case StatusMessage:
		color = StatusColor
	case SuccessMessage:
		color = SuccessColor
	case ErrorMessage:
		color = ErrorColor
	default:
		return s
	}
	return color + s + DefaultColor
}

// FormatTime formats a duration as a human readable value, e.g. "1h 2m 3.00s".
func FormatTime(d time.Duration) string {
	secs := math.Mod(d.Seconds(), 60)
	mins := int64(d.Minutes()) % 60
	hours := int64(d.Hours())

	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %.2fs", int64(d.Minutes()), secs)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm %.2fs", hours, mins, secs)
	}
	return fmt.Sprintf("%dd %dh %dm %.2fs", hours/24, hours%24, mins, secs)
}
