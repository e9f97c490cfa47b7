package util

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

// PadRight pads or truncates a string to a fixed display width.
func PadRight(str string, width int) string {
	w := runewidth.StringWidth(str)
	if w > width {
		str = runewidth.Truncate(str, width, "...")
		w = runewidth.StringWidth(str)
	}
	if w >= width {
		return str
	}
	return str + strings.Repeat(" ", width-w)
}

// Truncate shortens str to at most width display cells.
func Truncate(str string, width int) string {
	return runewidth.Truncate(str, width, "...")
}

var sizeUnits = []string{"KB", "MB", "GB", "TB", "PB"}

// FormatSize renders a byte count using binary units.
func FormatSize(size int64) string {
	if size < 1024 {
		return fmt.Sprintf("%d B", size)
	}
	value := float64(size) / 1024
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %s", value, sizeUnits[unit])
}
