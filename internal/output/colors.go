package output

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Title   *color.Color
	Label   *color.Color
	Value   *color.Color
	Success *color.Color
	Error   *color.Color
	Warn    *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:   color.New(color.FgCyan, color.Bold),
		Label:   color.New(color.FgYellow),
		Value:   color.New(color.FgWhite),
		Success: color.New(color.FgGreen, color.Bold),
		Error:   color.New(color.FgRed, color.Bold),
		Warn:    color.New(color.FgYellow, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	scheme.Title.DisableColor()
	scheme.Label.DisableColor()
	scheme.Value.DisableColor()
	scheme.Success.DisableColor()
	scheme.Error.DisableColor()
	scheme.Warn.DisableColor()
	return scheme
}

// SchemeFor picks a scheme based on the destination: colors for terminals,
// plain text otherwise.
func SchemeFor(f *os.File, noColor bool) *ColorScheme {
	if noColor || f == nil || !isatty.IsTerminal(f.Fd()) {
		return NoColorScheme()
	}
	return DefaultColorScheme()
}
