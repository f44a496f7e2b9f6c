package export

import (
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// ColorScheme holds the colour functions for table output.
type ColorScheme struct {
	Host     func(format string, a ...interface{}) string
	Success  func(format string, a ...interface{}) string
	Error    func(format string, a ...interface{}) string
	Warning  func(format string, a ...interface{}) string
	Header   func(format string, a ...interface{}) string
	Duration func(format string, a ...interface{}) string
	Disabled bool
}

// NewColorScheme returns a colouring scheme, or a plain one when on is
// false.
func NewColorScheme(on bool) *ColorScheme {
	if !on {
		plain := color.New().Sprintf
		return &ColorScheme{
			Host: plain, Success: plain, Error: plain, Warning: plain, Header: plain, Duration: plain,
			Disabled: true,
		}
	}

	c := func(attrs ...color.Attribute) func(string, ...interface{}) string {
		col := color.New(attrs...)
		col.EnableColor()
		return col.Sprintf
	}
	return &ColorScheme{
		Host:     c(color.FgCyan),
		Success:  c(color.FgGreen),
		Error:    c(color.FgRed, color.Bold),
		Warning:  c(color.FgYellow),
		Header:   c(color.FgWhite, color.Bold),
		Duration: c(color.FgBlue),
	}
}

// StatusColor picks the colour for a STATUS cell.
func (cs *ColorScheme) StatusColor(ok bool) func(format string, a ...interface{}) string {
	if ok {
		return cs.Success
	}
	return cs.Error
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
