package export

import (
	"fmt"
	"io"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/agent462/sweep/internal/executor"
	"github.com/agent462/sweep/internal/grouper"
	"github.com/agent462/sweep/internal/probe"
)

var (
	colorGreen  = lipgloss.Color("#04B575")
	colorRed    = lipgloss.Color("#FF4672")
	colorYellow = lipgloss.Color("#FDFF90")
	colorCyan   = lipgloss.Color("#00E5FF")

	normStyle    = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	differStyle  = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	hostStyle    = lipgloss.NewStyle().Foreground(colorCyan)
	stderrStyle  = lipgloss.NewStyle().Foreground(colorRed)
	diffAddStyle = lipgloss.NewStyle().Foreground(colorGreen)
	diffDelStyle = lipgloss.NewStyle().Foreground(colorRed)
	diffHdrStyle = lipgloss.NewStyle().Foreground(colorCyan)
)

// Grouped prints hosts bucketed by identical output, with a diff for each
// outlier group, then the failures by kind.
type Grouped struct {
	Options Options
}

func (g *Grouped) Export(w io.Writer, rs executor.ResultSet[probe.Report]) error {
	grouped := grouper.Group(rs)
	var b strings.Builder

	for _, grp := range grouped.Groups {
		g.writeGroup(&b, grp, len(grouped.Groups))
		b.WriteString("\n")
	}
	for _, fg := range grouped.Failures {
		g.writeFailures(&b, fg)
		b.WriteString("\n")
	}
	b.WriteString(Summary(rs))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func (g *Grouped) writeGroup(b *strings.Builder, grp grouper.OutputGroup, totalGroups int) {
	n := len(grp.Hosts)
	switch {
	case grp.IsNorm && totalGroups == 1 && n == 1:
		b.WriteString(g.style(normStyle, fmt.Sprintf(" %d %s:", n, plural(n, "host"))))
	case grp.IsNorm:
		b.WriteString(g.style(normStyle, fmt.Sprintf(" %d %s identical:", n, plural(n, "host"))))
	default:
		verb := "differ"
		if n == 1 {
			verb = "differs"
		}
		b.WriteString(g.style(differStyle, fmt.Sprintf(" %d %s %s:", n, plural(n, "host"), verb)))
	}
	b.WriteString("\n   ")
	b.WriteString(g.style(hostStyle, strings.Join(grp.Hosts, ", ")))
	b.WriteString("\n")

	writeIndented(b, grp.Stdout, func(s string) string { return s })
	writeIndented(b, grp.Stderr, func(s string) string { return g.style(stderrStyle, "stderr: "+s) })

	if !grp.IsNorm && grp.Diff != "" {
		b.WriteString("\n")
		writeIndented(b, grp.Diff, g.diffLine)
	}
}

func (g *Grouped) writeFailures(b *strings.Builder, fg grouper.FailureGroup) {
	n := len(fg.Hosts)
	b.WriteString(g.style(failStyle, fmt.Sprintf(" %d %s failed with %s:", n, plural(n, "host"), fg.Kind)))
	b.WriteString("\n")
	for _, h := range fg.Hosts {
		b.WriteString("   ")
		b.WriteString(g.style(hostStyle, h))
		if msg := fg.Messages[h]; msg != "" {
			fmt.Fprintf(b, " (%s)", msg)
		}
		b.WriteString("\n")
	}
}

func (g *Grouped) diffLine(line string) string {
	switch {
	case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "), strings.HasPrefix(line, "@@"):
		return g.style(diffHdrStyle, line)
	case strings.HasPrefix(line, "+"):
		return g.style(diffAddStyle, line)
	case strings.HasPrefix(line, "-"):
		return g.style(diffDelStyle, line)
	}
	return line
}

func (g *Grouped) style(s lipgloss.Style, text string) string {
	if !g.Options.Color {
		return text
	}
	return s.Render(text)
}

func writeIndented(b *strings.Builder, text string, decorate func(string) string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		b.WriteString("   ")
		b.WriteString(decorate(line))
		b.WriteString("\n")
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
