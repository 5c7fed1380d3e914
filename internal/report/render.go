package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
)

// Color palette
var (
	ColorSuccess = lipgloss.Color("#00D787")
	ColorError   = lipgloss.Color("#FF5F87")
	ColorWarning = lipgloss.Color("#FFAF00")
	ColorInfo    = lipgloss.Color("#5FAFFF")
	ColorMuted   = lipgloss.Color("#888888")
)

const maxBoxWidth = 100

// terminalWidth returns the width of w when it is a terminal.
func terminalWidth(w io.Writer) (int, bool) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(f.Fd()) {
		return 0, false
	}
	width, _, err := term.GetSize(f.Fd())
	if err != nil || width <= 0 {
		return 80, true
	}
	return width, true
}

// Render writes the human summary of r to w. Colors and the surrounding box
// are only used when w is a terminal.
func Render(w io.Writer, r *Report) error {
	re := lipgloss.NewRenderer(w)
	info := re.NewStyle().Foreground(ColorInfo)
	muted := re.NewStyle().Foreground(ColorMuted)
	success := re.NewStyle().Foreground(ColorSuccess).Bold(true)
	failure := re.NewStyle().Foreground(ColorError).Bold(true)
	warning := re.NewStyle().Foreground(ColorWarning)

	var lines []string
	add := func(s lipgloss.Style, format string, args ...any) {
		lines = append(lines, s.Render(fmt.Sprintf(format, args...)))
	}

	switch {
	case r.Complete():
		add(success, "Adaptive stitching successful!")
		add(info, "Used %d images: %s", len(r.UsedNames), list(r.UsedNames))
		if len(r.SkippedNames) > 0 {
			add(warning, "Skipped %d images: %s", len(r.SkippedNames), list(r.SkippedNames))
		}
		if r.Cropped {
			add(muted, "cropped to the largest covered rectangle")
		}
		if r.OutputFile != "" {
			add(info, "output image saved as %s", r.OutputFile)
		}
	case r.OK():
		// A panorama exists but the run did not finish cleanly.
		add(failure, "%s", capitalize(r.Error))
		add(info, "Partial panorama from %d images: %s", len(r.UsedNames), list(r.UsedNames))
		if len(r.SkippedNames) > 0 {
			add(warning, "Skipped %d images: %s", len(r.SkippedNames), list(r.SkippedNames))
		}
		if r.OutputFile != "" {
			add(info, "output image saved as %s", r.OutputFile)
		}
	default:
		msg := r.Error
		if msg == "" {
			msg = "Adaptive stitching failed - could not create panorama"
		}
		add(failure, "%s", capitalize(msg))
		if len(r.UsedNames) > 0 {
			add(info, "Successfully processed: %s", list(r.UsedNames))
		}
		if len(r.SkippedNames) > 0 {
			add(warning, "Could not include: %s", list(r.SkippedNames))
		}
	}

	var meta []string
	if r.Engine != "" {
		meta = append(meta, "engine "+r.Engine)
	}
	meta = append(meta, fmt.Sprintf("max skip %d", r.MaxSkip), fmt.Sprintf("%d attempts", r.Attempts))
	if r.DurationMS > 0 {
		meta = append(meta, r.Duration().String())
	}
	add(muted, "%s", strings.Join(meta, " · "))

	body := strings.Join(lines, "\n")
	if width, ok := terminalWidth(w); ok {
		border := ColorSuccess
		if !r.Complete() {
			border = ColorError
		}
		body = re.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(border).
			Padding(0, 1).
			Width(min(width-2, maxBoxWidth)).
			Render(body)
	}

	_, err := fmt.Fprintln(w, body)
	return err
}

func list(names []string) string {
	return "[" + strings.Join(names, ", ") + "]"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
