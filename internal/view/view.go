// Package view renders a session snapshot for the terminal.
package view

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dontdude/pystudio/internal/console"
	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/files"
	"github.com/dontdude/pystudio/internal/session"
)

// Theme is the palette of one appearance.
type Theme struct {
	title    lipgloss.Style
	dim      lipgloss.Style
	selected lipgloss.Style
	success  lipgloss.Style
	warning  lipgloss.Style
	errText  lipgloss.Style
	box      lipgloss.Style
	header   lipgloss.Style
	code     lipgloss.Style
}

func newTheme(accent, text, muted, codeFg string) Theme {
	return Theme{
		// title for bold headers
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(accent)),
		// dim for line counts and previews
		dim: lipgloss.NewStyle().
			Foreground(lipgloss.Color(muted)),
		// selected marks the current file
		selected: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(text)).
			Background(lipgloss.Color(accent)),
		success: lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")),
		errText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
		// box for the console panes
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(accent)).
			Padding(0, 1),
		// header for the editor header
		header: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color(accent)).
			Padding(0, 1),
		code: lipgloss.NewStyle().
			Foreground(lipgloss.Color(codeFg)),
	}
}

var (
	// Dark is the palette used when the theme flag is set.
	Dark = newTheme("63", "255", "244", "252")
	// Light is the palette used otherwise.
	Light = newTheme("33", "255", "240", "235")
)

// For returns the palette for the theme flag.
func For(dark bool) Theme {
	if dark {
		return Dark
	}
	return Light
}

// Files renders the side bar: one line per file with its preview.
func (t Theme) Files(w io.Writer, summaries []files.Summary) {
	fmt.Fprintln(w, t.title.Render("Files"))
	for _, s := range summaries {
		name := fmt.Sprintf("%2d  %s", s.Index, s.Name)
		if s.Selected {
			name = t.selected.Render(name)
		}
		fmt.Fprintf(w, "%s  %s\n", name, t.dim.Render(fmt.Sprintf("%d lines  %s", s.Lines, s.Preview)))
	}
}

// Editor renders the selected file with a header and line numbers.
func (t Theme) Editor(w io.Writer, f domain.TextFile) {
	fmt.Fprintln(w, t.header.Render(fmt.Sprintf("%s %s", t.dim.Render("Editing:"), t.title.Render(f.Name))))

	lines := strings.Split(strings.TrimSuffix(f.Content, "\n"), "\n")
	for i, line := range lines {
		fmt.Fprintf(w, "%s %s\n", t.dim.Render(fmt.Sprintf("%4d", i+1)), t.code.Render(line))
	}
}

// Status renders the status bar.
func (t Theme) Status(w io.Writer, snap session.Snapshot) {
	var state string
	switch snap.Readiness {
	case domain.ReadinessReady:
		state = t.success.Render("ready")
	case domain.ReadinessLoading:
		state = t.warning.Render("loading")
	case domain.ReadinessFailed:
		state = t.errText.Render("failed")
	default:
		state = t.dim.Render("not loaded")
	}
	if snap.Console.Running {
		state += " " + t.warning.Render("running")
	}

	theme := "light"
	if snap.Dark {
		theme = "dark"
	}

	fmt.Fprintf(w, "%s %s  %s %s  %s %s  %s %d lines  %s %s\n",
		t.dim.Render("Runtime:"), snap.Backend,
		t.dim.Render("State:"), state,
		t.dim.Render("File:"), snap.Current.Name,
		t.dim.Render("Size:"), files.LineCount(snap.Current.Content),
		t.dim.Render("Theme:"), theme,
	)
	if snap.LastError != "" {
		fmt.Fprintln(w, t.errText.Render(snap.LastError))
	}
}

// Console renders the two output panes. Empty panes are skipped.
func (t Theme) Console(w io.Writer, c console.Snapshot) {
	if c.Stdout != "" {
		fmt.Fprintln(w, t.box.Render(t.title.Render("stdout")+"\n"+strings.TrimRight(c.Stdout, "\n")))
	}
	if c.Stderr != "" {
		fmt.Fprintln(w, t.box.Render(t.errText.Render("stderr")+"\n"+strings.TrimRight(c.Stderr, "\n")))
	}
}

// Render draws the whole studio.
func Render(w io.Writer, snap session.Snapshot) {
	t := For(snap.Dark)
	t.Files(w, snap.Files)
	fmt.Fprintln(w)
	t.Editor(w, snap.Current)
	fmt.Fprintln(w)
	t.Console(w, snap.Console)
	t.Status(w, snap)
}
