package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// LineWriter is an io.Writer meant as a tail sink: each Write carries one
// newline-terminated line, which is colored by its detected severity. With
// color off, lines pass through untouched.
type LineWriter struct {
	out    io.Writer
	color  bool
	styles map[string]lipgloss.Style
}

// NewLineWriter wraps out. Only ERROR, FATAL, WARN and the low-noise
// DEBUG/TRACE levels get a style; INFO stays plain.
func NewLineWriter(out io.Writer, color bool) *LineWriter {
	return &LineWriter{
		out:   out,
		color: color,
		styles: map[string]lipgloss.Style{
			"ERROR": lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
			"FATAL": lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
			"WARN":  lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
			"DEBUG": lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
			"TRACE": lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		},
	}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	if !w.color {
		return w.out.Write(p)
	}
	line := strings.TrimRight(string(p), "\r\n")
	style, ok := w.styles[Detect(line)]
	if !ok {
		return w.out.Write(p)
	}
	if _, err := fmt.Fprintln(w.out, style.Render(line)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ShouldColor decides whether to color output written to f under the given
// mode: "always", "never", or anything else for TTY autodetection.
func ShouldColor(mode string, f *os.File) bool {
	switch strings.ToLower(mode) {
	case "always":
		return true
	case "never":
		return false
	default:
		fd := f.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
}
