package cli

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines colors and symbols for the CLI using lipgloss
type Theme struct {
	Bold lipgloss.Style
	Dim  lipgloss.Style
	Red  lipgloss.Style

	BoxTree string
	BoxLast string
}

// NewTheme returns the default theme for output written to w. Colors are
// dropped when w is not a terminal.
func NewTheme(w io.Writer) *Theme {
	r := lipgloss.NewRenderer(w)
	return &Theme{
		Bold: r.NewStyle().Bold(true),
		Dim:  r.NewStyle().Faint(true),
		Red:  r.NewStyle().Foreground(lipgloss.Color("1")),

		BoxTree: "├──",
		BoxLast: "└──",
	}
}

func (t *Theme) Styled(style lipgloss.Style, text string) string {
	return style.Render(text)
}
