package style

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// --- Reusable Colors ---
var (
	colorPink      = lipgloss.Color("205")
	colorDarkGray  = lipgloss.Color("240")
	colorLightGray = lipgloss.Color("229")
	colorCyan      = lipgloss.Color("212")
	colorPurple    = lipgloss.Color("99")
	colorGreen     = lipgloss.Color("42")
	colorRed       = lipgloss.Color("196")
)

// --- General Purpose Styles ---
var (
	ErrorStyle         = lipgloss.NewStyle().Foreground(colorRed)
	HelpStyle          = lipgloss.NewStyle().Faint(true)
	TitleStyle         = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
	HighlightFontStyle = lipgloss.NewStyle().Foreground(colorCyan)
	BaseStyle          = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(colorDarkGray)
)

// --- Chat Styles ---
var (
	PaneTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPurple).Padding(0, 1)
	PeerStyle      = lipgloss.NewStyle().Foreground(colorLightGray)
	OnlineStyle    = lipgloss.NewStyle().Foreground(colorGreen).SetString("● ")
	SelfNameStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	PeerNameStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorPurple)
	SystemStyle    = lipgloss.NewStyle().Faint(true).Italic(true)
	TimeStyle      = lipgloss.NewStyle().Foreground(colorDarkGray)
)

// --- Common Components ---

// NewSpinner creates a spinner with a consistent style.
func NewSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPink)
	return s
}
