// Package tui is an interactive browser for derived equation sets.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/qmoment/internal/moment"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

type browser struct {
	sys    *moment.System
	title  string
	cursor int
	offset int
	detail bool

	width  int
	height int
}

// NewBrowser builds the equation-set browser.
func NewBrowser(title string, sys *moment.System) *browser {
	return &browser{
		sys:    sys,
		title:  title,
		width:  80,
		height: 24,
	}
}

func (b browser) Init() tea.Cmd { return nil }

func (b browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.width = msg.Width
		b.height = msg.Height
		return b, nil
	case tea.KeyMsg:
		return b.handleKey(msg)
	}
	return b, nil
}

func (b browser) handleKey(msg tea.KeyMsg) (browser, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "escape":
		if b.detail {
			b.detail = false
			return b, nil
		}
		return b, tea.Quit
	case "up", "k":
		if b.cursor > 0 {
			b.cursor--
		}
	case "down", "j":
		if b.cursor < len(b.sys.Eqs)-1 {
			b.cursor++
		}
	case "g":
		b.cursor = 0
	case "G":
		b.cursor = len(b.sys.Eqs) - 1
	case "enter", " ":
		b.detail = !b.detail
	}
	b.clampScroll()
	return b, nil
}

func (b *browser) clampScroll() {
	visible := b.listHeight()
	if b.cursor < b.offset {
		b.offset = b.cursor
	}
	if b.cursor >= b.offset+visible {
		b.offset = b.cursor - visible + 1
	}
	if b.offset < 0 {
		b.offset = 0
	}
}

func (b browser) listHeight() int {
	h := b.height - 8
	if h < 4 {
		h = 4
	}
	return h
}

func (b browser) View() string {
	if b.detail {
		return b.viewDetail()
	}
	return b.viewList()
}

func (b browser) viewList() string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(dimmer.Render("    ╺━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n")
	sb.WriteString("          " + cyan.Render("q m o m e n t") + "\n")
	sb.WriteString(dimmer.Render("    ╺━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n")
	sb.WriteString(fmt.Sprintf("      %s  %s\n\n",
		white.Render(b.title),
		dim.Render(fmt.Sprintf("%d equations, order %d", len(b.sys.Eqs), b.sys.Order))))

	visible := b.listHeight()
	end := b.offset + visible
	if end > len(b.sys.Eqs) {
		end = len(b.sys.Eqs)
	}
	for i := b.offset; i < end; i++ {
		line := b.sys.Eqs[i].LHS.String()
		if i == b.cursor {
			sb.WriteString("      " + cyan.Render("▸ ") + white.Render(line) + "\n")
		} else {
			sb.WriteString("        " + dim.Render(line) + "\n")
		}
	}
	if end < len(b.sys.Eqs) {
		sb.WriteString(dimmer.Render(fmt.Sprintf("        … %d more", len(b.sys.Eqs)-end)) + "\n")
	}

	if len(b.sys.Dropped) > 0 {
		sb.WriteString("\n" + yellow.Render(fmt.Sprintf("      %d averages dropped by filter", len(b.sys.Dropped))) + "\n")
	}
	sb.WriteString("\n" + dim.Render("      ↑↓ select   enter expand   q quit") + "\n")
	return sb.String()
}

func (b browser) viewDetail() string {
	eq := b.sys.Eqs[b.cursor]
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString("      " + cyan.Render(eq.LHS.String()) + "\n")
	sb.WriteString(dimmer.Render("      "+strings.Repeat("─", 40)) + "\n\n")

	width := b.width - 10
	if width < 40 {
		width = 40
	}
	sb.WriteString("      " + magenta.Render("d/dt") + "\n")
	for _, line := range wrap(eq.RHS.String(), width) {
		sb.WriteString("      " + white.Render(line) + "\n")
	}

	sb.WriteString("\n" + dim.Render("      esc back   q quit") + "\n")
	return sb.String()
}

// wrap breaks a long expression at term boundaries.
func wrap(s string, width int) []string {
	if len(s) <= width {
		return []string{s}
	}
	var lines []string
	for len(s) > width {
		cut := strings.LastIndex(s[:width], " + ")
		if alt := strings.LastIndex(s[:width], " - "); alt > cut {
			cut = alt
		}
		if cut <= 0 {
			cut = width
		}
		lines = append(lines, s[:cut])
		s = strings.TrimLeft(s[cut:], " ")
	}
	if len(s) > 0 {
		lines = append(lines, s)
	}
	return lines
}

// Run opens the browser in the alternate screen.
func Run(title string, sys *moment.System) error {
	p := tea.NewProgram(NewBrowser(title, sys), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
