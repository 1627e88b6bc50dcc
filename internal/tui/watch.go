package tui

import (
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/fluidsim/internal/varclient"
	"github.com/san-kum/fluidsim/internal/varserver"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

const historyLen = 120

// commander is the part of the client the model talks back through.
type commander interface {
	Send(cmd string) error
	Next() (varclient.Message, error)
}

type watchModel struct {
	client commander
	addr   string

	names   []string
	values  map[string]float64
	history map[string][]float64
	cursor  int
	updates int

	paused     bool
	terminated string
	status     string
	err        error

	width  int
	height int
}

func newWatch(c commander, addr string, names []string) watchModel {
	return watchModel{
		client:  c,
		addr:    addr,
		names:   names,
		values:  make(map[string]float64, len(names)),
		history: make(map[string][]float64, len(names)),
		width:   80,
		height:  24,
	}
}

type updateMsg []varserver.Value
type replyMsg string
type errMsg struct{ err error }

func waitNext(c commander) tea.Cmd {
	return func() tea.Msg {
		m, err := c.Next()
		if err != nil {
			return errMsg{err}
		}
		if m.Values != nil {
			return updateMsg(m.Values)
		}
		return replyMsg(m.Text)
	}
}

func (m watchModel) Init() tea.Cmd { return waitNext(m.client) }

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case updateMsg:
		m.record(msg)
		return m, waitNext(m.client)
	case replyMsg:
		text := string(msg)
		if reason, ok := (varclient.Message{Text: text}).Terminated(); ok {
			m.terminated = reason
			return m, nil
		}
		if strings.HasPrefix(text, varserver.ReplyError) {
			m.status = text
		}
		return m, waitNext(m.client)
	case errMsg:
		if m.terminated == "" {
			m.err = msg.err
		}
		return m, nil
	}
	return m, nil
}

func (m *watchModel) record(vals []varserver.Value) {
	m.updates++
	for _, v := range vals {
		m.values[v.Name] = v.Value
		h := append(m.history[v.Name], v.Value)
		if len(h) > historyLen {
			h = h[len(h)-historyLen:]
		}
		m.history[v.Name] = h
	}
}

func (m watchModel) handleKey(msg tea.KeyMsg) (watchModel, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.names)-1 {
			m.cursor++
		}
	case " ", "p":
		if m.terminated != "" {
			return m, nil
		}
		m.paused = !m.paused
		cmd := "var_unpause"
		if m.paused {
			cmd = "var_pause"
		}
		m.send(cmd)
	case "t":
		if m.terminated == "" {
			m.send("exec_terminate")
			m.status = "terminate requested"
		}
	}
	return m, nil
}

func (m *watchModel) send(cmd string) {
	if err := m.client.Send(cmd); err != nil {
		m.err = err
	}
}

func (m watchModel) selected() string {
	if len(m.names) == 0 {
		return ""
	}
	return m.names[m.cursor]
}

func (m watchModel) View() string {
	var b strings.Builder

	statusIcon, statusText := green.Render("●"), green.Render("streaming")
	switch {
	case m.err != nil:
		statusIcon, statusText = red.Render("●"), red.Render("disconnected")
	case m.terminated != "":
		statusIcon, statusText = dim.Render("■"), dim.Render("terminated: "+m.terminated)
	case m.paused:
		statusIcon, statusText = yellow.Render("○"), yellow.Render("paused")
	}
	b.WriteString(fmt.Sprintf("\n   %s %s  %s  %s\n", statusIcon, cyan.Render("fluidsim"), dim.Render(m.addr), statusText))
	b.WriteString(dimmer.Render("   "+strings.Repeat("─", 50)) + "\n\n")

	nameWidth := 0
	for _, name := range m.names {
		nameWidth = max(nameWidth, len(name))
	}
	for i, name := range m.names {
		val := "—"
		if v, ok := m.values[name]; ok {
			val = fmt.Sprintf("%14.6g", v)
		}
		spark := sparkline(m.history[name], 16)
		if i == m.cursor {
			b.WriteString("   " + cyan.Render("▸ ") + white.Render(fmt.Sprintf("%-*s", nameWidth, name)) + " " +
				magenta.Render(val) + "  " + cyan.Render(spark) + "\n")
		} else {
			b.WriteString("     " + dim.Render(fmt.Sprintf("%-*s", nameWidth, name)) + " " +
				dim.Render(val) + "  " + dimmer.Render(spark) + "\n")
		}
	}

	if h := m.history[m.selected()]; len(h) > 1 {
		graph := asciigraph.Plot(finite(h),
			asciigraph.Height(10),
			asciigraph.Width(max(20, m.width-16)),
			asciigraph.Caption(m.selected()))
		b.WriteString("\n" + indent(graph, "   ") + "\n")
	}

	b.WriteString(fmt.Sprintf("\n   %s\n", dim.Render(fmt.Sprintf("%d updates", m.updates))))
	if m.status != "" {
		b.WriteString("   " + yellow.Render(m.status) + "\n")
	}
	if m.err != nil {
		b.WriteString("   " + red.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + dim.Render("   ↑↓ select  space pause  t terminate  q quit") + "\n")
	return b.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}

// finite drops NaN and Inf samples, which asciigraph cannot scale.
func finite(data []float64) []float64 {
	out := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		out = append(out, 0)
	}
	return out
}

func sparkline(data []float64, width int) string {
	data = finite(data)
	if len(data) > width {
		data = data[len(data)-width:]
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	var sb strings.Builder
	for _, v := range data {
		idx := int((v - minVal) / rang * 7)
		idx = min(max(idx, 0), 7)
		sb.WriteRune(chars[idx])
	}
	return sb.String()
}

// RunWatch subscribes to names and runs the monitor until the user quits.
func RunWatch(c *varclient.Client, addr string, names []string) error {
	if err := c.Add(names...); err != nil {
		return err
	}
	c.Timeout = 0
	p := tea.NewProgram(newWatch(c, addr, names), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
