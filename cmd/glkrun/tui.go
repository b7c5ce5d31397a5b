package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/storyport/glkbridge/protocol"
	"github.com/storyport/glkbridge/session"
)

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5F5FD7")).
			Padding(0, 1)

	inputEchoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	emphasisStyle = lipgloss.NewStyle().Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type inputMode int

const (
	inputNone inputMode = iota
	inputLine
	inputChar
)

type playModel struct {
	s *session.Session

	status     string
	transcript []string
	partial    string
	mode       inputMode
	input      textinput.Model
	height     int
	errMsg     string
	done       bool
	exitStatus int
}

type updateMsg protocol.Update

type doneMsg struct{}

func newPlayModel(s *session.Session) *playModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 256
	return &playModel{s: s, input: ti, height: 24}
}

// waitUpdate blocks on the session's update sequence.
func (m *playModel) waitUpdate() tea.Msg {
	u, ok := <-m.s.Updates()
	if !ok {
		return doneMsg{}
	}
	return updateMsg(u)
}

func (m *playModel) Init() tea.Cmd {
	return m.waitUpdate
}

func (m *playModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		return m, nil

	case doneMsg:
		m.done = true
		return m, tea.Quit

	case updateMsg:
		m.applyUpdate(protocol.Update(msg))
		if m.done {
			return m, tea.Quit
		}
		return m, m.waitUpdate

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *playModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.s.Stop()
		return m, tea.Quit
	}

	switch m.mode {
	case inputLine:
		if msg.Type == tea.KeyEnter {
			value := m.input.Value()
			m.input.Reset()
			m.mode = inputNone
			m.s.SendLine(value)
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case inputChar:
		m.mode = inputNone
		m.s.SendChar(charName(msg))
		return m, nil
	}
	return m, nil
}

// charName maps a key press to the wire value of a char event.
func charName(msg tea.KeyMsg) string {
	switch msg.Type {
	case tea.KeyEnter:
		return "return"
	case tea.KeyEscape:
		return "escape"
	case tea.KeyUp:
		return "up"
	case tea.KeyDown:
		return "down"
	case tea.KeyLeft:
		return "left"
	case tea.KeyRight:
		return "right"
	case tea.KeyTab:
		return "tab"
	case tea.KeyBackspace:
		return "delete"
	case tea.KeySpace:
		return " "
	}
	return msg.String()
}

func (m *playModel) applyUpdate(u protocol.Update) {
	switch u.Type {
	case protocol.UpdateError:
		m.errMsg = u.Message
	case protocol.UpdateExit:
		m.done = true
		m.exitStatus = u.Status
	case protocol.UpdateUpdate:
		m.applyContent(u)
	}
}

// applyContent renders grid windows into the status line and buffer
// windows into the scrolling transcript.
func (m *playModel) applyContent(u protocol.Update) {
	grids := make(map[uint32]bool)
	for _, w := range u.Windows {
		if w.Type == "grid" {
			grids[w.ID] = true
		}
	}
	for _, cu := range u.Content {
		if grids[cu.ID] {
			var b strings.Builder
			for _, sp := range cu.Text {
				b.WriteString(sp.Text)
			}
			m.status = b.String()
			continue
		}
		if cu.Clear {
			m.transcript = nil
			m.partial = ""
		}
		for _, sp := range cu.Text {
			m.appendSpan(sp)
		}
	}
	for _, iu := range u.Input {
		if iu.Type == "char" {
			m.mode = inputChar
		} else {
			m.mode = inputLine
			m.input.Focus()
		}
	}
}

func (m *playModel) appendSpan(sp protocol.Span) {
	if sp.Special != "" {
		return // images have no terminal rendering
	}
	text := sp.Text
	switch sp.Style {
	case "input":
		text = inputEchoStyle.Render(strings.TrimRight(text, "\n")) + "\n"
	case "emphasized":
		text = emphasisStyle.Render(text)
	}
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			m.partial += text
			return
		}
		m.transcript = append(m.transcript, m.partial+text[:i])
		m.partial = ""
		text = text[i+1:]
	}
}

func (m *playModel) View() string {
	var b strings.Builder

	if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
	}

	// Tail of the transcript that fits above the input line.
	visible := m.height - 4
	if visible < 1 {
		visible = 1
	}
	lines := m.transcript
	if len(lines) > visible {
		lines = lines[len(lines)-visible:]
	}
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.partial != "" {
		b.WriteString(m.partial)
		b.WriteString("\n")
	}

	if m.errMsg != "" {
		b.WriteString(errorStyle.Render(m.errMsg))
		b.WriteString("\n")
	}

	switch {
	case m.done:
		b.WriteString(helpStyle.Render("The story has ended. Press ctrl+c to leave."))
	case m.mode == inputLine:
		b.WriteString(m.input.View())
	case m.mode == inputChar:
		b.WriteString(helpStyle.Render("[press a key]"))
	}
	b.WriteString("\n")
	return b.String()
}

func runTUI(s *session.Session) error {
	p := tea.NewProgram(newPlayModel(s), tea.WithAltScreen())
	_, err := p.Run()
	s.Stop()
	return err
}
