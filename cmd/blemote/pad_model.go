package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/srg/blemote/pkg/payload"
	"github.com/srg/blemote/pkg/peripheral"
)

type (
	peripheralStateMsg peripheral.State
	subscribersMsg     int
)

// padModel maps key presses to samples.
type padModel struct {
	sink    func(payload.Sample) error
	logs    *logTail
	step    float32
	x, y    float32
	buttons [2]int32

	// empty in --emit mode, where no peripheral runs in-process
	state       string
	subscribers int
	lastErr     error
}

func newPadModel(sink func(payload.Sample) error, step float32, logs *logTail) padModel {
	return padModel{sink: sink, logs: logs, step: step}
}

func (m padModel) Init() tea.Cmd {
	return nil
}

func (m padModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			m.y += m.step
			m = m.emit(payload.Motion{X: m.x, Y: m.y})
		case "down", "j":
			m.y -= m.step
			m = m.emit(payload.Motion{X: m.x, Y: m.y})
		case "left", "h":
			m.x -= m.step
			m = m.emit(payload.Motion{X: m.x, Y: m.y})
		case "right", "l":
			m.x += m.step
			m = m.emit(payload.Motion{X: m.x, Y: m.y})
		case "r":
			m.x, m.y = 0, 0
			m = m.emit(payload.Motion{})
		case "1", "2":
			i := int(msg.Runes[0] - '1')
			m.buttons[i] ^= 1
			m = m.emit(payload.Button{Index: i, State: m.buttons[i]})
		}

	case peripheralStateMsg:
		m.state = peripheral.State(msg).String()

	case subscribersMsg:
		m.subscribers = int(msg)
	}
	return m, nil
}

func (m padModel) emit(s payload.Sample) padModel {
	m.lastErr = m.sink(s)
	return m
}

func (m padModel) View() string {
	var b strings.Builder

	b.WriteString("blemote pad")
	if m.state != "" {
		fmt.Fprintf(&b, "  [%s, %d subscribed]", m.state, m.subscribers)
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "  motion   x=%+.2f y=%+.2f\n", m.x, m.y)
	fmt.Fprintf(&b, "  buttons  1:%s  2:%s\n\n", onOff(m.buttons[0]), onOff(m.buttons[1]))
	b.WriteString("  arrows/hjkl move, 1 2 toggle buttons, r recenter, q quit\n")
	if m.lastErr != nil {
		fmt.Fprintf(&b, "\n  error: %v\n", m.lastErr)
	}

	if m.logs != nil {
		if lines := m.logs.Lines(); len(lines) > 0 {
			b.WriteString("\n")
			for _, line := range lines {
				fmt.Fprintf(&b, "  %s\n", line)
			}
		}
	}
	return b.String()
}

func onOff(state int32) string {
	if state != 0 {
		return "on "
	}
	return "off"
}
