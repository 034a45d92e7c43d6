package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/scripthost/jscore/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	opStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// replTimeout bounds each evaluation when the user gave no -timeout, so a
// stray infinite delay cannot wedge the REPL.
const replTimeout = 10 * time.Second

type historyEntry struct {
	expr   string
	output string
	isErr  bool
}

type replModel struct {
	inst    *runtime.Instance
	input   textinput.Model
	history []historyEntry
	timeout time.Duration
	seq     int
	busy    bool
}

type evalResultMsg struct {
	seq    int
	output string
	isErr  bool
}

func newReplModel(inst *runtime.Instance, timeout time.Duration) *replModel {
	ti := textinput.New()
	ti.Prompt = "js> "
	ti.PromptStyle = promptStyle
	ti.Placeholder = `__opcall(__ops.add, [2, 3])`
	ti.Width = 72
	ti.Focus()

	if timeout <= 0 {
		timeout = replTimeout
	}

	return &replModel{
		inst:    inst,
		input:   ti,
		timeout: timeout,
	}
}

func (m *replModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit

		case "enter":
			if m.busy {
				return m, nil
			}
			expr := strings.TrimSpace(m.input.Value())
			if expr == "" {
				return m, nil
			}
			m.input.Reset()

			switch expr {
			case ".quit", ".exit":
				return m, tea.Quit
			case ".ops":
				m.history = append(m.history, historyEntry{expr: expr, output: m.opList()})
				return m, nil
			case ".help":
				m.history = append(m.history, historyEntry{expr: expr, output: helpText})
				return m, nil
			}

			m.busy = true
			m.seq++
			return m, m.evalCmd(m.seq, expr)
		}

	case evalResultMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.busy = false
		if n := len(m.history); n > 0 && m.history[n-1].output == "" {
			m.history[n-1].output = msg.output
			m.history[n-1].isErr = msg.isErr
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// evalCmd runs one expression and drives the loop to quiescence so async
// ops settle before the result renders.
func (m *replModel) evalCmd(seq int, expr string) tea.Cmd {
	m.history = append(m.history, historyEntry{expr: expr})

	return func() tea.Msg {
		name := fmt.Sprintf("<repl:%d>", seq)
		result, err := m.inst.Execute(name, expr)
		if err != nil {
			return evalResultMsg{seq: seq, output: err.Error(), isErr: true}
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.inst.Run(ctx); err != nil {
			return evalResultMsg{seq: seq, output: err.Error(), isErr: true}
		}

		return evalResultMsg{seq: seq, output: result.String()}
	}
}

func (m *replModel) opList() string {
	names := m.inst.OpNames()
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Slice(sorted, func(a, b int) bool { return names[sorted[a]] < names[sorted[b]] })

	var b strings.Builder
	for _, name := range sorted {
		metrics, _ := m.inst.OpMetrics(name)
		fmt.Fprintf(&b, "%3d  %s", names[name], opStyle.Render(name))
		if metrics.Calls > 0 {
			fmt.Fprintf(&b, "  (%d calls)", metrics.Calls)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

const helpText = `.ops   list registered ops
.quit  exit the REPL
Scripts call ops with __opcall(__ops.<name>, args) and
__opcall_raw(__ops.<name>, arrayBuffer). Async ops return promises.`

func (m *replModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("jscore"))
	b.WriteString(" interactive\n\n")

	for _, h := range m.history {
		b.WriteString(promptStyle.Render("js> "))
		b.WriteString(h.expr)
		b.WriteString("\n")
		if h.output == "" {
			b.WriteString(helpStyle.Render("..."))
		} else if h.isErr {
			b.WriteString(errorStyle.Render(h.output))
		} else {
			b.WriteString(resultStyle.Render(h.output))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render(".ops list ops • .help help • ctrl+c quit"))

	return b.String()
}

func runInteractive(inst *runtime.Instance, timeout time.Duration) error {
	p := tea.NewProgram(newReplModel(inst, timeout), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
