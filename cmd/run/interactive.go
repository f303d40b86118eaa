package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-engine/cover"
	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/wasi"
	"github.com/wippyai/wasm-engine/wasm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
	stateShowCoverage
)

type interactiveModel struct {
	err      error
	filename string
	eng      *engine.Engine
	compiled *engine.CompiledModule
	cov      *cover.Coverage
	host     *wasi.Host
	guestOut *bytes.Buffer
	instance *engine.Instance
	result   string
	report   viewport.Model
	funcs    []exportInfo
	inputs   []textinput.Model
	selected int
	focusIdx int
	width    int
	height   int
	state    modelState
}

func newInteractiveModel(filename string) *interactiveModel {
	return &interactiveModel{
		filename: filename,
		guestOut: &bytes.Buffer{},
		state:    stateSelectFunc,
	}
}

type loadedMsg struct {
	err      error
	eng      *engine.Engine
	compiled *engine.CompiledModule
	cov      *cover.Coverage
	host     *wasi.Host
	funcs    []exportInfo
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadModule
}

func (m *interactiveModel) loadModule() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	parsed, err := wasm.ParseModule(data)
	if err != nil {
		return loadedMsg{err: err}
	}

	// Coverage rides along on every call; the explorer shows it on
	// demand.
	cov := cover.New(cover.Config{Mode: cover.ModeOffsets})
	eng := engine.New(engine.Config{Instrumenter: cov})
	compiled, err := eng.Compile(parsed)
	if err != nil {
		return loadedMsg{err: err}
	}

	var host *wasi.Host
	if importsWASI(parsed) {
		host = wasi.New(wasi.Config{Stdout: m.guestOut, Stderr: m.guestOut})
	}

	return loadedMsg{
		eng:      eng,
		compiled: compiled,
		cov:      cov,
		host:     host,
		funcs:    exportedFuncs(compiled),
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "c":
			if m.state == stateSelectFunc && m.cov != nil {
				m.report = viewport.New(m.width, m.reportHeight())
				m.report.SetContent(m.cov.Report().String())
				m.state = stateShowCoverage
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult, stateShowCoverage:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult, stateShowCoverage:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.state == stateShowCoverage {
			m.report.Width = m.width
			m.report.Height = m.reportHeight()
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.eng = msg.eng
		m.compiled = msg.compiled
		m.cov = msg.cov
		m.host = msg.host
		m.funcs = msg.funcs

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	switch m.state {
	case stateInputArgs:
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case stateShowCoverage:
		var cmd tea.Cmd
		m.report, cmd = m.report.Update(msg)
		return m, cmd
	}

	return m, nil
}

// reportHeight leaves room for the title above the viewport and the
// help line below it.
func (m *interactiveModel) reportHeight() int {
	if h := m.height - 4; h > 0 {
		return h
	}
	return 1
}

func (m *interactiveModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.typ.Params))
	for i, p := range f.typ.Params {
		ti := textinput.New()
		ti.Placeholder = p.String()
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callFunction() tea.Msg {
	ctx := context.Background()

	if m.instance == nil {
		var imports engine.ImportSet
		if m.host != nil {
			reg := engine.NewRegistry()
			m.host.Register(reg)
			imports = reg
		}
		inst, err := m.eng.Instantiate(ctx, m.compiled, imports)
		if err != nil {
			return callResultMsg{err: err}
		}
		if m.host != nil {
			if mem := inst.Memory(); mem != nil {
				m.host.BindMemory(mem)
			}
		}
		m.instance = inst
	}

	f := m.funcs[m.selected]
	var raw []string
	for _, input := range m.inputs {
		raw = append(raw, input.Value())
	}
	args, err := parseArgs(strings.Join(raw, ","), f.typ.Params)
	if err != nil {
		return callResultMsg{err: err}
	}

	m.guestOut.Reset()
	out, err := m.instance.Invoke(ctx, f.name, args...)
	if err != nil {
		return callResultMsg{err: err}
	}

	var b strings.Builder
	if len(out) == 0 {
		b.WriteString("(no results)")
	}
	for i, v := range out {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(v.String())
	}
	if s := m.guestOut.String(); s != "" {
		b.WriteString("\n\nguest output:\n")
		b.WriteString(s)
	}
	return callResultMsg{result: b.String()}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.compiled == nil {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("wasm explorer"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		if len(m.funcs) == 0 {
			b.WriteString("Module has no exported functions.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			break
		}
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			cursor := "  "
			if i == m.selected {
				cursor = "> "
				b.WriteString(selectedStyle.Render(cursor + m.formatFunc(f)))
			} else {
				b.WriteString(cursor + m.formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • c coverage • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.typ.Params[i].String()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))

	case stateShowCoverage:
		b.WriteString(m.report.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ scroll • enter back • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatFunc(f exportInfo) string {
	return funcStyle.Render(f.name) + typeStyle.Render(f.typ.String())
}

func runInteractive(filename string) error {
	p := tea.NewProgram(newInteractiveModel(filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
