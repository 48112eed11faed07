package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/linker"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Browse and call the manifest's functions in a terminal UI",
	Args:  cobra.NoArgs,
	RunE:  runInteractive,
}

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#1E1E2E")).
			Background(lipgloss.Color("#F9E2AF")).
			Padding(0, 1)

	symbolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1"))

	shapeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#89B4FA"))

	placeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F5C2E7"))

	cursorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F9E2AF"))

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8"))

	hintStyle = lipgloss.NewStyle().
			Faint(true)
)

type screen uint8

const (
	screenFunctions screen = iota
	screenArguments
	screenOutcome
)

// console is the bubbletea model of the interactive command.
type console struct {
	ctx     context.Context
	session *session
	lib     linker.Library
	release func()
	// fatal is a load failure; call failures live in outcome.
	fatal   error
	names   []string
	cursor  int
	showing bool
	fields  []textinput.Model
	focus   int
	preview *planView
	outcome outcome
	screen  screen
}

type outcome struct {
	err    error
	result string
}

type libraryLoaded struct {
	err     error
	lib     linker.Library
	release func()
}

type callDone outcome

func newConsole(ctx context.Context, s *session) *console {
	return &console{
		ctx:     ctx,
		session: s,
		names:   s.binding.FunctionNames(),
	}
}

func (c *console) Init() tea.Cmd {
	return func() tea.Msg {
		lib, release, err := c.session.library(c.ctx)
		return libraryLoaded{err: err, lib: lib, release: release}
	}
}

func (c *console) current() string { return c.names[c.cursor] }

func (c *console) plan(name string) (*planView, error) {
	fn := c.session.binding.Functions[name]
	opts := abi.Options{}
	if fn.FirstVariadic >= 0 {
		opts = abi.Variadic(fn.FirstVariadic)
	}
	p, err := c.session.target.Classify(fn.Descriptor, opts)
	if err != nil {
		return nil, err
	}
	v := viewPlan(p)
	return &v, nil
}

func (c *console) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case libraryLoaded:
		c.fatal = msg.err
		c.lib, c.release = msg.lib, msg.release
		return c, nil

	case callDone:
		c.outcome = outcome(msg)
		c.screen = screenOutcome
		return c, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return c.quit()
		}
		switch c.screen {
		case screenFunctions:
			return c.functionKey(msg)
		case screenArguments:
			return c.argumentKey(msg)
		case screenOutcome:
			return c.outcomeKey(msg)
		}
	}

	if c.screen == screenArguments {
		return c, c.updateFields(msg)
	}
	return c, nil
}

func (c *console) quit() (tea.Model, tea.Cmd) {
	if c.release != nil {
		c.release()
		c.release = nil
	}
	return c, tea.Quit
}

func (c *console) functionKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return c.quit()
	case "up", "k":
		if c.cursor > 0 {
			c.cursor--
		}
	case "down", "j":
		if c.cursor < len(c.names)-1 {
			c.cursor++
		}
	case "p":
		c.showing = !c.showing
	case "enter":
		if c.lib == nil || len(c.names) == 0 {
			return c, nil
		}
		c.openArguments()
		if len(c.fields) == 0 {
			return c, c.call
		}
		c.screen = screenArguments
	}
	return c, nil
}

func (c *console) argumentKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		c.screen = screenFunctions
		c.fields = nil
		return c, nil
	case tea.KeyEnter:
		return c, c.call
	case tea.KeyTab, tea.KeyShiftTab:
		step := 1
		if msg.Type == tea.KeyShiftTab {
			step = len(c.fields) - 1
		}
		c.fields[c.focus].Blur()
		c.focus = (c.focus + step) % len(c.fields)
		return c, c.fields[c.focus].Focus()
	}
	return c, c.updateFields(msg)
}

func (c *console) outcomeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return c.quit()
	case "r":
		// back to the arguments, keeping their values
		if len(c.fields) > 0 {
			c.screen = screenArguments
			return c, nil
		}
		return c, c.call
	case "enter", "esc":
		c.screen = screenFunctions
		c.fields = nil
		c.outcome = outcome{}
	}
	return c, nil
}

func (c *console) updateFields(msg tea.Msg) tea.Cmd {
	cmds := make([]tea.Cmd, len(c.fields))
	for i := range c.fields {
		c.fields[i], cmds[i] = c.fields[i].Update(msg)
	}
	return tea.Batch(cmds...)
}

func (c *console) openArguments() {
	fd := c.session.binding.Functions[c.current()].Descriptor
	c.fields = make([]textinput.Model, fd.NumArgs())
	for i, l := range fd.Args() {
		in := textinput.New()
		in.Prompt = fmt.Sprintf("%2d ", i)
		in.Placeholder = placeholder(l.String())
		in.CharLimit = 256
		in.Width = 36
		c.fields[i] = in
	}
	c.focus = 0
	if len(c.fields) > 0 {
		c.fields[0].Focus()
	}
	c.preview, _ = c.plan(c.current())
}

// placeholder suggests the literal form of a layout: composites take
// braces.
func placeholder(shape string) string {
	if strings.HasPrefix(shape, "[") {
		return "{...} " + shape
	}
	return shape
}

func (c *console) call() tea.Msg {
	text := make([]string, len(c.fields))
	for i, f := range c.fields {
		text[i] = f.Value()
	}
	out, err := invokeText(c.ctx, c.session, c.lib, c.current(), text)
	return callDone{err: err, result: out}
}

func (c *console) View() string {
	if c.fatal != nil {
		return failStyle.Render("cannot load "+c.session.binding.Library+": "+c.fatal.Error()) +
			"\n\n" + hintStyle.Render("ctrl+c quit")
	}
	if c.lib == nil {
		return hintStyle.Render("loading " + c.session.binding.Library + "...")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n\n",
		bannerStyle.Render("downcall"),
		c.session.binding.Library,
		hintStyle.Render(c.session.target.Name()))

	switch c.screen {
	case screenFunctions:
		c.viewFunctions(&b)
	case screenArguments:
		c.viewArguments(&b)
	case screenOutcome:
		c.viewOutcome(&b)
	}
	return b.String()
}

func (c *console) viewFunctions(b *strings.Builder) {
	if len(c.names) == 0 {
		b.WriteString(hintStyle.Render("the manifest declares no functions"))
		return
	}
	for i, name := range c.names {
		mark := "  "
		if i == c.cursor {
			mark = cursorStyle.Render("▸ ")
		}
		b.WriteString(mark + c.signature(name) + "\n")
	}
	if c.showing {
		b.WriteString("\n")
		if v, err := c.plan(c.current()); err != nil {
			b.WriteString(failStyle.Render(err.Error()))
		} else {
			writePlacements(b, v, -1)
		}
	}
	b.WriteString("\n" + hintStyle.Render("↑/↓ move • p placements • enter call • q quit"))
}

func (c *console) viewArguments(b *strings.Builder) {
	fd := c.session.binding.Functions[c.current()].Descriptor
	fmt.Fprintf(b, "%s\n\n", c.signature(c.current()))
	for i, f := range c.fields {
		b.WriteString(f.View() + "  " + shapeStyle.Render(fd.Arg(i).String()) + "\n")
	}
	if c.preview != nil {
		b.WriteString("\n")
		writePlacements(b, c.preview, c.focus)
	}
	b.WriteString("\n" + hintStyle.Render("tab/shift+tab field • enter call • esc back"))
}

func (c *console) viewOutcome(b *strings.Builder) {
	fmt.Fprintf(b, "%s\n\n", symbolStyle.Render(c.current()))
	if c.outcome.err != nil {
		b.WriteString(failStyle.Render(c.outcome.err.Error()))
	} else {
		b.WriteString("= " + okStyle.Render(c.outcome.result))
	}
	b.WriteString("\n\n" + hintStyle.Render("r again • enter back • q quit"))
}

func (c *console) signature(name string) string {
	fd := c.session.binding.Functions[name].Descriptor
	params := make([]string, fd.NumArgs())
	for i, l := range fd.Args() {
		params[i] = shapeStyle.Render(l.String())
	}
	sig := symbolStyle.Render(name) + "(" + strings.Join(params, ", ") + ")"
	if fd.HasReturn() {
		sig += " " + shapeStyle.Render(fd.Return().String())
	}
	return sig
}

// writePlacements renders where each argument travels, marking the
// argument being edited.
func writePlacements(b *strings.Builder, v *planView, active int) {
	for i, a := range v.Args {
		locs := make([]string, len(a.Parts))
		for j, p := range a.Parts {
			locs[j] = p.Loc
		}
		mark := " "
		if i == active {
			mark = cursorStyle.Render("▸")
		}
		fmt.Fprintf(b, "%s%2d %-11s %s\n", mark, i, a.Mode, placeStyle.Render(strings.Join(locs, " ")))
	}
	ret := "    return " + v.Return.Mode
	if v.Return.Pointer != "" {
		ret += " via " + placeStyle.Render(v.Return.Pointer)
	}
	for _, p := range v.Return.Parts {
		ret += " " + placeStyle.Render(p.Loc)
	}
	b.WriteString(ret + "\n")
}

func runInteractive(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	if err := s.requireBinding(); err != nil {
		return err
	}
	_, err = tea.NewProgram(newConsole(cmd.Context(), s), tea.WithAltScreen()).Run()
	return err
}
