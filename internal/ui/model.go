// Package ui is the terminal front end: a bubbletea Elm-architecture model
// that renders the top frame's source, dispatches key presses into
// TraceStack mutations and Searcher queries, and redraws whenever a
// TraceData, SearchResults, or error arrives on the shared event bus.
package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rubrikinc/wachy-go/internal/binary"
	"github.com/rubrikinc/wachy-go/internal/events"
	"github.com/rubrikinc/wachy-go/internal/pprofdump"
	"github.com/rubrikinc/wachy-go/internal/search"
	"github.com/rubrikinc/wachy-go/internal/trace"
	"github.com/rubrikinc/wachy-go/internal/tracer"
)

// pprofDumpPath is where "p" dumps the current snapshot; a fixed name in
// the working directory, overwritten on every dump, mirroring wachy.log's
// fixed-name convention.
const pprofDumpPath = "wachy.pprof"

// unattachedLineBase offsets the index of an unattached call site (which
// has no source line of its own) into the same line-keyed TracedCallsites
// map, far past any plausible real source line so the synthesized
// bpftrace variable names (which embed the line number) never collide.
const unattachedLineBase = 1_000_000

// dialogState selects which overlay, if any, captures key input.
type dialogState int

const (
	stateNormal dialogState = iota
	stateSearch
	stateEntryFilter
	stateRetFilter
	stateManualOffset
	stateInfo
	stateQuitConfirm
)

// eventMsg wraps one value received from the shared event bus so it can
// flow through bubbletea's Update loop like any other message.
type eventMsg struct{ ev events.Event }

// respawnDoneMsg signals that a tracer respawn triggered by
// TraceCommandModified has returned.
type respawnDoneMsg struct{}

// Model is the bubbletea model driving the whole UI.
type Model struct {
	ctx context.Context

	prog     *binary.Program
	stack    *trace.Stack
	sv       *tracer.Supervisor
	searcher *search.Searcher
	bus      *events.Bus
	src      *sourceCache

	table table.Model
	input textinput.Model
	state dialogState

	mangled bool

	lastTrace events.TraceInfo
	haveTrace bool

	searchResults []events.SearchResult
	searchCursor  int

	infoMsg string
	errMsg  string

	advancedArmedAt time.Time

	width, height int

	quitting bool
}

// New constructs the initial Model for a freshly opened top-level frame.
func New(ctx context.Context, prog *binary.Program, stack *trace.Stack, sv *tracer.Supervisor, searcher *search.Searcher, bus *events.Bus) Model {
	cols := []table.Column{
		{Title: "", Width: 1},
		{Title: "ns", Width: 10},
		{Title: "count", Width: 8},
		{Title: "line", Width: 6},
		{Title: "source", Width: 60},
	}
	t := table.New(table.WithColumns(cols), table.WithFocused(true))

	ti := textinput.New()
	ti.Placeholder = "expression"

	m := Model{
		ctx:      ctx,
		prog:     prog,
		stack:    stack,
		sv:       sv,
		searcher: searcher,
		bus:      bus,
		src:      newSourceCache(),
		table:    t,
		input:    ti,
	}
	m.refreshTable()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.bus), respawn(m.ctx, m.sv))
}

func waitForEvent(bus *events.Bus) tea.Cmd {
	return func() tea.Msg {
		return eventMsg{ev: <-bus.Events()}
	}
}

func respawn(ctx context.Context, sv *tracer.Supervisor) tea.Cmd {
	return func() tea.Msg {
		sv.Respawn(ctx)
		return respawnDoneMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.handleEvent(msg.ev)
		if m.quitting {
			return m, tea.Quit
		}
		return m, tea.Batch(cmd, waitForEvent(m.bus))

	case respawnDoneMsg:
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetWidth(msg.Width)
		if msg.Height > 6 {
			m.table.SetHeight(msg.Height - 4)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleEvent(ev events.Event) tea.Cmd {
	switch e := ev.(type) {
	case events.TraceData:
		if e.Info.Counter == m.stack.Counter() {
			m.lastTrace = e.Info
			m.haveTrace = true
			m.refreshTable()
		}
		return nil

	case events.TraceCommandModified:
		return respawn(m.ctx, m.sv)

	case events.FatalTraceError:
		m.errMsg = e.Msg
		m.quitting = true
		return nil

	case events.SearchResults:
		if e.View == "functions" {
			m.searchResults = e.Results
			m.searchCursor = 0
		}
		return nil

	case events.SelectedFunction:
		m.descendTo(e.Name)
		return nil
	}
	return nil
}

// descendTo pushes a new frame for fn, disassembling it fresh. Recursion
// (descending into a function already on the stack) is permitted, per an
// explicit decision to preserve the original's documented behavior.
func (m *Model) descendTo(fn binary.FunctionName) {
	frame, err := trace.NewFrame(m.prog, fn)
	if err != nil {
		m.infoMsg = fmt.Sprintf("cannot descend into %s: %v", fn.Demangled(), err)
		m.state = stateInfo
		return
	}
	m.stack.Push(frame)
	m.state = stateNormal
	m.haveTrace = false
	m.refreshTable()
}

func (m *Model) refreshTable() {
	top := m.stack.Top()
	lines := m.src.Lines(top.SourceFile)

	rows := make([]table.Row, 0, len(lines))
	for line := 1; line < len(lines); line++ {
		mark := " "
		if _, ok := top.TracedCallsites[line]; ok {
			mark = "*"
		} else if line == top.SourceLine {
			mark = ">"
		}

		var ns, count string
		if m.haveTrace && m.lastTrace.Traces.Kind == events.KindLines {
			if stat, ok := m.lastTrace.Traces.Lines[line]; ok {
				ns = fmt.Sprintf("%d", stat.DurationNanos)
				count = fmt.Sprintf("%d", stat.Count)
			}
		}

		rows = append(rows, table.Row{mark, ns, count, fmt.Sprintf("%d", line), lines[line]})
	}
	m.table.SetRows(rows)
}

// cursorLine returns the 1-indexed source line the table cursor is
// currently on.
func (m *Model) cursorLine() int {
	row := m.table.Cursor()
	return row + 1
}

// FatalError returns the fatal trace error message, if the session ended
// because of one, for the caller to print after the terminal UI tears
// down.
func (m Model) FatalError() string {
	return m.errMsg
}

// dumpPprof writes the most recently received sample to pprofDumpPath as a
// pprof profile. Before the first sample arrives it only shows an info
// dialog saying so; histogram mode has no per-location breakdown pprof can
// represent, and reports that as an info dialog rather than silently doing
// nothing.
func (m *Model) dumpPprof() {
	if !m.haveTrace {
		m.infoMsg = "no sample yet to dump"
		m.state = stateInfo
		return
	}
	top := m.stack.Top()
	err := pprofdump.Write(pprofDumpPath, top.Function, top.SourceFile, m.stack.BreakdownFunctions(), m.lastTrace)
	if err != nil {
		m.infoMsg = err.Error()
	} else {
		m.infoMsg = fmt.Sprintf("wrote %s", pprofDumpPath)
	}
	m.state = stateInfo
}

func (m *Model) displayName(fn binary.FunctionName) string {
	if m.mangled {
		return fn.String()
	}
	return fn.Demangled()
}
