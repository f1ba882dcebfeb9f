package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rubrikinc/wachy-go/internal/binary"
	"github.com/rubrikinc/wachy-go/internal/trace"
)

const advancedTraceWindow = time.Second

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.state {
	case stateSearch:
		return m.handleSearchKey(msg)
	case stateEntryFilter:
		return m.handleFilterKey(msg, false)
	case stateRetFilter:
		return m.handleFilterKey(msg, true)
	case stateManualOffset:
		return m.handleManualOffsetKey(msg)
	case stateInfo:
		m.state = stateNormal
		m.infoMsg = ""
		return m, nil
	case stateQuitConfirm:
		return m.handleQuitConfirmKey(msg)
	}
	return m.handleNormalKey(msg)
}

func (m Model) handleNormalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.state = stateQuitConfirm
		return m, nil

	case "ctrl+t":
		m.advancedArmedAt = time.Now()
		return m, nil

	case "x":
		if time.Since(m.advancedArmedAt) <= advancedTraceWindow {
			m.advancedArmedAt = time.Time{}
			m.state = stateManualOffset
			m.input.SetValue("")
			m.input.Placeholder = "start,end offsets (hex or decimal)"
			m.input.Focus()
			return m, nil
		}
		m.toggleCallsiteAtCursor()
		return m, nil

	case "X":
		m.traceNextUnattached()
		return m, nil

	case "enter":
		return m.handleDescendOrBreakdown()

	case ">":
		m.state = stateSearch
		m.input.SetValue("")
		m.input.Placeholder = "search functions"
		m.input.Focus()
		m.searcher.SetFixedItems("functions", m.prog.ListFunctions())
		m.searcher.SetEmptySearchResults("functions")
		return m, nil

	case "b":
		if m.stack.Mode() == trace.ModeBreakdown {
			m.stack.SetMode(trace.ModeLine)
		} else {
			m.stack.SetMode(trace.ModeBreakdown)
		}
		return m, nil

	case "h":
		if m.stack.Mode() == trace.ModeHistogram {
			m.stack.SetMode(trace.ModeLine)
		} else {
			m.stack.SetMode(trace.ModeHistogram)
		}
		return m, nil

	case "f":
		m.state = stateEntryFilter
		m.input.SetValue(m.stack.Top().Filter)
		m.input.Placeholder = "entry filter expression"
		m.input.Focus()
		return m, nil

	case "g":
		m.state = stateRetFilter
		m.input.SetValue(m.stack.Top().RetFilter)
		m.input.Placeholder = "return filter expression ($duration available)"
		m.input.Focus()
		return m, nil

	case "r":
		return m, respawn(m.ctx, m.sv)

	case "p":
		m.dumpPprof()
		return m, nil

	case "m":
		m.mangled = !m.mangled
		return m, nil

	case "esc":
		m.stack.Pop()
		m.refreshTable()
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) toggleCallsiteAtCursor() {
	top := m.stack.Top()
	line := m.cursorLine()
	if m.stack.RemoveCallsite(line) {
		return
	}
	cis := top.LineToCallsites[line]
	if len(cis) == 0 {
		m.infoMsg = fmt.Sprintf("no call site on line %d", line)
		m.state = stateInfo
		return
	}
	m.stack.AddCallsite(line, cis[0])
}

func (m *Model) traceNextUnattached() {
	top := m.stack.Top()
	for i, ci := range top.UnattachedCallsites {
		key := unattachedLineBase + i
		if _, traced := top.TracedCallsites[key]; !traced {
			m.stack.AddCallsite(key, ci)
			return
		}
	}
	m.infoMsg = "no untraced unattached call sites"
	m.state = stateInfo
}

func (m Model) handleDescendOrBreakdown() (tea.Model, tea.Cmd) {
	top := m.stack.Top()
	line := m.cursorLine()
	cis := top.LineToCallsites[line]
	if len(cis) == 0 {
		m.infoMsg = "no call site on this line to descend into"
		m.state = stateInfo
		return m, nil
	}

	var fn binary.FunctionName
	switch instr := cis[0].Instr.(type) {
	case binary.CallFunction:
		fn = instr.Name
	case binary.CallDynamicSymbol:
		fn = instr.Name
	default:
		m.infoMsg = "call target is indirect or unknown; nothing to descend into"
		m.state = stateInfo
		return m, nil
	}

	if m.stack.Mode() == trace.ModeBreakdown {
		m.stack.AddBreakdownFunction(fn)
		return m, nil
	}

	m.descendTo(fn)
	return m, nil
}

func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.state = stateNormal
		m.searcher.SetEmptySearchResults("functions")
		return m, nil

	case "enter":
		if len(m.searchResults) == 0 {
			return m, nil
		}
		fn := m.searchResults[m.searchCursor].Name
		m.state = stateNormal
		m.descendTo(fn)
		return m, nil

	case "up":
		if m.searchCursor > 0 {
			m.searchCursor--
		}
		return m, nil

	case "down":
		if m.searchCursor < len(m.searchResults)-1 {
			m.searchCursor++
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.searcher.Search("functions", m.input.Value())
	return m, cmd
}

func (m Model) handleFilterKey(msg tea.KeyMsg, isRet bool) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.state = stateNormal
		return m, nil

	case "enter":
		// Filter validation dry-compiles via the probe engine subprocess
		// and is expected to block the UI for the duration of one
		// invocation (spec's concurrency model treats this as acceptable,
		// since the user is explicitly waiting on their own edit).
		if err := m.stack.SetCurrentFilter(m.input.Value(), isRet); err != nil {
			m.infoMsg = err.Error()
			m.state = stateInfo
			return m, nil
		}
		m.state = stateNormal
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleManualOffsetKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.state = stateNormal
		return m, nil

	case "enter":
		start, end, err := parseManualOffsets(m.input.Value())
		if err != nil {
			m.infoMsg = err.Error()
			m.state = stateInfo
			return m, nil
		}
		ci := binary.CallInstruction{RelativeIP: start, Length: end - start, Instr: binary.CallManual{}}
		m.stack.AddCallsite(m.cursorLine(), ci)
		m.state = stateNormal
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleQuitConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "enter":
		m.quitting = true
		return m, tea.Quit
	default:
		m.state = stateNormal
		return m, nil
	}
}

func parseManualOffsets(raw string) (start, end uint32, err error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected \"start,end\"")
	}
	s, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 0, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start offset: %w", err)
	}
	e, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 0, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end offset: %w", err)
	}
	if e <= s {
		return 0, 0, fmt.Errorf("end offset must exceed start offset")
	}
	return uint32(s), uint32(e), nil
}
