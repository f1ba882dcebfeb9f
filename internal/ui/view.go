package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rubrikinc/wachy-go/internal/events"
	"github.com/rubrikinc/wachy-go/internal/trace"
)

var (
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	dialogStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func (m Model) View() string {
	if m.errMsg != "" {
		return errorStyle.Render("wachy: " + m.errMsg)
	}

	var b strings.Builder
	if m.stack.Mode() == trace.ModeHistogram {
		b.WriteString(m.renderHistogram())
	} else {
		b.WriteString(m.table.View())
	}
	b.WriteString("\n")
	b.WriteString(footerStyle.Render(m.footer()))

	switch m.state {
	case stateSearch:
		b.WriteString("\n")
		b.WriteString(dialogStyle.Render(m.renderSearchDialog()))
	case stateEntryFilter:
		b.WriteString("\n")
		b.WriteString(dialogStyle.Render("entry filter: " + m.input.View()))
	case stateRetFilter:
		b.WriteString("\n")
		b.WriteString(dialogStyle.Render("return filter: " + m.input.View()))
	case stateManualOffset:
		b.WriteString("\n")
		b.WriteString(dialogStyle.Render("manual call site: " + m.input.View()))
	case stateInfo:
		b.WriteString("\n")
		b.WriteString(dialogStyle.Render(m.infoMsg))
	case stateQuitConfirm:
		b.WriteString("\n")
		b.WriteString(dialogStyle.Render("quit wachy? (y/n)"))
	}

	return b.String()
}

func (m Model) footer() string {
	top := m.stack.Top()

	mode := "line"
	switch m.stack.Mode() {
	case trace.ModeHistogram:
		mode = "histogram"
	case trace.ModeBreakdown:
		mode = "breakdown"
	}

	name := top.Function.Demangled()
	if m.mangled {
		name = top.Function.String()
	}

	status := "waiting for first sample"
	if m.haveTrace {
		status = fmt.Sprintf("t=%.0fs", m.lastTrace.Time)
	}

	return fmt.Sprintf("%s  %s:%d  [%s]  depth=%d  %s",
		name, top.SourceFile, top.SourceLine, mode, m.stack.Depth(), status)
}

// renderHistogram shows bpftrace's own hist() text verbatim rather than
// re-plotting it: the buckets are already laid out as an ASCII bar chart by
// bpftrace itself, and re-parsing that text just to redraw the same bars
// would throw away information (bucket boundaries are printed, not just
// counts) for no benefit.
func (m Model) renderHistogram() string {
	if !m.haveTrace || m.lastTrace.Traces.Kind != events.KindHistogram {
		return "waiting for first histogram sample"
	}
	return m.lastTrace.Traces.Histogram
}

func (m Model) renderSearchDialog() string {
	var b strings.Builder
	b.WriteString("search: ")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	for i, r := range m.searchResults {
		if i >= 10 {
			break
		}
		prefix := "  "
		if i == m.searchCursor {
			prefix = "> "
		}
		fmt.Fprintf(&b, "%s%s\n", prefix, r.Name.Demangled())
	}
	return b.String()
}
