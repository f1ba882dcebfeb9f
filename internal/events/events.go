// Package events implements the single event bus that carries state-change
// notifications and trace output between the trace stack, the tracer
// supervisor, the searcher, and the UI adapter.
package events

import "github.com/rubrikinc/wachy-go/internal/binary"

// Event is the sum type carried on the bus.
type Event interface {
	isEvent()
}

// FatalTraceError signals that the tracer subprocess failed in a way that
// should terminate the UI.
type FatalTraceError struct {
	Msg string
}

// TraceData carries one parsed sample from the tracer subprocess.
type TraceData struct {
	Info TraceInfo
}

// TraceCommandModified signals that the trace stack's synthesized program
// would now be different; the tracer supervisor should respawn.
type TraceCommandModified struct{}

// SearchResults carries ranked search results for a given view.
type SearchResults struct {
	Counter uint64
	View    string
	Results []SearchResult
}

// SearchResult is one ranked match.
type SearchResult struct {
	Name  binary.FunctionName
	Score int
}

// SelectedFunction signals that the user committed to a function, e.g.
// from the search dialog.
type SelectedFunction struct {
	Name binary.FunctionName
}

func (FatalTraceError) isEvent()      {}
func (TraceData) isEvent()            {}
func (TraceCommandModified) isEvent() {}
func (SearchResults) isEvent()        {}
func (SelectedFunction) isEvent()     {}

// TraceInfo is one 1Hz aggregate sample, stamped with the generation
// counter that was current when the tracer subprocess was spawned.
type TraceInfo struct {
	Counter uint64
	Time    float64 // seconds since the probe program's BEGIN block ran
	Traces  TraceInfoMode
}

// TraceInfoMode is the per-mode payload of a TraceInfo. Exactly one field
// is meaningful, selected by Kind.
type TraceInfoMode struct {
	Kind      ModeKind
	Lines     map[int]LineStat
	Histogram string
	Breakdown BreakdownStat
}

// ModeKind tags which field of TraceInfoMode is populated.
type ModeKind int

const (
	KindLines ModeKind = iota
	KindHistogram
	KindBreakdown
)

// LineStat is the duration/count pair reported for one source line.
type LineStat struct {
	DurationNanos uint64
	Count         uint64
}

// BreakdownStat is the per-function breakdown payload.
type BreakdownStat struct {
	LastFrame LineStat
	PerFunc   []LineStat
}
