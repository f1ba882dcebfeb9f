// Package trace owns the shared, mutable trace stack — the state
// describing what is currently being traced — and the deterministic
// translation of that state into a bpftrace program string.
package trace

import "github.com/rubrikinc/wachy-go/internal/binary"

// Mode selects what TraceInfo a frame's top-level probe program computes.
type Mode int

const (
	// ModeLine reports per-line cumulative duration/count in the top frame.
	ModeLine Mode = iota
	// ModeHistogram reports a latency histogram for the top frame's function.
	ModeHistogram
	// ModeBreakdown reports per-call cumulative time across a user-selected
	// set of sub-functions.
	ModeBreakdown
)

// FrameInfo is one entry in the trace stack.
type FrameInfo struct {
	Function   binary.FunctionName
	SourceFile string
	SourceLine int

	// LineToCallsites maps a source line to the call instructions found on
	// that line (only those whose debug-info file equals SourceFile, plus
	// calls with no debug info, filed under SourceLine when it is known).
	LineToCallsites map[int][]binary.CallInstruction
	// UnattachedCallsites are call instructions from inlined call sites
	// whose debug-info file differs from SourceFile (and calls with no
	// debug info when SourceLine is unknown).
	UnattachedCallsites []binary.CallInstruction
	// TracedCallsites holds at most one CallInstruction per source line,
	// actively probed.
	TracedCallsites map[int]binary.CallInstruction

	// Filter is an entry-side probe-engine filter expression, if any.
	Filter string
	// RetFilter is a return-side filter expression, possibly referencing
	// the synthesized $duration variable.
	RetFilter string
}

// NewFrame builds a FrameInfo for fn by disassembling it in prog.
func NewFrame(prog *binary.Program, fn binary.FunctionName) (FrameInfo, error) {
	d, err := prog.Disassemble(fn)
	if err != nil {
		return FrameInfo{}, err
	}
	return FrameInfo{
		Function:            fn,
		SourceFile:          d.SourceFile,
		SourceLine:          d.SourceLine,
		LineToCallsites:     d.LineToCallsites,
		UnattachedCallsites: d.Unattached,
		TracedCallsites:     make(map[int]binary.CallInstruction),
	}, nil
}

// knownCallsite reports whether ci is one of this frame's discovered call
// sites on the given line, in UnattachedCallsites, or is a manual call
// site — the invariant add_callsite asserts (spec.md §8, invariant 4).
func (f *FrameInfo) knownCallsite(line int, ci binary.CallInstruction) bool {
	if _, ok := ci.Instr.(binary.CallManual); ok {
		return true
	}
	for _, known := range f.LineToCallsites[line] {
		if known.RelativeIP == ci.RelativeIP {
			return true
		}
	}
	for _, known := range f.UnattachedCallsites {
		if known.RelativeIP == ci.RelativeIP {
			return true
		}
	}
	return false
}
