package trace

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rubrikinc/wachy-go/internal/binary"
	"github.com/rubrikinc/wachy-go/internal/events"
)

// Stack is the process-wide singleton describing what is currently being
// traced: a stack of frames, each with active call sites, breakdown
// targets, entry/exit filters, and a mode. All mutating operations take
// the stack's lock, modify state, bump the generation counter where the
// synthesized program would change (AddCallsite excepted, see there), and
// send TraceCommandModified.
type Stack struct {
	mu sync.Mutex

	programPath        string
	mode               Mode
	breakdownFunctions []binary.FunctionName
	frames             []FrameInfo // frames[0] is the bottom (first pushed); last is the top

	bus     *events.Bus
	counter atomic.Uint64

	// dryCompile is used by SetCurrentFilter to validate a candidate
	// filter before committing it. Injected so tests don't need a real
	// bpftrace binary on PATH.
	dryCompile func(program string) error
}

// New creates a Stack rooted at the given top-level frame.
func New(programPath string, root FrameInfo, bus *events.Bus, dryCompile func(string) error) *Stack {
	s := &Stack{
		programPath: programPath,
		frames:      []FrameInfo{root},
		bus:         bus,
		dryCompile:  dryCompile,
	}
	return s
}

// Counter returns the current generation counter.
func (s *Stack) Counter() uint64 {
	return s.counter.Load()
}

func (s *Stack) bump() {
	s.counter.Add(1)
}

func (s *Stack) notify() {
	if s.bus != nil {
		s.bus.Send(events.TraceCommandModified{})
	}
}

// Push appends a new top frame.
func (s *Stack) Push(frame FrameInfo) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.bump()
	s.mu.Unlock()
	s.notify()
}

// Pop removes the top frame and returns the new top. Refuses to pop the
// last remaining frame, per the invariant that frames is never empty.
func (s *Stack) Pop() (FrameInfo, bool) {
	s.mu.Lock()
	if len(s.frames) <= 1 {
		top := s.frames[0]
		s.mu.Unlock()
		return top, false
	}
	s.frames = s.frames[:len(s.frames)-1]
	s.bump()
	top := s.frames[len(s.frames)-1]
	s.mu.Unlock()
	s.notify()
	return top, true
}

// Depth returns the number of frames currently on the stack.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Top returns a copy of the top frame.
func (s *Stack) Top() FrameInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1]
}

// AddCallsite inserts ci into the top frame's TracedCallsites at line.
// Panics (a bug, not a user error) if ci is neither one of the frame's
// known call sites nor CallManual — the caller is responsible for only
// offering call sites it itself discovered.
func (s *Stack) AddCallsite(line int, ci binary.CallInstruction) {
	s.mu.Lock()
	top := &s.frames[len(s.frames)-1]
	if !top.knownCallsite(line, ci) {
		s.mu.Unlock()
		panic(fmt.Sprintf("Bug: add_callsite with an instruction not known to frame (line=%d)", line))
	}
	top.TracedCallsites[line] = ci
	s.mu.Unlock()
	// add_callsite does not bump the counter per spec.md §4.2's table, but
	// the synthesized program now includes the new call site, so it still
	// sends TraceCommandModified to have the tracer respawn with it.
	s.notify()
}

// RemoveCallsite removes any traced call site at line, reporting whether
// one existed.
func (s *Stack) RemoveCallsite(line int) bool {
	s.mu.Lock()
	top := &s.frames[len(s.frames)-1]
	_, existed := top.TracedCallsites[line]
	if existed {
		delete(top.TracedCallsites, line)
		s.bump()
	}
	s.mu.Unlock()
	if existed {
		s.notify()
	}
	return existed
}

// SetMode replaces the current trace mode.
func (s *Stack) SetMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.bump()
	s.mu.Unlock()
	s.notify()
}

// Mode returns the current trace mode.
func (s *Stack) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// AddBreakdownFunction appends fn to the breakdown target list.
func (s *Stack) AddBreakdownFunction(fn binary.FunctionName) {
	s.mu.Lock()
	s.breakdownFunctions = append(s.breakdownFunctions, fn)
	s.bump()
	s.mu.Unlock()
	s.notify()
}

// BreakdownFunctions returns a copy of the current breakdown target list,
// in the order functions were added (the same order breakdown mode's
// per-function counters are emitted in).
func (s *Stack) BreakdownFunctions() []binary.FunctionName {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]binary.FunctionName, len(s.breakdownFunctions))
	copy(out, s.breakdownFunctions)
	return out
}

// SetCurrentFilter validates a candidate filter by dry-compiling the
// resulting program, then either commits it or restores the prior value.
// An empty string clears the filter. The lock is held across the
// dry-compile call itself (spec §5: this blocks the UI for the duration
// of one subprocess invocation, which is acceptable since the user is
// explicitly waiting on their own edit) — releasing it would let a
// concurrent Push reallocate s.frames out from under a captured pointer
// to the top frame.
func (s *Stack) SetCurrentFilter(expr string, isRet bool) error {
	s.mu.Lock()

	top := &s.frames[len(s.frames)-1]

	var prior string
	if isRet {
		prior = top.RetFilter
		top.RetFilter = expr
	} else {
		prior = top.Filter
		top.Filter = expr
	}

	if expr != "" && s.dryCompile != nil {
		program, _ := s.synthesizeLocked()
		if err := s.dryCompile(program); err != nil {
			if isRet {
				top.RetFilter = prior
			} else {
				top.Filter = prior
			}
			s.mu.Unlock()
			return err
		}
	}

	s.bump()
	s.mu.Unlock()
	s.notify()
	return nil
}

// GetBpftraceExpr returns the synthesized program text together with the
// generation counter snapshot taken atomically with it, so a tracer
// respawn can stamp its output with a counter that is guaranteed
// consistent with the text it spawned from.
func (s *Stack) GetBpftraceExpr() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synthesizeLocked()
}

// ProgramPath returns the path of the binary being traced.
func (s *Stack) ProgramPath() string {
	return s.programPath
}
