package trace

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rubrikinc/wachy-go/internal/binary"
)

func mustFrame(t *testing.T, name string, line int) FrameInfo {
	t.Helper()
	fn := binary.Intern(name, name)
	return FrameInfo{
		Function:        fn,
		SourceFile:      "main.c",
		SourceLine:      line,
		LineToCallsites: map[int][]binary.CallInstruction{},
		TracedCallsites: map[int]binary.CallInstruction{},
	}
}

// TestSynthesizeSingleFrameLineMode covers scenario S1: one frame on the
// stack, default line mode, no traced call sites or filters.
func TestSynthesizeSingleFrameLineMode(t *testing.T) {
	s := New("/bin/foo", mustFrame(t, "foo", 10), nil, nil)
	program, counter := s.GetBpftraceExpr()

	require.Equal(t, uint64(0), counter)
	require.Contains(t, program, "BEGIN")
	require.Contains(t, program, "@depth[-1] = 0;")
	require.Contains(t, program, "uprobe:/bin/foo:foo /@depth[tid] == 0/")
	require.Contains(t, program, "uretprobe:/bin/foo:foo /@depth[tid] == 1/")
	// Single frame: top IS outermost, so the commit guard lives in its own
	// exit block.
	require.Contains(t, program, "if (@matched_retfilters[tid] == 0) {")
	require.Contains(t, program, "@duration10 += @duration_tmp10[tid];")
	require.Contains(t, program, "\"lines\"")
	require.Contains(t, program, "\\\"10\\\": [%lld, %lld]")
}

// TestSynthesizePushedFrameLineMode covers scenario S3: pushing a second
// frame moves the commit block to the outermost (first-pushed) frame's
// exit probe and gates the new top's probes at the bumped depth.
func TestSynthesizePushedFrameLineMode(t *testing.T) {
	s := New("/bin/foo", mustFrame(t, "foo", 10), nil, nil)
	s.Push(mustFrame(t, "bar", 20))
	program, counter := s.GetBpftraceExpr()

	require.Equal(t, uint64(1), counter)
	require.Contains(t, program, "uprobe:/bin/foo:foo /@depth[tid] == 0/")
	require.Contains(t, program, "uretprobe:/bin/foo:foo /@depth[tid] == 1/")
	require.Contains(t, program, "uprobe:/bin/foo:bar /@depth[tid] == 1/")
	require.Contains(t, program, "uretprobe:/bin/foo:bar /@depth[tid] == 2/")

	// Commit belongs to foo's (outermost) exit block, not bar's.
	fooExit := program[strings.Index(program, "uretprobe:/bin/foo:foo"):]
	fooExit = fooExit[:strings.Index(fooExit, "}\n\n")]
	require.Contains(t, fooExit, "if (@matched_retfilters[tid] == 0) {")

	barExit := program[strings.Index(program, "uretprobe:/bin/foo:bar"):]
	barExit = barExit[:strings.Index(barExit, "}\n\n")]
	require.NotContains(t, barExit, "if (@matched_retfilters[tid]")
}

func TestSynthesizeTracedCallsite(t *testing.T) {
	frame := mustFrame(t, "foo", 10)
	ci := binary.CallInstruction{RelativeIP: 0x20, Length: 5, Instr: binary.CallFunction{}}
	frame.LineToCallsites[11] = []binary.CallInstruction{ci}
	frame.TracedCallsites[11] = ci

	s := New("/bin/foo", frame, nil, nil)
	program, _ := s.GetBpftraceExpr()

	require.Contains(t, program, "uprobe:/bin/foo:foo+32 /@depth[tid] == 1/")
	require.Contains(t, program, "uprobe:/bin/foo:foo+37 /@depth[tid] == 1 && @start11[tid]/")
	require.Contains(t, program, "\\\"11\\\": [%lld, %lld]")
}

func TestSynthesizeRetFilterGuardsCommit(t *testing.T) {
	frame := mustFrame(t, "foo", 10)
	frame.RetFilter = "$duration > 1000"
	s := New("/bin/foo", frame, nil, nil)
	program, _ := s.GetBpftraceExpr()

	require.Contains(t, program, "if ($duration > 1000) {\n\t\t@matched_retfilters[tid]++;\n\t}")
	require.Contains(t, program, "if (@matched_retfilters[tid] == 1) {")
}

func TestSynthesizeEntryFilter(t *testing.T) {
	frame := mustFrame(t, "foo", 10)
	frame.Filter = "arg0 == 5"
	s := New("/bin/foo", frame, nil, nil)
	program, _ := s.GetBpftraceExpr()

	require.Contains(t, program, "uprobe:/bin/foo:foo /@depth[tid] == 0 && (arg0 == 5)/")
}

func TestSynthesizeHistogramMode(t *testing.T) {
	s := New("/bin/foo", mustFrame(t, "foo", 10), nil, nil)
	s.SetMode(ModeHistogram)
	program, _ := s.GetBpftraceExpr()

	require.Contains(t, program, "@duration_tmp[tid] = $duration;")
	require.Contains(t, program, "@hist = hist(@duration_tmp[tid]);")
	require.Contains(t, program, "\\\"histogram\\\"")
	require.Contains(t, program, "print(@hist);")
}

func TestSynthesizeBreakdownMode(t *testing.T) {
	s := New("/bin/foo", mustFrame(t, "foo", 10), nil, nil)
	s.SetMode(ModeBreakdown)
	s.AddBreakdownFunction(binary.Intern("helper", "helper"))
	program, _ := s.GetBpftraceExpr()

	require.Contains(t, program, "uprobe:/bin/foo:helper /@depth[tid] == 1/")
	require.Contains(t, program, "uretprobe:/bin/foo:helper /@start_breakdown0[tid]/")
	require.Contains(t, program, "\\\"last_frame\\\": [%lld, %lld]")
	require.Contains(t, program, "\\\"0\\\": [%lld, %lld]")
}

func TestSetCurrentFilterRestoresOnDryCompileFailure(t *testing.T) {
	boom := errors.New("boom")
	s := New("/bin/foo", mustFrame(t, "foo", 10), nil, func(string) error {
		return boom
	})

	err := s.SetCurrentFilter("arg0 == 5", false)
	require.ErrorIs(t, err, boom)
	require.Empty(t, s.Top().Filter)
	require.Equal(t, uint64(0), s.Counter())
}

func TestSetCurrentFilterCommitsOnDryCompileSuccess(t *testing.T) {
	s := New("/bin/foo", mustFrame(t, "foo", 10), nil, func(string) error {
		return nil
	})

	err := s.SetCurrentFilter("arg0 == 5", false)
	require.NoError(t, err)
	require.Equal(t, "arg0 == 5", s.Top().Filter)
	require.Equal(t, uint64(1), s.Counter())
}
