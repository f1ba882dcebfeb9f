package pprofdump

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/require"

	"github.com/rubrikinc/wachy-go/internal/binary"
	"github.com/rubrikinc/wachy-go/internal/events"
)

func TestWriteLineMode(t *testing.T) {
	fn := binary.Intern("_Z3foov", "foo()")
	info := events.TraceInfo{
		Time: 3,
		Traces: events.TraceInfoMode{
			Kind: events.KindLines,
			Lines: map[int]events.LineStat{
				10: {DurationNanos: 100, Count: 2},
				12: {DurationNanos: 400, Count: 4},
			},
		},
	}

	path := filepath.Join(t.TempDir(), "out.pprof")
	require.NoError(t, Write(path, fn, "foo.cc", nil, info))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	prof, err := profile.Parse(f)
	require.NoError(t, err)
	require.Len(t, prof.Sample, 2)
	require.Len(t, prof.Function, 2)

	total := int64(0)
	for _, s := range prof.Sample {
		total += s.Value[1]
	}
	require.Equal(t, int64(6), total)
}

func TestWriteBreakdownMode(t *testing.T) {
	fn := binary.Intern("_Z3barv", "bar()")
	callee := binary.Intern("_Z3bazv", "baz()")
	info := events.TraceInfo{
		Time: 1,
		Traces: events.TraceInfoMode{
			Kind: events.KindBreakdown,
			Breakdown: events.BreakdownStat{
				LastFrame: events.LineStat{DurationNanos: 50, Count: 1},
				PerFunc:   []events.LineStat{{DurationNanos: 150, Count: 3}},
			},
		},
	}

	path := filepath.Join(t.TempDir(), "out.pprof")
	require.NoError(t, Write(path, fn, "bar.cc", []binary.FunctionName{callee}, info))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	prof, err := profile.Parse(f)
	require.NoError(t, err)
	require.Len(t, prof.Sample, 2)

	var sawCallee bool
	for _, fn := range prof.Function {
		if fn.Name == "baz()" {
			sawCallee = true
		}
	}
	require.True(t, sawCallee)
}

func TestWriteHistogramModeErrors(t *testing.T) {
	fn := binary.Intern("_Z3quxv", "qux()")
	info := events.TraceInfo{
		Traces: events.TraceInfoMode{Kind: events.KindHistogram, Histogram: "@hist: ..."},
	}

	path := filepath.Join(t.TempDir(), "out.pprof")
	err := Write(path, fn, "qux.cc", nil, info)
	require.Error(t, err)
}
