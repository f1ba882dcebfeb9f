// Package pprofdump renders the trace stack's current snapshot as a
// google/pprof profile, for offline inspection with `go tool pprof` when a
// one-second terminal refresh isn't enough to study a hot line.
package pprofdump

import (
	"fmt"
	"os"
	"sort"

	"github.com/google/pprof/profile"

	"github.com/rubrikinc/wachy-go/internal/binary"
	"github.com/rubrikinc/wachy-go/internal/events"
)

// Write builds a pprof profile.Profile from info's current sample and
// writes it, gzip-encoded, to path. Line mode emits one location per
// traced source line; breakdown mode emits one location per breakdown
// target function (in the order breakdownFuncs names them) plus the
// frame's own last-frame bucket. Histogram mode has no per-location
// structure to offer pprof and returns an error instead of an empty file.
func Write(path string, fn binary.FunctionName, sourceFile string, breakdownFuncs []binary.FunctionName, info events.TraceInfo) error {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "duration", Unit: "nanoseconds"},
			{Type: "count", Unit: "count"},
		},
		TimeNanos: int64(info.Time * 1e9),
	}

	switch info.Traces.Kind {
	case events.KindLines:
		writeLineSamples(prof, fn, sourceFile, info.Traces.Lines)
	case events.KindBreakdown:
		writeBreakdownSamples(prof, fn, sourceFile, breakdownFuncs, info.Traces.Breakdown)
	default:
		return fmt.Errorf("pprofdump: histogram mode has no per-location data to dump")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if err := prof.Write(f); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}
	return nil
}

func writeLineSamples(prof *profile.Profile, fn binary.FunctionName, sourceFile string, lines map[int]events.LineStat) {
	nums := make([]int, 0, len(lines))
	for line := range lines {
		nums = append(nums, line)
	}
	sort.Ints(nums)

	for _, line := range nums {
		stat := lines[line]
		loc := locationForLine(prof, fn, sourceFile, line)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(stat.DurationNanos), int64(stat.Count)},
		})
	}
}

func writeBreakdownSamples(prof *profile.Profile, fn binary.FunctionName, sourceFile string, breakdownFuncs []binary.FunctionName, bd events.BreakdownStat) {
	lastLoc := locationForName(prof, fn.Demangled()+" (last frame)", sourceFile)
	prof.Sample = append(prof.Sample, &profile.Sample{
		Location: []*profile.Location{lastLoc},
		Value:    []int64{int64(bd.LastFrame.DurationNanos), int64(bd.LastFrame.Count)},
	})

	for i, stat := range bd.PerFunc {
		name := fmt.Sprintf("breakdown[%d]", i)
		if i < len(breakdownFuncs) {
			name = breakdownFuncs[i].Demangled()
		}
		loc := locationForName(prof, name, sourceFile)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(stat.DurationNanos), int64(stat.Count)},
		})
	}
}

func locationForLine(prof *profile.Profile, fn binary.FunctionName, sourceFile string, line int) *profile.Location {
	pprofFn := &profile.Function{
		ID:         uint64(len(prof.Function)) + 1, // 0 is reserved by pprof
		Name:       fn.Demangled(),
		SystemName: fn.String(),
		Filename:   sourceFile,
	}
	prof.Function = append(prof.Function, pprofFn)

	loc := &profile.Location{
		ID:   uint64(len(prof.Location)) + 1, // 0 is reserved by pprof
		Line: []profile.Line{{Function: pprofFn, Line: int64(line)}},
	}
	prof.Location = append(prof.Location, loc)
	return loc
}

func locationForName(prof *profile.Profile, name, sourceFile string) *profile.Location {
	pprofFn := &profile.Function{
		ID:         uint64(len(prof.Function)) + 1,
		Name:       name,
		SystemName: name,
		Filename:   sourceFile,
	}
	prof.Function = append(prof.Function, pprofFn)

	loc := &profile.Location{
		ID:   uint64(len(prof.Location)) + 1,
		Line: []profile.Line{{Function: pprofFn, Line: 0}},
	}
	prof.Location = append(prof.Location, loc)
	return loc
}
