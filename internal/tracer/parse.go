package tracer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/rubrikinc/wachy-go/internal/events"
)

// wireSample is the JSON object printed once per second by the interval
// probe of a synthesized program. Exactly one of Lines, Histogram, or
// Breakdown is populated, matching the mode the program was synthesized
// for.
type wireSample struct {
	Time      float64              `json:"time"`
	Lines     map[string][2]uint64 `json:"lines,omitempty"`
	Histogram string               `json:"histogram,omitempty"`
	Breakdown map[string][2]uint64 `json:"breakdown,omitempty"`
}

// parseSample decodes one complete, brace-balanced JSON object captured
// from the tracer subprocess's stdout, stamping it with the generation
// counter that was current when that subprocess was spawned.
func parseSample(raw []byte, counter uint64) (events.TraceData, error) {
	var w wireSample
	if err := json.Unmarshal(raw, &w); err != nil {
		return events.TraceData{}, fmt.Errorf("parsing tracer output: %w", err)
	}

	info := events.TraceInfo{Counter: counter, Time: w.Time}

	switch {
	case w.Histogram != "":
		info.Traces = events.TraceInfoMode{
			Kind:      events.KindHistogram,
			Histogram: w.Histogram,
		}

	case w.Breakdown != nil:
		info.Traces = events.TraceInfoMode{
			Kind:      events.KindBreakdown,
			Breakdown: decodeBreakdown(w.Breakdown),
		}

	default:
		lines := make(map[int]events.LineStat, len(w.Lines))
		for k, v := range w.Lines {
			line, err := strconv.Atoi(k)
			if err != nil {
				continue
			}
			lines[line] = events.LineStat{DurationNanos: v[0], Count: v[1]}
		}
		info.Traces = events.TraceInfoMode{Kind: events.KindLines, Lines: lines}
	}

	return events.TraceData{Info: info}, nil
}

func decodeBreakdown(raw map[string][2]uint64) events.BreakdownStat {
	var stat events.BreakdownStat

	type indexed struct {
		idx  int
		stat events.LineStat
	}
	var perFunc []indexed

	for k, v := range raw {
		ls := events.LineStat{DurationNanos: v[0], Count: v[1]}
		if k == "last_frame" {
			stat.LastFrame = ls
			continue
		}
		idx, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		perFunc = append(perFunc, indexed{idx, ls})
	}
	sort.Slice(perFunc, func(i, j int) bool { return perFunc[i].idx < perFunc[j].idx })

	stat.PerFunc = make([]events.LineStat, len(perFunc))
	for i, e := range perFunc {
		stat.PerFunc[i] = e.stat
	}
	return stat
}
