package tracer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rubrikinc/wachy-go/internal/events"
)

func TestReadLoopDiscardsBannerAndSplitsObjects(t *testing.T) {
	bus := events.NewBus(4)
	sv := &Supervisor{bus: bus}
	sp := &spawn{counter: 42}

	input := "Attaching 3 probes...\n" +
		`{"time": 1, "lines": {"10": [100, 1]}}` + "\n" +
		`{"time": 2, "lines": {"10": [200, 2]}}` + "\n"

	sv.readLoop(strings.NewReader(input), sp)

	first := requireNextTraceData(t, bus)
	require.Equal(t, uint64(42), first.Info.Counter)
	require.Equal(t, float64(1), first.Info.Time)

	second := requireNextTraceData(t, bus)
	require.Equal(t, float64(2), second.Info.Time)
}

func TestReadLoopEscapesRawNewlinesInsideObject(t *testing.T) {
	bus := events.NewBus(4)
	sv := &Supervisor{bus: bus}
	sp := &spawn{counter: 1}

	// Simulates a histogram dump: print(@hist) emits raw newlines between
	// the opening and closing quote of the "histogram" field.
	input := "{\"time\": 1, \"histogram\": \"@hist: \n[1, 2) 1 |@|\n\"}\n"

	sv.readLoop(strings.NewReader(input), sp)

	data := requireNextTraceData(t, bus)
	require.Equal(t, events.KindHistogram, data.Info.Traces.Kind)
	require.Contains(t, data.Info.Traces.Histogram, "@hist")
}

func requireNextTraceData(t *testing.T, bus *events.Bus) events.TraceData {
	t.Helper()
	select {
	case ev := <-bus.Events():
		data, ok := ev.(events.TraceData)
		require.True(t, ok, "expected TraceData, got %T", ev)
		return data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for TraceData")
		return events.TraceData{}
	}
}
