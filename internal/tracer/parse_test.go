package tracer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rubrikinc/wachy-go/internal/events"
)

func TestParseSampleLines(t *testing.T) {
	raw := []byte(`{"time": 3, "lines": {"10": [1500, 3], "12": [200, 1]}}`)
	data, err := parseSample(raw, 7)
	require.NoError(t, err)

	require.Equal(t, uint64(7), data.Info.Counter)
	require.Equal(t, float64(3), data.Info.Time)
	require.Equal(t, events.KindLines, data.Info.Traces.Kind)
	require.Equal(t, events.LineStat{DurationNanos: 1500, Count: 3}, data.Info.Traces.Lines[10])
	require.Equal(t, events.LineStat{DurationNanos: 200, Count: 1}, data.Info.Traces.Lines[12])
}

func TestParseSampleHistogram(t *testing.T) {
	raw := []byte(`{"time": 1, "histogram": "@hist: \n[1, 2)   3 |@@@|\n"}`)
	data, err := parseSample(raw, 0)
	require.NoError(t, err)

	require.Equal(t, events.KindHistogram, data.Info.Traces.Kind)
	require.Contains(t, data.Info.Traces.Histogram, "@hist")
}

func TestParseSampleBreakdown(t *testing.T) {
	raw := []byte(`{"time": 2, "breakdown": {"last_frame": [500, 5], "0": [100, 2], "1": [50, 1]}}`)
	data, err := parseSample(raw, 3)
	require.NoError(t, err)

	require.Equal(t, events.KindBreakdown, data.Info.Traces.Kind)
	require.Equal(t, events.LineStat{DurationNanos: 500, Count: 5}, data.Info.Traces.Breakdown.LastFrame)
	require.Equal(t, []events.LineStat{
		{DurationNanos: 100, Count: 2},
		{DurationNanos: 50, Count: 1},
	}, data.Info.Traces.Breakdown.PerFunc)
}

func TestParseSampleInvalidJSON(t *testing.T) {
	_, err := parseSample([]byte(`{not json`), 0)
	require.Error(t, err)
}
