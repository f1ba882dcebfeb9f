package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rubrikinc/wachy-go/internal/binary"
	"github.com/rubrikinc/wachy-go/internal/events"
)

func waitResults(t *testing.T, bus *events.Bus) events.SearchResults {
	t.Helper()
	select {
	case ev := <-bus.Events():
		res, ok := ev.(events.SearchResults)
		require.True(t, ok, "expected SearchResults, got %T", ev)
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SearchResults")
		return events.SearchResults{}
	}
}

func TestSearchRanksMatches(t *testing.T) {
	bus := events.NewBus(4)
	s := NewSearcher(bus)
	defer s.Exit()

	items := []binary.FunctionName{
		binary.Intern("process_request", "process_request"),
		binary.Intern("process", "process"),
		binary.Intern("unrelated_symbol", "unrelated_symbol"),
	}
	s.SetFixedItems("functions", items)
	s.Search("functions", "process")

	res := waitResults(t, bus)
	require.Equal(t, "functions", res.View)
	require.NotEmpty(t, res.Results)
	// The shorter "process" must rank first, whether by fuzzy score or,
	// on a tied score, by the shorter-label tie-break.
	require.Equal(t, "process", res.Results[0].Name.Demangled())
}

func TestSearchEmptyQueryReturnsEmptyResults(t *testing.T) {
	bus := events.NewBus(4)
	s := NewSearcher(bus)
	defer s.Exit()

	s.SetFixedItems("functions", []binary.FunctionName{binary.Intern("foo", "foo")})
	s.Search("functions", "")

	res := waitResults(t, bus)
	require.Empty(t, res.Results)
}

func TestSetEmptySearchResultsIsImmediate(t *testing.T) {
	bus := events.NewBus(4)
	s := NewSearcher(bus)
	defer s.Exit()

	s.SetEmptySearchResults("functions")

	res := waitResults(t, bus)
	require.Equal(t, "functions", res.View)
	require.Empty(t, res.Results)
}
