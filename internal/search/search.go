// Package search runs fuzzy symbol lookups for the UI's search dialogs on
// a dedicated goroutine, so a burst of keystrokes never blocks rendering
// and a stale query never overwrites a fresher one.
package search

import (
	"sort"
	"sync/atomic"

	"github.com/sahilm/fuzzy"

	"github.com/rubrikinc/wachy-go/internal/binary"
	"github.com/rubrikinc/wachy-go/internal/events"
)

// batchSize bounds how many items are ranked between cancellation checks.
const batchSize = 32

type commandKind int

const (
	cmdSetItems commandKind = iota
	cmdSearch
	cmdExit
)

type command struct {
	kind    commandKind
	view    string
	query   string
	items   []binary.FunctionName
	counter uint64
}

// Searcher owns one item list per named view (e.g. "functions", "files")
// and answers fuzzy queries against it.
type Searcher struct {
	cmds    chan command
	bus     *events.Bus
	counter atomic.Uint64
}

// NewSearcher starts a Searcher's goroutine, sending events.SearchResults
// to bus as queries complete.
func NewSearcher(bus *events.Bus) *Searcher {
	s := &Searcher{cmds: make(chan command, 16), bus: bus}
	go s.loop()
	return s
}

// SetFixedItems replaces the item list for view. Any in-flight search
// against the old list is superseded.
func (s *Searcher) SetFixedItems(view string, items []binary.FunctionName) {
	c := s.counter.Add(1)
	s.cmds <- command{kind: cmdSetItems, view: view, items: items, counter: c}
}

// Search ranks query against view's current item list, asynchronously.
func (s *Searcher) Search(view, query string) {
	c := s.counter.Add(1)
	s.cmds <- command{kind: cmdSearch, view: view, query: query, counter: c}
}

// SetEmptySearchResults immediately reports no results for view, e.g. when
// the query box is cleared — a degenerate case not worth dispatching to
// the ranking goroutine.
func (s *Searcher) SetEmptySearchResults(view string) {
	c := s.counter.Add(1)
	s.bus.TrySend(events.SearchResults{Counter: c, View: view})
}

// Exit stops the Searcher's goroutine.
func (s *Searcher) Exit() {
	s.cmds <- command{kind: cmdExit}
}

func (s *Searcher) loop() {
	items := make(map[string][]binary.FunctionName)
	for cmd := range s.cmds {
		switch cmd.kind {
		case cmdExit:
			return

		case cmdSetItems:
			items[cmd.view] = cmd.items

		case cmdSearch:
			if s.counter.Load() != cmd.counter {
				continue // superseded before ranking even began
			}
			results := s.rank(cmd.query, items[cmd.view], cmd.counter)
			if results == nil && cmd.query != "" {
				continue // cancelled mid-rank
			}
			s.bus.TrySend(events.SearchResults{Counter: cmd.counter, View: cmd.view, Results: results})
		}
	}
}

// rank fuzzy-matches query against items in batches of batchSize,
// checking after each batch whether a newer request has superseded
// counter — if so it returns nil without finishing, so a query against a
// large symbol table never blocks a fresher one queued behind it. Ties
// are broken in favor of the shorter (more likely to be the intended)
// label.
func (s *Searcher) rank(query string, items []binary.FunctionName, counter uint64) []events.SearchResult {
	if query == "" {
		return []events.SearchResult{}
	}

	names := make([]string, len(items))
	for i, fn := range items {
		names[i] = fn.Demangled()
	}

	var all fuzzy.Matches
	for start := 0; start < len(names); start += batchSize {
		if s.counter.Load() != counter {
			return nil
		}
		end := start + batchSize
		if end > len(names) {
			end = len(names)
		}
		batch := fuzzy.Find(query, names[start:end])
		for i := range batch {
			batch[i].Index += start
		}
		all = append(all, batch...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return len(names[all[i].Index]) < len(names[all[j].Index])
	})

	results := make([]events.SearchResult, len(all))
	for i, m := range all {
		results[i] = events.SearchResult{Name: items[m.Index], Score: m.Score}
	}
	return results
}
