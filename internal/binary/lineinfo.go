package binary

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// lineTable is an address-sorted index over every DWARF line-table entry
// in a binary's compile units, supporting address -> (file, line) lookup.
//
// Built once at Open and never mutated afterwards.
type lineTable struct {
	entries []lineEntry
}

type lineEntry struct {
	Address uint64
	File    string
	Line    int
}

// newLineTable builds a lineTable from f's DWARF data, falling back to the
// GNU debuglink file referenced by f when f itself lacks .debug_line.
func newLineTable(f *elf.File, path string) (*lineTable, error) {
	d, err := f.DWARF()
	if err != nil || !hasLineSection(f) {
		if dbg, derr := openDebuglink(f, path); derr == nil && dbg != nil {
			defer dbg.Close()
			if d2, err2 := dbg.DWARF(); err2 == nil {
				d = d2
				err = nil
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("no DWARF data: %w", err)
	}

	lt := &lineTable{}
	r := d.Reader()
	for {
		entry, rerr := r.Next()
		if rerr != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		lr, lerr := d.LineReader(entry)
		if lerr != nil || lr == nil {
			continue
		}
		var le dwarf.LineEntry
		for {
			nerr := lr.Next(&le)
			if errors.Is(nerr, io.EOF) {
				break
			}
			if nerr != nil {
				break
			}
			if le.File == nil {
				continue
			}
			lt.entries = append(lt.entries, lineEntry{
				Address: le.Address,
				File:    le.File.Name,
				Line:    le.Line,
			})
		}
		r.SkipChildren()
	}

	sort.Slice(lt.entries, func(i, j int) bool { return lt.entries[i].Address < lt.entries[j].Address })

	if len(lt.entries) == 0 {
		return nil, fmt.Errorf("DWARF line program produced no entries")
	}
	return lt, nil
}

func hasLineSection(f *elf.File) bool {
	return f.Section(".debug_line") != nil
}

// Lookup returns the (file, line) of the last entry at or below address,
// or ok=false if address precedes every entry. Sequence ends are not
// checked: an address past the end of a line sequence resolves to the
// entry before it.
func (lt *lineTable) Lookup(address uint64) (string, int, bool) {
	i := sort.Search(len(lt.entries), func(i int) bool { return lt.entries[i].Address > address })
	if i == 0 {
		return "", 0, false
	}
	e := lt.entries[i-1]
	return e.File, e.Line, true
}

// openDebuglink reads the GNU debuglink section of f, if present, and
// attempts to open the referenced debug file alongside the binary.
// CRC32 mismatches are ignored per spec.md §3.
func openDebuglink(f *elf.File, path string) (*elf.File, error) {
	sec := f.Section(".gnu_debuglink")
	if sec == nil {
		return nil, fmt.Errorf("no .gnu_debuglink section")
	}
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}

	nul := 0
	for nul < len(data) && data[nul] != 0 {
		nul++
	}
	name := string(data[:nul])
	if name == "" {
		return nil, fmt.Errorf("empty debuglink name")
	}

	candidates := []string{
		filepath.Join(filepath.Dir(path), name),
		filepath.Join("/usr/lib/debug", filepath.Dir(path), name),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err != nil {
			continue
		}
		dbg, err := elf.Open(c)
		if err != nil {
			logrus.WithError(err).WithField("path", c).Warn("binary: debuglink candidate failed to open")
			continue
		}
		return dbg, nil
	}
	return nil, fmt.Errorf("debuglink %q not found near %s", name, path)
}
