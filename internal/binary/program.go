package binary

import (
	"debug/elf"
	"fmt"
	"sort"
	"strings"

	"github.com/ianlancetaylor/demangle"
	"github.com/sirupsen/logrus"
)

// Program is the parsed model of one on-disk ELF executable. Its symbol
// tables, PLT map, and line-info handle are built once at Open and then
// treated as immutable for the life of the process.
type Program struct {
	// Path is the canonicalized path used to open the binary, kept around
	// for display and for the uprobe target (`uprobe:<path>:...`).
	Path string

	elfFile *elf.File

	nameToSymbol  map[FunctionName]SymbolInfo
	addressToName map[uint64]FunctionName

	lines *lineTable

	dynamicSymbolsRanges []addrRange
	dynamicSymbolsMap    map[uint64]FunctionName
}

// Open parses the ELF binary at path and builds its symbol, PLT, and
// source-line tables. The returned Program keeps path's underlying file
// open for the remainder of the process.
func Open(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	p := &Program{
		Path:          path,
		elfFile:       f,
		nameToSymbol:  make(map[FunctionName]SymbolInfo),
		addressToName: make(map[uint64]FunctionName),
	}

	if err := p.loadSymbols(); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading symbols of %s: %w", path, err)
	}

	if err := p.loadPLT(); err != nil {
		f.Close()
		return nil, fmt.Errorf("mapping PLT of %s: %w", path, err)
	}

	lines, err := newLineTable(f, path)
	if err != nil {
		// Fail-soft: a binary with no usable debug info still opens; line
		// lookups just return ("", 0, false) from then on.
		logrus.WithError(err).Warn("binary: no usable source-line information")
	}
	p.lines = lines

	return p, nil
}

func (p *Program) loadSymbols() error {
	addSymbols := func(syms []elf.Symbol) {
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
				continue
			}
			name := demangleName(s.Name)
			fn := Intern(s.Name, name)
			section := -1
			if int(s.Section) < len(p.elfFile.Sections) {
				section = int(s.Section)
			}
			info := SymbolInfo{
				Name:      fn,
				Demangled: name,
				Section:   section,
				Address:   s.Value,
				Size:      s.Size,
			}
			p.nameToSymbol[fn] = info
			if s.Value != 0 {
				p.addressToName[s.Value] = fn
			}
		}
	}

	if syms, err := p.elfFile.Symbols(); err == nil {
		addSymbols(syms)
	} else if err != elf.ErrNoSymbols {
		return err
	}

	if dynsyms, err := p.elfFile.DynamicSymbols(); err == nil {
		addSymbols(dynsyms)
	} else if err != elf.ErrNoSymbols {
		return err
	}

	return nil
}

// demangleName returns a best-effort demangled display name for a mangled
// linker symbol, falling back to the mangled name untouched when it isn't
// a recognized mangling scheme.
func demangleName(mangled string) string {
	if out, err := demangle.ToString(mangled, demangle.NoParams); err == nil {
		return out
	}
	return mangled
}

// GetMatches implements the symbol-search contract: an exact demangled-name
// match wins outright; otherwise every symbol whose demangled name
// contains query is returned.
func (p *Program) GetMatches(query string) []SymbolInfo {
	var exact *SymbolInfo
	var contains []SymbolInfo

	// Stable order: iterate the symbol map sorted by mangled name so
	// repeated calls are reproducible.
	names := make([]FunctionName, 0, len(p.nameToSymbol))
	for fn := range p.nameToSymbol {
		names = append(names, fn)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].String() < names[j].String() })

	for _, fn := range names {
		info := p.nameToSymbol[fn]
		if info.Demangled == query {
			v := info
			exact = &v
			break
		}
		if strings.Contains(info.Demangled, query) {
			contains = append(contains, info)
		}
	}

	if exact != nil {
		return []SymbolInfo{*exact}
	}
	return contains
}

// ListFunctions returns every defined (non-dynamic) function symbol, in a
// deterministic order, for seeding the search dialog's fixed item list.
func (p *Program) ListFunctions() []FunctionName {
	names := make([]FunctionName, 0, len(p.nameToSymbol))
	for fn, info := range p.nameToSymbol {
		if info.Undefined() {
			continue
		}
		names = append(names, fn)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].String() < names[j].String() })
	return names
}

// GetAddress returns the address of fn, if fn is present in the symbol
// table.
func (p *Program) GetAddress(fn FunctionName) (uint64, bool) {
	info, ok := p.nameToSymbol[fn]
	if !ok {
		return 0, false
	}
	return info.Address, true
}

// GetLocation returns the source file and line for address, if both are
// known.
func (p *Program) GetLocation(address uint64) (file string, line int, ok bool) {
	if p.lines == nil {
		return "", 0, false
	}
	return p.lines.Lookup(address)
}

// GetData returns the start address and code bytes for fn. Fails for
// dynamically-linked (undefined) symbols, which have no bytes of their
// own in this binary.
func (p *Program) GetData(fn FunctionName) (uint64, []byte, error) {
	info, ok := p.nameToSymbol[fn]
	if !ok {
		return 0, nil, fmt.Errorf("unknown function %q", fn.Demangled())
	}
	if info.Undefined() {
		return 0, nil, fmt.Errorf("%q is a dynamically-linked symbol, no code in this binary", fn.Demangled())
	}
	if info.Section < 0 || info.Section >= len(p.elfFile.Sections) {
		return 0, nil, fmt.Errorf("%q has no owning section", fn.Demangled())
	}
	sec := p.elfFile.Sections[info.Section]
	data, err := sec.Data()
	if err != nil {
		return 0, nil, fmt.Errorf("reading section %s: %w", sec.Name, err)
	}
	start := info.Address - sec.Addr
	if start > uint64(len(data)) {
		return 0, nil, fmt.Errorf("%q: address out of section bounds", fn.Demangled())
	}
	end := start + info.Size
	if info.Size == 0 || end > uint64(len(data)) {
		end = uint64(len(data))
	}
	return info.Address, data[start:end], nil
}

// GetFunctionForAddress resolves address to a FunctionName, consulting the
// PLT map first when address falls in a PLT range, then the regular
// address-to-name table.
func (p *Program) GetFunctionForAddress(address uint64) (FunctionName, bool) {
	if p.IsDynamicSymbolAddress(address) {
		fn, ok := p.dynamicSymbolsMap[address]
		return fn, ok
	}
	fn, ok := p.addressToName[address]
	return fn, ok
}

// IsDynamicSymbolAddress reports whether address falls within a PLT
// section.
func (p *Program) IsDynamicSymbolAddress(address uint64) bool {
	for _, r := range p.dynamicSymbolsRanges {
		if r.contains(address) {
			return true
		}
	}
	return false
}

// Close releases the underlying file handle. cmd/wachy calls it once, when
// the session ends, so the parsed binary stays open for the whole session.
func (p *Program) Close() error {
	return p.elfFile.Close()
}
