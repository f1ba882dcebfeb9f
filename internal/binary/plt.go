package binary

import (
	"debug/elf"
	"encoding/binary"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/arch/x86/x86asm"
)

// loadPLT builds dynamicSymbolsRanges and dynamicSymbolsMap: the address
// ranges covered by the Procedure Linkage Table, and a mapping from each
// live PLT entry's address to the FunctionName it dispatches to.
//
// Algorithm (spec.md §4.1): build relocations (address -> name) by walking
// dynamic relocations; for every section whose name begins with ".plt",
// disassemble it and walk its JMP instructions; for each JMP, compute the
// absolute target and, if it matches a relocation, bind the JMP's own
// address to that name. Jumps that don't resolve (including PLT0's
// self-reference) are silently ignored.
func (p *Program) loadPLT() error {
	relocations, err := p.loadRelocations()
	if err != nil {
		return err
	}

	p.dynamicSymbolsMap = make(map[uint64]FunctionName)

	for _, sec := range p.elfFile.Sections {
		if !strings.HasPrefix(sec.Name, ".plt") {
			continue
		}
		if sec.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		p.dynamicSymbolsRanges = append(p.dynamicSymbolsRanges, addrRange{
			Start: sec.Addr,
			End:   sec.Addr + sec.Size,
		})

		code, err := sec.Data()
		if err != nil {
			logrus.WithError(err).WithField("section", sec.Name).Warn("binary: failed reading PLT section")
			continue
		}
		p.disassemblePLTSection(sec.Addr, code, relocations)
	}

	return nil
}

// loadRelocations walks every entry of the .rela.plt, .rela.dyn and
// .rel.plt sections (64-bit entry layouts; relocation types are not
// filtered) and returns a map from the patched GOT address to the
// FunctionName of the relocated symbol.
func (p *Program) loadRelocations() (map[uint64]FunctionName, error) {
	relocations := make(map[uint64]FunctionName)

	dynsyms, err := p.elfFile.DynamicSymbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, err
	}

	for _, sec := range p.elfFile.Sections {
		if sec.Name != ".rela.plt" && sec.Name != ".rela.dyn" && sec.Name != ".rel.plt" {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			continue
		}
		rela := strings.HasPrefix(sec.Name, ".rela")
		entrySize := 16
		if rela {
			entrySize = 24
		}
		for off := 0; off+entrySize <= len(data); off += entrySize {
			entry := data[off : off+entrySize]
			addr := binary.LittleEndian.Uint64(entry[0:8])
			info := binary.LittleEndian.Uint64(entry[8:16])
			symIndex := info >> 32
			if int(symIndex) >= len(dynsyms) || symIndex == 0 {
				continue
			}
			sym := dynsyms[symIndex-1]
			if sym.Name == "" {
				continue
			}
			name := demangleName(sym.Name)
			fn := Intern(sym.Name, name)
			if versioned := p.preferVersioned(sym.Name); !versioned.IsZero() {
				fn = versioned
			}
			relocations[addr] = fn
		}
	}

	return relocations, nil
}

// preferVersioned returns the interned FunctionName for the "@@"-suffixed
// versioned form of a symbol name, if one has already been loaded from
// the symbol tables into nameToSymbol, per spec.md's "prefer the versioned
// FunctionName" rule.
func (p *Program) preferVersioned(name string) FunctionName {
	for fn, info := range p.nameToSymbol {
		mangled := fn.String()
		if strings.HasPrefix(mangled, name+"@@") {
			_ = info
			return fn
		}
	}
	return FunctionName{}
}

// disassemblePLTSection walks JMP instructions in a .plt-prefixed section
// and binds each one whose RIP-relative target is a known relocation.
func (p *Program) disassemblePLTSection(base uint64, code []byte, relocations map[uint64]FunctionName) {
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 {
			off++
			continue
		}
		ip := base + uint64(off)
		if inst.Op == x86asm.JMP {
			if target, ok := jmpTarget(inst, ip); ok {
				if fn, ok := relocations[target]; ok {
					p.dynamicSymbolsMap[ip] = fn
				}
				// Targets with no matching relocation (PLT0's jump into
				// the dynamic linker) are silently ignored.
			}
		}
		off += inst.Len
	}
}

// jmpTarget computes the absolute address a JMP instruction's memory
// operand refers to, for the common PLT idiom "jmp *disp(%rip)" or
// "jmp *disp(%reg)" (non-RIP bases resolve to no target: they depend on
// runtime register contents, which a static disassembly can't know).
func jmpTarget(inst x86asm.Inst, ip uint64) (uint64, bool) {
	if len(inst.Args) == 0 || inst.Args[0] == nil {
		return 0, false
	}
	mem, ok := inst.Args[0].(x86asm.Mem)
	if !ok {
		return 0, false
	}
	if mem.Base != x86asm.RIP {
		return 0, false
	}
	next := ip + uint64(inst.Len)
	return uint64(int64(next) + mem.Disp), true
}
