package binary

// SymbolInfo is a per-symbol record extracted from an ELF symbol table.
//
// Address == 0 denotes an undefined (dynamically linked) symbol.
type SymbolInfo struct {
	Name      FunctionName
	Demangled string
	// Section is the owning section index, or -1 if the symbol has none.
	Section int
	Address uint64
	Size    uint64
}

// Undefined reports whether s refers to a dynamically-linked symbol with
// no address of its own in this binary.
func (s SymbolInfo) Undefined() bool {
	return s.Address == 0
}

// addrRange is a half-open address range [Start, End).
type addrRange struct {
	Start, End uint64
}

func (r addrRange) contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

// CallInstruction describes one call site inside a function.
type CallInstruction struct {
	// RelativeIP is the offset from the function's start address.
	RelativeIP uint32
	Length     uint32
	Instr      InstructionType
}

// InstructionType is the tagged choice describing what a CALL instruction
// targets.
type InstructionType interface {
	isInstructionType()
}

// CallFunction is a direct call to a known statically-linked symbol.
type CallFunction struct {
	Name FunctionName
}

// CallDynamicSymbol is a direct call through the Procedure Linkage Table.
type CallDynamicSymbol struct {
	Name FunctionName
}

// CallRegister is an indirect call through a register, with an optional
// memory displacement.
type CallRegister struct {
	Reg          string
	Displacement *int64
}

// CallManual is a user-provided offset/length call site, not discovered by
// disassembly.
type CallManual struct{}

// CallUnknown is a direct call whose target is not present in any symbol
// table.
type CallUnknown struct{}

func (CallFunction) isInstructionType()      {}
func (CallDynamicSymbol) isInstructionType() {}
func (CallRegister) isInstructionType()      {}
func (CallManual) isInstructionType()        {}
func (CallUnknown) isInstructionType()       {}
