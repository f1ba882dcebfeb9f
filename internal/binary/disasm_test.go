package binary

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

func newTestProgram() *Program {
	return &Program{
		nameToSymbol:  make(map[FunctionName]SymbolInfo),
		addressToName: make(map[uint64]FunctionName),
	}
}

func TestClassifyCallDirectKnownFunction(t *testing.T) {
	p := newTestProgram()
	target := Intern("bar", "bar")
	p.addressToName[0x2000] = target

	inst := x86asm.Inst{
		Len:  5,
		Args: x86asm.Args{x86asm.Rel(0x2000 - 0x1000 - 5)},
	}

	got := p.classifyCall(inst, 0x1000)
	call, ok := got.(CallFunction)
	if !ok || call.Name != target {
		t.Fatalf("classifyCall = %#v, want CallFunction{bar}", got)
	}
}

func TestClassifyCallDirectUnknown(t *testing.T) {
	p := newTestProgram()
	inst := x86asm.Inst{
		Len:  5,
		Args: x86asm.Args{x86asm.Rel(0x500)},
	}
	if _, ok := p.classifyCall(inst, 0x1000).(CallUnknown); !ok {
		t.Fatalf("expected CallUnknown for an unresolved direct target")
	}
}

func TestClassifyCallDynamicSymbol(t *testing.T) {
	p := newTestProgram()
	fn := Intern("printf@plt", "printf")
	p.dynamicSymbolsRanges = []addrRange{{Start: 0x4000, End: 0x4010}}
	p.dynamicSymbolsMap = map[uint64]FunctionName{0x4000: fn}

	inst := x86asm.Inst{
		Len:  5,
		Args: x86asm.Args{x86asm.Rel(0x4000 - 0x1000 - 5)},
	}
	got := p.classifyCall(inst, 0x1000)
	call, ok := got.(CallDynamicSymbol)
	if !ok || call.Name != fn {
		t.Fatalf("classifyCall = %#v, want CallDynamicSymbol{printf}", got)
	}
}

func TestClassifyCallRegisterIndirect(t *testing.T) {
	p := newTestProgram()
	inst := x86asm.Inst{
		Len:  2,
		Args: x86asm.Args{x86asm.RAX},
	}
	call, ok := p.classifyCall(inst, 0x1000).(CallRegister)
	if !ok {
		t.Fatalf("expected CallRegister")
	}
	if call.Displacement != nil {
		t.Errorf("plain register call should carry no displacement")
	}
}

func TestClassifyCallRegisterWithDisplacement(t *testing.T) {
	p := newTestProgram()
	inst := x86asm.Inst{
		Len:  3,
		Args: x86asm.Args{x86asm.Mem{Base: x86asm.RAX, Disp: 0x18}},
	}
	call, ok := p.classifyCall(inst, 0x1000).(CallRegister)
	if !ok {
		t.Fatalf("expected CallRegister")
	}
	if call.Displacement == nil || *call.Displacement != 0x18 {
		t.Errorf("expected displacement 0x18, got %#v", call.Displacement)
	}
}
