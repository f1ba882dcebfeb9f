package binary

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

func TestJmpTargetRIPRelative(t *testing.T) {
	inst := x86asm.Inst{
		Len: 6,
		Op:  x86asm.JMP,
		Args: x86asm.Args{
			x86asm.Mem{Base: x86asm.RIP, Disp: 0x200a},
		},
	}

	target, ok := jmpTarget(inst, 0x1000)
	if !ok {
		t.Fatalf("expected jmpTarget to resolve a RIP-relative operand")
	}
	want := uint64(0x1000+6) + 0x200a
	if target != want {
		t.Errorf("target = %#x, want %#x", target, want)
	}
}

func TestJmpTargetNonRIPBaseUnresolved(t *testing.T) {
	inst := x86asm.Inst{
		Len: 2,
		Op:  x86asm.JMP,
		Args: x86asm.Args{
			x86asm.Mem{Base: x86asm.RAX, Disp: 0x10},
		},
	}
	if _, ok := jmpTarget(inst, 0x1000); ok {
		t.Errorf("jmpTarget should not resolve a register-based indirect jump")
	}
}

func TestJmpTargetNoOperand(t *testing.T) {
	inst := x86asm.Inst{Len: 2, Op: x86asm.JMP}
	if _, ok := jmpTarget(inst, 0x1000); ok {
		t.Errorf("jmpTarget should not resolve an instruction with no memory operand")
	}
}

func TestIsDynamicSymbolAddressRanges(t *testing.T) {
	p := &Program{
		dynamicSymbolsRanges: []addrRange{{Start: 0x1000, End: 0x1020}},
		dynamicSymbolsMap:    map[uint64]FunctionName{0x1010: Intern("puts", "puts")},
	}

	if !p.IsDynamicSymbolAddress(0x1010) {
		t.Errorf("expected 0x1010 to be within the PLT range")
	}
	if p.IsDynamicSymbolAddress(0x1020) {
		t.Errorf("0x1020 is the exclusive end of the range and should not match")
	}
	if p.IsDynamicSymbolAddress(0xffff) {
		t.Errorf("unrelated address should not match the PLT range")
	}
}

func TestGetFunctionForAddressPrefersPLT(t *testing.T) {
	dynFn := Intern("malloc@plt-target", "malloc")
	regFn := Intern("my_func", "my_func")

	p := &Program{
		dynamicSymbolsRanges: []addrRange{{Start: 0x2000, End: 0x2010}},
		dynamicSymbolsMap:    map[uint64]FunctionName{0x2000: dynFn},
		addressToName:        map[uint64]FunctionName{0x3000: regFn},
	}

	if fn, ok := p.GetFunctionForAddress(0x2000); !ok || fn != dynFn {
		t.Errorf("expected PLT lookup to resolve to dynFn")
	}
	if fn, ok := p.GetFunctionForAddress(0x3000); !ok || fn != regFn {
		t.Errorf("expected regular lookup to resolve to regFn")
	}
	if _, ok := p.GetFunctionForAddress(0x9999); ok {
		t.Errorf("unknown address should not resolve")
	}
}
