package binary

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Disassembly is the immutable result of disassembling one function: every
// CALL instruction found in its byte range, partitioned by whether its
// call-site source line belongs to the function's own declared file.
type Disassembly struct {
	// LineToCallsites maps a source line to the call instructions found on
	// that line (only those whose debug-info file equals SourceFile). Calls
	// with no debug info at all are filed under SourceLine when it is known.
	LineToCallsites map[int][]CallInstruction
	// Unattached holds call instructions whose debug-info file differs
	// from SourceFile (typically inlined calls), and calls with no debug
	// info when SourceLine is unknown.
	Unattached []CallInstruction
	// SourceFile and SourceLine describe the function's own declared
	// location, when known.
	SourceFile string
	SourceLine int
}

// Disassemble iterates CALL instructions in fn's byte range and classifies
// each one's target, per spec.md §4.1.
func (p *Program) Disassemble(fn FunctionName) (*Disassembly, error) {
	start, code, err := p.GetData(fn)
	if err != nil {
		return nil, err
	}

	d := &Disassembly{
		LineToCallsites: make(map[int][]CallInstruction),
	}
	if file, line, ok := p.GetLocation(start); ok {
		d.SourceFile, d.SourceLine = file, line
	}

	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 {
			off++
			continue
		}
		if inst.Op != x86asm.CALL {
			off += inst.Len
			continue
		}

		ip := start + uint64(off)
		ci := CallInstruction{
			RelativeIP: uint32(off),
			Length:     uint32(inst.Len),
			Instr:      p.classifyCall(inst, ip),
		}

		file, line, ok := p.GetLocation(ip)
		switch {
		case !ok:
			// No debug info for this instruction: treat it as belonging
			// to the enclosing function's own line, matching the
			// fail-soft posture of the source-line handle.
			if d.SourceLine != 0 {
				d.LineToCallsites[d.SourceLine] = append(d.LineToCallsites[d.SourceLine], ci)
			} else {
				d.Unattached = append(d.Unattached, ci)
			}
		case file == d.SourceFile:
			d.LineToCallsites[line] = append(d.LineToCallsites[line], ci)
		default:
			d.Unattached = append(d.Unattached, ci)
		}

		off += inst.Len
	}

	return d, nil
}

// classifyCall resolves a CALL instruction's operand 0 into an
// InstructionType, per spec.md §4.1's classification algorithm.
func (p *Program) classifyCall(inst x86asm.Inst, ip uint64) InstructionType {
	if len(inst.Args) == 0 || inst.Args[0] == nil {
		return CallUnknown{}
	}

	switch arg := inst.Args[0].(type) {
	case x86asm.Rel:
		target := uint64(int64(ip) + int64(inst.Len) + int64(arg))
		return p.classifyDirectTarget(target)

	case x86asm.Mem:
		if arg.Base == 0 && arg.Index == 0 {
			// Absolute target encoded as a memory operand with no base
			// register: still "direct" per spec (no register, no
			// memory-base register). RIP-based operands have RIP as
			// their base and are classified as CallRegister below.
			var target uint64
			if arg.Disp >= 0 {
				target = uint64(arg.Disp)
			}
			return p.classifyDirectTarget(target)
		}
		name := x86asm.Reg(arg.Base).String()
		if arg.Base == x86asm.RIP {
			name = "rip"
		}
		disp := arg.Disp
		return CallRegister{Reg: name, Displacement: &disp}

	case x86asm.Reg:
		return CallRegister{Reg: arg.String()}

	default:
		return CallUnknown{}
	}
}

func (p *Program) classifyDirectTarget(target uint64) InstructionType {
	if p.IsDynamicSymbolAddress(target) {
		if fn, ok := p.GetFunctionForAddress(target); ok {
			return CallDynamicSymbol{Name: fn}
		}
		return CallUnknown{}
	}
	if fn, ok := p.GetFunctionForAddress(target); ok {
		return CallFunction{Name: fn}
	}
	return CallUnknown{}
}

// FormatCall renders an InstructionType for diagnostics/logging.
func FormatCall(instr InstructionType) string {
	switch v := instr.(type) {
	case CallFunction:
		return fmt.Sprintf("call %s", v.Name.Demangled())
	case CallDynamicSymbol:
		return fmt.Sprintf("call %s@plt", v.Name.Demangled())
	case CallRegister:
		if v.Displacement != nil {
			return fmt.Sprintf("call [%s%+d]", v.Reg, *v.Displacement)
		}
		return fmt.Sprintf("call %s", v.Reg)
	case CallManual:
		return "call <manual>"
	case CallUnknown:
		return "call <unknown>"
	default:
		return "call ?"
	}
}
