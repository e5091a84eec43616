package disasm

import (
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// Class is the set of analysis-relevant properties of one instruction.
type Class uint8

const (
	ClassCall Class = 1 << iota
	ClassRet
	ClassRead
	ClassWrite
)

// Has reports whether every bit of f is set.
func (c Class) Has(f Class) bool { return c&f == f }

func (c Class) String() string {
	if c == 0 {
		return "-"
	}
	var parts []string
	if c.Has(ClassCall) {
		parts = append(parts, "call")
	}
	if c.Has(ClassRet) {
		parts = append(parts, "ret")
	}
	if c.Has(ClassRead) {
		parts = append(parts, "read")
	}
	if c.Has(ClassWrite) {
		parts = append(parts, "write")
	}
	return strings.Join(parts, "|")
}

// arm64RMW lists mnemonic prefixes of single-copy atomic read-modify-write
// instructions. The ST* forms are aliases that discard the loaded value.
var arm64RMW = []string{
	"LDADD", "LDCLR", "LDEOR", "LDSET", "LDSMAX", "LDSMIN", "LDUMAX", "LDUMIN",
	"STADD", "STCLR", "STEOR", "STSET", "STSMAX", "STSMIN", "STUMAX", "STUMIN",
	"SWP", "CAS",
}

// classifyARM64 reports the memory accesses of a decoded ARM64 instruction.
// Calls and returns come from classifyARM64Raw.
func classifyARM64(inst arm64asm.Inst) Class {
	name := inst.Op.String()
	if strings.HasPrefix(name, "PRF") {
		return 0
	}

	mem, literal := false, false
	for _, arg := range inst.Args {
		switch arg.(type) {
		case arm64asm.MemImmediate, arm64asm.MemExtend:
			mem = true
		case arm64asm.PCRel:
			literal = true
		}
	}
	if literal && strings.HasPrefix(name, "LD") {
		// LDR (literal) reads from a PC-relative address.
		return ClassRead
	}
	if !mem {
		return 0
	}

	for _, p := range arm64RMW {
		if strings.HasPrefix(name, p) {
			return ClassRead | ClassWrite
		}
	}
	switch {
	case strings.HasPrefix(name, "LD"):
		return ClassRead
	case strings.HasPrefix(name, "ST"):
		return ClassWrite
	}
	return 0
}

// amd64WriteOnly lists ops whose memory destination is written without
// being read first.
var amd64WriteOnly = map[string]bool{
	"MOV": true, "MOVAPS": true, "MOVAPD": true, "MOVUPS": true, "MOVUPD": true,
	"MOVDQA": true, "MOVDQU": true, "MOVQ": true, "MOVD": true, "MOVSS": true,
	"MOVSD_XMM": true, "MOVNTI": true, "MOVNTDQ": true, "MOVNTPS": true,
	"MOVLPS": true, "MOVHPS": true, "MOVBE": true, "POP": true,
}

// amd64ReadOnly lists ops that only read their memory operand, including
// when it is the first operand.
var amd64ReadOnly = map[string]bool{
	"CMP": true, "TEST": true, "PUSH": true, "CALL": true, "JMP": true,
	"BT": true, "UCOMISS": true, "UCOMISD": true, "COMISS": true, "COMISD": true,
}

// amd64Stack maps ops with implicit stack traffic to the access they make
// through the stack pointer.
var amd64Stack = map[string]Class{
	"PUSH": ClassWrite, "PUSHF": ClassWrite, "PUSHFQ": ClassWrite, "ENTER": ClassWrite,
	"CALL": ClassWrite, "LCALL": ClassWrite,
	"POP": ClassRead, "POPF": ClassRead, "POPFQ": ClassRead, "LEAVE": ClassRead,
	"RET": ClassRead, "LRET": ClassRead,
}

// amd64String maps string ops to their accesses through RSI and RDI.
var amd64String = map[string]Class{
	"STOSB": ClassWrite, "STOSW": ClassWrite, "STOSD": ClassWrite, "STOSQ": ClassWrite,
	"LODSB": ClassRead, "LODSW": ClassRead, "LODSD": ClassRead, "LODSQ": ClassRead,
	"SCASB": ClassRead, "SCASW": ClassRead, "SCASD": ClassRead, "SCASQ": ClassRead,
	"CMPSB": ClassRead, "CMPSW": ClassRead, "CMPSD": ClassRead, "CMPSQ": ClassRead,
	"MOVSB": ClassRead | ClassWrite, "MOVSW": ClassRead | ClassWrite,
	"MOVSD": ClassRead | ClassWrite, "MOVSQ": ClassRead | ClassWrite,
}

// classifyAMD64 classifies a decoded x86-64 instruction. Stack traffic from
// CALL, RET, PUSH and POP counts as an access, as do the RSI/RDI operands of
// string ops.
func classifyAMD64(inst x86asm.Inst) Class {
	var c Class
	switch inst.Op {
	case x86asm.CALL, x86asm.LCALL:
		c |= ClassCall
	case x86asm.RET, x86asm.LRET:
		c |= ClassRet
	case x86asm.LEA, x86asm.NOP:
		return c
	}

	name := inst.Op.String()
	if strings.HasPrefix(name, "PREFETCH") {
		return c
	}
	c |= amd64Stack[name]
	if sc, ok := amd64String[name]; ok {
		return c | sc
	}

	for i, arg := range inst.Args {
		if arg == nil {
			break
		}
		if _, ok := arg.(x86asm.Mem); !ok {
			continue
		}
		if i > 0 {
			c |= ClassRead
			continue
		}
		switch {
		case amd64ReadOnly[name]:
			c |= ClassRead
		case amd64WriteOnly[name], strings.HasPrefix(name, "SET"):
			c |= ClassWrite
		default:
			c |= ClassRead | ClassWrite
		}
	}
	return c
}
