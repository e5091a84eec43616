package disasm

// ARM64 call and return detection from raw 32-bit encoding.

// BranchInfo describes a decoded call or return instruction.
type BranchInfo struct {
	Target uint64 // absolute target address (0 if RET or BLR)
	Reg    int    // register operand for BLR/RET, -1 for BL
	IsCall bool
	IsRet  bool
}

// DecodeBranch attempts to decode a call or return from raw encoding at the given PC.
// Returns nil for every other instruction, including plain B and conditional branches.
func DecodeBranch(raw uint32, pc uint64) *BranchInfo {
	// RET (0xD65F03C0 exactly, or RET Xn = 0xD65F0000 | Rn<<5)
	if raw&0xFFFFFC1F == 0xD65F0000 {
		return &BranchInfo{Reg: int((raw >> 5) & 0x1F), IsRet: true}
	}

	// BL: 1 | 00101 | imm26
	if raw&0xFC000000 == 0x94000000 {
		imm26 := raw & 0x03FFFFFF
		offset := signExtend(imm26, 26) * 4
		return &BranchInfo{Target: uint64(int64(pc) + int64(offset)), Reg: -1, IsCall: true}
	}

	// BLR: 1101011 | 0 | 0 | 01 | 11111 | 0000 | 0 | 0 | Rn | 00000
	if raw&0xFFFFFC1F == 0xD63F0000 {
		return &BranchInfo{Reg: int((raw >> 5) & 0x1F), IsCall: true}
	}

	return nil
}

// signExtend sign-extends a value from the given bit width to int32.
func signExtend(val uint32, bits int) int32 {
	sign := uint32(1) << (bits - 1)
	mask := sign - 1
	if val&sign != 0 {
		return int32(val | ^mask) // negative
	}
	return int32(val & mask)
}

func classifyARM64Raw(raw uint32) Class {
	bi := DecodeBranch(raw, 0)
	switch {
	case bi == nil:
		return 0
	case bi.IsCall:
		return ClassCall
	case bi.IsRet:
		return ClassRet
	}
	return 0
}
