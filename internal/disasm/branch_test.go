package disasm

import "testing"

func TestDecodeBranch_RET(t *testing.T) {
	// RET (X30) = 0xD65F03C0
	bi := DecodeBranch(0xD65F03C0, 0x1000)
	if bi == nil {
		t.Fatal("expected RET")
	}
	if !bi.IsRet || bi.IsCall {
		t.Errorf("IsRet=%v IsCall=%v", bi.IsRet, bi.IsCall)
	}
	if bi.Reg != 30 {
		t.Errorf("reg = %d, want 30", bi.Reg)
	}
}

func TestDecodeBranch_BL(t *testing.T) {
	// BL #0x100 at PC=0x1000 → target=0x1100
	raw := uint32(0x94000000 | 0x40)
	bi := DecodeBranch(raw, 0x1000)
	if bi == nil || !bi.IsCall {
		t.Fatal("expected BL")
	}
	if bi.Target != 0x1100 {
		t.Errorf("target = 0x%x, want 0x1100", bi.Target)
	}
}

func TestDecodeBranch_BL_Negative(t *testing.T) {
	// BL #-0x10 at PC=0x1000 → target=0xFF0
	raw := uint32(0x94000000 | (0x03FFFFFF - 3))
	bi := DecodeBranch(raw, 0x1000)
	if bi == nil {
		t.Fatal("expected BL")
	}
	if bi.Target != 0x0FF0 {
		t.Errorf("target = 0x%x, want 0xFF0", bi.Target)
	}
}

func TestDecodeBranch_BLR(t *testing.T) {
	bi := DecodeBranch(0xD63F0200, 0x2000) // BLR X16
	if bi == nil || !bi.IsCall {
		t.Fatal("expected BLR")
	}
	if bi.Reg != 16 {
		t.Errorf("reg = %d, want 16", bi.Reg)
	}
}

func TestDecodeBranch_NotCall(t *testing.T) {
	for _, raw := range []uint32{
		0x14000040, // B
		0x54000100, // B.EQ
		0xd503201f, // NOP
		0xD61F0200, // BR X16
	} {
		if bi := DecodeBranch(raw, 0x1000); bi != nil {
			t.Errorf("0x%08x decoded as %+v", raw, bi)
		}
	}
}
