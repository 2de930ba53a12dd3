// Package otpreg describes the register interface of the OTP
// controller: register offsets, field layout and magic values.
package otpreg

import "fusebox.dev/driver/regs"

// Registers, as byte offsets from the peripheral base.
const (
	CTRL   = 0x00
	STATUS = 0x04
	ADDR   = 0x08
	DATA   = 0x0c
	KEYIDX = 0x10
	CFG    = 0x14
	MAGIC  = 0x18
	LOCK0  = 0x20

	// NumLockRegs is the number of LOCKn registers, each covering 8
	// blocks.
	NumLockRegs = 8
	// Span is the size of the register window.
	Span = LOCK0 + NumLockRegs*4
)

// CTRL fields. READ and PROGRAM start a cycle and read back as zero.
var (
	CtrlRead    = regs.Field{Reg: CTRL, Shift: 0, Width: 1}
	CtrlProgram = regs.Field{Reg: CTRL, Shift: 1, Width: 1}
	CtrlSmart   = regs.Field{Reg: CTRL, Shift: 2, Width: 1}
	CtrlInProg  = regs.Field{Reg: CTRL, Shift: 3, Width: 1}
	CtrlArm     = regs.Field{Reg: CTRL, Shift: 8, Width: 8}
)

// STATUS fields. RDY is read-only, DONE is write-one-to-clear.
var (
	StatusRdy  = regs.Field{Reg: STATUS, Shift: 0, Width: 1}
	StatusDone = regs.Field{Reg: STATUS, Shift: 1, Width: 1}
)

// ADDR fields.
var (
	AddrAddr  = regs.Field{Reg: ADDR, Shift: 0, Width: 13}
	AddrBit   = regs.Field{Reg: ADDR, Shift: 16, Width: 3}
	AddrArray = regs.Field{Reg: ADDR, Shift: 20, Width: 1}
)

var DataData = regs.Field{Reg: DATA, Shift: 0, Width: 8}

// KEYIDX fields. VALID is read-only, SELECT and UPLOAD are strobes.
var (
	KeyIndex  = regs.Field{Reg: KEYIDX, Shift: 0, Width: 5}
	KeySize   = regs.Field{Reg: KEYIDX, Shift: 8, Width: 2}
	KeyECCDis = regs.Field{Reg: KEYIDX, Shift: 12, Width: 1}
	KeyValid  = regs.Field{Reg: KEYIDX, Shift: 16, Width: 1}
	KeySelect = regs.Field{Reg: KEYIDX, Shift: 17, Width: 1}
	KeyUpload = regs.Field{Reg: KEYIDX, Shift: 18, Width: 1}
)

// CFG fields. KEYDIS stays set until power-on reset.
var (
	CfgClkMHz = regs.Field{Reg: CFG, Shift: 0, Width: 8}
	CfgKeyDis = regs.Field{Reg: CFG, Shift: 8, Width: 1}
)

// Shifts of the LOCKn permission fields. Block b is bit b%8 of each
// field in register LOCK(b/8).
const (
	LockReadShift     = 0
	LockWriteShift    = 8
	LockRegisterShift = 16
)

const (
	// ArmValue must be in CTRL.ARM for a PROGRAM command to be
	// accepted.
	ArmValue = 0xa5
	// CleanData is written to DATA after every read to scrub the
	// result.
	CleanData = 0x01
	// ProgramMagic must be in MAGIC for a PROGRAM command to be
	// accepted by controllers with secure programming.
	ProgramMagic = 0x0f5e_b0a7
)

// NumBlocks is the number of access control blocks.
const NumBlocks = NumLockRegs * 8

// LockReg returns the LOCKn register covering block.
func LockReg(block int) uint32 {
	return LOCK0 + uint32(block/8)*4
}

// AddrWord encodes the ADDR register value.
func AddrWord(array, addr, bit uint32) uint32 {
	var v uint32
	v = AddrAddr.Set(v, addr)
	v = AddrBit.Set(v, bit)
	v = AddrArray.Set(v, array)
	return v
}
