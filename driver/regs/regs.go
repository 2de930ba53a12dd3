// Package regs provides field-level access to the 32-bit registers
// of memory-mapped peripherals, independent of how the registers are
// reached.
package regs

import (
	"fmt"

	"github.com/go-logr/logr"
)

// Bus reads and writes whole 32-bit registers addressed by byte
// offset from the peripheral base.
type Bus interface {
	ReadRegister(reg uint32) (uint32, error)
	WriteRegister(reg uint32, val uint32) error
}

// Field describes a bit field of a register.
type Field struct {
	Reg   uint32
	Shift uint8
	Width uint8
}

// Mask returns the field mask, in register position.
func (f Field) Mask() uint32 {
	if f.Width >= 32 {
		return ^uint32(0)
	}
	return (uint32(1)<<f.Width - 1) << f.Shift
}

// Get extracts the field from a register value.
func (f Field) Get(reg uint32) uint32 {
	return (reg & f.Mask()) >> f.Shift
}

// Set returns reg with the field replaced by val. Bits of val
// outside the field width are discarded.
func (f Field) Set(reg, val uint32) uint32 {
	return reg&^f.Mask() | (val<<f.Shift)&f.Mask()
}

func (f Field) String() string {
	if f.Width == 1 {
		return fmt.Sprintf("%#.2x[%d]", f.Reg, f.Shift)
	}
	return fmt.Sprintf("%#.2x[%d:%d]", f.Reg, f.Shift, f.Shift+f.Width-1)
}

// ReadField reads the register holding f and extracts the field.
func ReadField(b Bus, f Field) (uint32, error) {
	v, err := b.ReadRegister(f.Reg)
	if err != nil {
		return 0, fmt.Errorf("regs: read %v: %w", f, err)
	}
	return f.Get(v), nil
}

// WriteField updates f with val, preserving the other bits of the
// register.
func WriteField(b Bus, f Field, val uint32) error {
	v, err := b.ReadRegister(f.Reg)
	if err != nil {
		return fmt.Errorf("regs: read %v: %w", f, err)
	}
	if err := b.WriteRegister(f.Reg, f.Set(v, val)); err != nil {
		return fmt.Errorf("regs: write %v: %w", f, err)
	}
	return nil
}

// WriteRegister overwrites a whole register.
func WriteRegister(b Bus, reg, val uint32) error {
	if err := b.WriteRegister(reg, val); err != nil {
		return fmt.Errorf("regs: write %#.2x: %w", reg, err)
	}
	return nil
}

// Trace wraps a Bus and logs every access at verbosity 2.
type Trace struct {
	Bus Bus
	Log logr.Logger
}

func (t *Trace) ReadRegister(reg uint32) (uint32, error) {
	v, err := t.Bus.ReadRegister(reg)
	t.Log.V(2).Info("read", "reg", fmt.Sprintf("%#.2x", reg), "val", fmt.Sprintf("%#.8x", v), "err", err)
	return v, err
}

func (t *Trace) WriteRegister(reg uint32, val uint32) error {
	err := t.Bus.WriteRegister(reg, val)
	t.Log.V(2).Info("write", "reg", fmt.Sprintf("%#.2x", reg), "val", fmt.Sprintf("%#.8x", val), "err", err)
	return err
}
