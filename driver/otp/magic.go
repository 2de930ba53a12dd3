package otp

import (
	"fmt"

	"fusebox.dev/driver/otp/otpreg"
)

// The program magic word is assembled from these steps, in order:
//
//	d.MagicInit(MagicSeed)
//	d.MagicAccumulate(MagicStepConfirm)
//	d.MagicAccumulate(MagicStepBurn)
//
// Split the steps across the control flow leading to a burn, so that
// a stray jump into a program function doesn't carry a valid word.
const (
	MagicSeed        = 0x0f00_0000
	MagicStepConfirm = 0x005e_0000
	MagicStepBurn    = 0x0000_b0a7
)

// ProgramMagic is the value the magic word must have when a program
// command is issued.
const ProgramMagic = otpreg.ProgramMagic

// MagicInit overwrites the magic word accumulator.
func (d *Device) MagicInit(v uint32) {
	d.magic = v
}

// MagicAccumulate adds v to the magic word accumulator.
func (d *Device) MagicAccumulate(v uint32) {
	d.magic += v
}

// Magic returns the magic word accumulator.
func (d *Device) Magic() uint32 {
	return d.magic
}

// begin enters a programming workflow. Workflows nest; the magic word
// survives until the outermost one ends.
func (d *Device) begin() {
	d.workflows++
}

// end leaves a programming workflow and resets the magic word when
// the outermost workflow ends, whether it succeeded or not.
func (d *Device) end() error {
	d.workflows--
	if d.workflows > 0 {
		return nil
	}
	d.workflows = 0
	d.magic = 0
	if !d.conf.SecureProgram {
		return nil
	}
	if err := d.bus.WriteRegister(otpreg.MAGIC, 0); err != nil {
		return fmt.Errorf("otp: reset magic: %w", err)
	}
	return nil
}
