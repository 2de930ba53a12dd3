package otp

import (
	"errors"
	"fmt"

	"fusebox.dev/driver/otp/otpreg"
	"fusebox.dev/driver/regs"
)

// ProgramBit programs a single bit. If verifyFirst is set, a bit that
// already reads as programmed is left alone. ProgramBit doesn't check
// access control.
func (d *Device) ProgramBit(array Array, addr uint16, bit uint8, verifyFirst bool) (err error) {
	if err := checkRange(array, addr, 1); err != nil {
		return err
	}
	if bit > 7 {
		return fmt.Errorf("otp: bit %d: %w", bit, ErrInvalidParameter)
	}
	d.begin()
	defer func() {
		err = errors.Join(err, d.end())
	}()
	if verifyFirst {
		set, err := d.BitIsProgrammed(array, addr, bit)
		if err != nil {
			return err
		}
		if set {
			return nil
		}
	}
	return d.programBit(array, addr, bit)
}

func (d *Device) programBit(array Array, addr uint16, bit uint8) error {
	switch d.conf.Algorithm {
	case Smart:
		return d.programSmart(array, addr, bit)
	case Legacy:
		return d.programLegacy(array, addr, bit)
	default:
		return fmt.Errorf("otp: %v: %w", d.conf.Algorithm, ErrInvalidParameter)
	}
}

func (d *Device) programSmart(array Array, addr uint16, bit uint8) error {
	if err := d.WaitReady(0); err != nil {
		return err
	}
	d.state = Addressing
	if err := regs.WriteRegister(d.bus, otpreg.ADDR, otpreg.AddrWord(uint32(array), uint32(addr), uint32(bit))); err != nil {
		return fmt.Errorf("otp: program %v %#x.%d: %w", array, addr, bit, err)
	}
	if err := regs.WriteField(d.bus, otpreg.CtrlSmart, 1); err != nil {
		return fmt.Errorf("otp: program %v %#x.%d: %w", array, addr, bit, err)
	}
	perr := d.pulse()
	if err := regs.WriteField(d.bus, otpreg.CtrlSmart, 0); err != nil && perr == nil {
		perr = err
	}
	if perr != nil {
		return fmt.Errorf("otp: program %v %#x.%d: %w", array, addr, bit, perr)
	}
	set, err := d.BitIsProgrammed(array, addr, bit)
	if err != nil {
		return err
	}
	if !set {
		d.state = HardwareError
		return fmt.Errorf("otp: program %v %#x.%d: bit not set: %w", array, addr, bit, ErrHardware)
	}
	return nil
}

func (d *Device) programLegacy(array Array, addr uint16, bit uint8) (err error) {
	if err := d.WaitReady(0); err != nil {
		return err
	}
	if err := regs.WriteField(d.bus, otpreg.CtrlInProg, 1); err != nil {
		return fmt.Errorf("otp: program %v %#x.%d: %w", array, addr, bit, err)
	}
	defer func() {
		serr := regs.WriteRegister(d.bus, otpreg.DATA, otpreg.CleanData)
		cerr := regs.WriteField(d.bus, otpreg.CtrlInProg, 0)
		err = errors.Join(err, serr, cerr)
	}()
	word := otpreg.AddrWord(uint32(array), uint32(addr), uint32(bit))
	for pulse := 1; pulse <= MaxPulses; pulse++ {
		// Verification reads move the address.
		d.state = Addressing
		if err := regs.WriteRegister(d.bus, otpreg.ADDR, word); err != nil {
			return fmt.Errorf("otp: program %v %#x.%d: %w", array, addr, bit, err)
		}
		if err := d.pulse(); err != nil {
			return fmt.Errorf("otp: program %v %#x.%d: pulse %d: %w", array, addr, bit, pulse, err)
		}
		if pulse < MinPulses {
			continue
		}
		set, err := d.BitIsProgrammed(array, addr, bit)
		if err != nil {
			return err
		}
		if set {
			return nil
		}
	}
	d.state = HardwareError
	d.log.Info("bit failed to program", "array", array, "addr", addr, "bit", bit, "pulses", MaxPulses)
	return fmt.Errorf("otp: program %v %#x.%d: bit not set after %d pulses: %w", array, addr, bit, MaxPulses, ErrHardware)
}

// pulse arms the controller, issues a program command and waits for
// it to complete.
func (d *Device) pulse() error {
	if err := regs.WriteField(d.bus, otpreg.CtrlArm, otpreg.ArmValue); err != nil {
		return err
	}
	if d.conf.SecureProgram {
		if d.magic != ProgramMagic {
			// The controller rejects the command, but issue it anyway.
			d.metrics.magicMismatch()
			d.log.Info("program magic mismatch", "magic", fmt.Sprintf("%#.8x", d.magic))
		}
		if err := regs.WriteRegister(d.bus, otpreg.MAGIC, d.magic); err != nil {
			return err
		}
	}
	d.state = ProgramPulse
	if err := regs.WriteField(d.bus, otpreg.CtrlProgram, 1); err != nil {
		return err
	}
	d.metrics.programPulse()
	return d.WaitReady(0)
}

// ProgramByte programs the bits of value that are not yet set. Bits
// can't be cleared; bits set in the stored byte but not in value are
// left alone. Every bit is attempted even if some fail. ProgramByte
// doesn't check access control.
func (d *Device) ProgramByte(array Array, addr uint16, value byte) (err error) {
	if err := checkRange(array, addr, 1); err != nil {
		return err
	}
	d.begin()
	defer func() {
		err = errors.Join(err, d.end())
	}()
	cur, err := d.ReadByte(array, addr)
	if err != nil {
		return err
	}
	missing := ^cur & value
	if missing == 0 {
		return nil
	}
	var errs []error
	for bit := range uint8(8) {
		if missing&(1<<bit) == 0 {
			continue
		}
		if err := d.programBit(array, addr, bit); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Program programs len(data) consecutive bytes starting at addr as
// a single workflow. Every byte is attempted.
func (d *Device) Program(array Array, addr uint16, data []byte) (err error) {
	if err := checkRange(array, addr, len(data)); err != nil {
		return err
	}
	d.begin()
	defer func() {
		err = errors.Join(err, d.end())
	}()
	var errs []error
	for i, b := range data {
		if err := d.ProgramByte(array, addr+uint16(i), b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// checkMonotonic reports whether data can be programmed over cur.
func checkMonotonic(cur, data []byte) error {
	for i := range data {
		if cur[i]&^data[i] != 0 {
			return fmt.Errorf("otp: byte %d: %#.2x over %#.2x: %w: %w", i, data[i], cur[i], ErrInvalidParameter, ErrUnsupportedModification)
		}
	}
	return nil
}
