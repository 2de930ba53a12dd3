package otp

import (
	"fmt"

	"fusebox.dev/driver/otp/otpreg"
	"fusebox.dev/driver/regs"
)

// AccessPermission is the permission triple of a block.
type AccessPermission struct {
	ReadLocked  bool
	WriteLocked bool
	// RegisterLocked freezes the triple until power-on reset.
	RegisterLocked bool
}

func (p AccessPermission) String() string {
	flag := func(set bool, c byte) byte {
		if set {
			return c
		}
		return '-'
	}
	return string([]byte{
		flag(p.ReadLocked, 'r'),
		flag(p.WriteLocked, 'w'),
		flag(p.RegisterLocked, 'l'),
	})
}

func checkBlock(block int) error {
	if block < 0 || block >= NumBlocks {
		return fmt.Errorf("otp: block %d: %w", block, ErrInvalidParameter)
	}
	return nil
}

// BlockAccess reads the permissions of a block.
func (d *Device) BlockAccess(block int) (AccessPermission, error) {
	if err := checkBlock(block); err != nil {
		return AccessPermission{}, err
	}
	v, err := d.bus.ReadRegister(otpreg.LockReg(block))
	if err != nil {
		return AccessPermission{}, fmt.Errorf("otp: block %d access: %w", block, err)
	}
	bit := uint(block % 8)
	return AccessPermission{
		ReadLocked:     v>>(otpreg.LockReadShift+bit)&1 != 0,
		WriteLocked:    v>>(otpreg.LockWriteShift+bit)&1 != 0,
		RegisterLocked: v>>(otpreg.LockRegisterShift+bit)&1 != 0,
	}, nil
}

// CheckReadAllowed reports whether block may be read.
func (d *Device) CheckReadAllowed(block int) (bool, error) {
	p, err := d.BlockAccess(block)
	if err != nil {
		return false, err
	}
	return !p.ReadLocked, nil
}

// CheckWriteAllowed reports whether block may be programmed.
func (d *Device) CheckWriteAllowed(block int) (bool, error) {
	p, err := d.BlockAccess(block)
	if err != nil {
		return false, err
	}
	return !p.WriteLocked, nil
}

// SetBlockAccess adds locks to a block. Locks are never removed, and
// the permissions of the other blocks sharing the lock register are
// preserved.
//
// The controller silently drops updates to a register locked block;
// so does SetBlockAccess. That is not an error.
func (d *Device) SetBlockAccess(block int, lockRead, lockWrite, lockRegister bool) error {
	if err := checkBlock(block); err != nil {
		return err
	}
	reg := otpreg.LockReg(block)
	v, err := d.bus.ReadRegister(reg)
	if err != nil {
		return fmt.Errorf("otp: block %d access: %w", block, err)
	}
	bit := uint(block % 8)
	if v>>(otpreg.LockRegisterShift+bit)&1 != 0 {
		d.log.V(1).Info("block access is register locked", "block", block)
	}
	if lockRead {
		v |= 1 << (otpreg.LockReadShift + bit)
	}
	if lockWrite {
		v |= 1 << (otpreg.LockWriteShift + bit)
	}
	if lockRegister {
		v |= 1 << (otpreg.LockRegisterShift + bit)
	}
	if err := regs.WriteRegister(d.bus, reg, v); err != nil {
		return fmt.Errorf("otp: block %d access: %w", block, err)
	}
	return nil
}
