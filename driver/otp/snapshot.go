package otp

import (
	"fmt"
	"strings"

	"fusebox.dev/driver/otp/otpreg"
)

// Snapshot is a dump of the controller registers for diagnostics.
// DATA is left out; it never holds anything but the scrub value
// between operations.
type Snapshot struct {
	Ctrl   uint32                     `cbor:"1,keyasint"`
	Status uint32                     `cbor:"2,keyasint"`
	Addr   uint32                     `cbor:"3,keyasint"`
	KeyIdx uint32                     `cbor:"4,keyasint"`
	Cfg    uint32                     `cbor:"5,keyasint"`
	Magic  uint32                     `cbor:"6,keyasint"`
	Locks  [otpreg.NumLockRegs]uint32 `cbor:"7,keyasint"`
	State  State                      `cbor:"8,keyasint"`
}

// Snapshot reads the controller registers. Reading STATUS counts as a
// readiness poll.
func (d *Device) Snapshot() (Snapshot, error) {
	s := Snapshot{State: d.state}
	for _, r := range []struct {
		reg uint32
		v   *uint32
	}{
		{otpreg.CTRL, &s.Ctrl},
		{otpreg.STATUS, &s.Status},
		{otpreg.ADDR, &s.Addr},
		{otpreg.KEYIDX, &s.KeyIdx},
		{otpreg.CFG, &s.Cfg},
		{otpreg.MAGIC, &s.Magic},
	} {
		v, err := d.bus.ReadRegister(r.reg)
		if err != nil {
			return s, fmt.Errorf("otp: snapshot %#.2x: %w", r.reg, err)
		}
		*r.v = v
	}
	for i := range s.Locks {
		reg := uint32(otpreg.LOCK0 + 4*i)
		v, err := d.bus.ReadRegister(reg)
		if err != nil {
			return s, fmt.Errorf("otp: snapshot %#.2x: %w", reg, err)
		}
		s.Locks[i] = v
	}
	return s, nil
}

func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "state   %v\n", s.State)
	fmt.Fprintf(&b, "CTRL    %#.8x arm=%#.2x smart=%d inprog=%d\n", s.Ctrl,
		otpreg.CtrlArm.Get(s.Ctrl), otpreg.CtrlSmart.Get(s.Ctrl), otpreg.CtrlInProg.Get(s.Ctrl))
	fmt.Fprintf(&b, "STATUS  %#.8x rdy=%d done=%d\n", s.Status,
		otpreg.StatusRdy.Get(s.Status), otpreg.StatusDone.Get(s.Status))
	fmt.Fprintf(&b, "ADDR    %#.8x array=%d addr=%#.4x bit=%d\n", s.Addr,
		otpreg.AddrArray.Get(s.Addr), otpreg.AddrAddr.Get(s.Addr), otpreg.AddrBit.Get(s.Addr))
	fmt.Fprintf(&b, "KEYIDX  %#.8x index=%d size=%d eccdis=%d valid=%d\n", s.KeyIdx,
		otpreg.KeyIndex.Get(s.KeyIdx), otpreg.KeySize.Get(s.KeyIdx),
		otpreg.KeyECCDis.Get(s.KeyIdx), otpreg.KeyValid.Get(s.KeyIdx))
	fmt.Fprintf(&b, "CFG     %#.8x clk=%dMHz keydis=%d\n", s.Cfg,
		otpreg.CfgClkMHz.Get(s.Cfg), otpreg.CfgKeyDis.Get(s.Cfg))
	fmt.Fprintf(&b, "MAGIC   %#.8x\n", s.Magic)
	for i, l := range s.Locks {
		fmt.Fprintf(&b, "LOCK%d   %#.8x\n", i, l)
	}
	return b.String()
}
