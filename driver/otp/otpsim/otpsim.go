// Package otpsim simulates the OTP controller at the register level.
// It is used for testing drivers and for running tools without
// hardware.
package otpsim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"periph.io/x/conn/v3"

	"fusebox.dev/driver/otp/otpreg"
)

// Size is the number of bytes in each array.
const Size = 8192

// Bit identifies a fuse.
type Bit struct {
	Array uint32
	Addr  uint32
	Bit   uint32
}

// Simulator models the controller registers and fuse arrays.
type Simulator struct {
	// BusyPolls is the number of STATUS (and KEYIDX) reads that
	// report busy after a command.
	BusyPolls int
	// Stuck simulates a controller that never becomes ready.
	Stuck bool
	// KeyStuck simulates a key interface that never reports valid.
	KeyStuck bool
	// PulsesToBurn is the number of pulses needed to program a bit
	// outside smart mode. Zero means 1.
	PulsesToBurn int
	// SecureProgram enables the MAGIC check of PROGRAM commands.
	SecureProgram bool
	// Weak lists bits that never program.
	Weak map[Bit]bool

	// Counters.
	ReadCmds         int
	ProgramCmds      int
	RejectedPrograms int
	DataReads        int
	KeySelects       int
	KeyUploads       int
	Accesses         int

	fuses   [2][Size]byte
	pulses  map[Bit]int
	ctrl    uint32
	addr    uint32
	data    uint32
	keyidx  uint32
	cfg     uint32
	magic   uint32
	locks   [otpreg.NumLockRegs]uint32
	done    bool
	busy    int
	keyBusy int
	valid   bool
}

// New returns a Simulator with blank fuses.
func New() *Simulator {
	return &Simulator{
		pulses: make(map[Bit]int),
	}
}

// Fuse returns the programmed value of a byte.
func (s *Simulator) Fuse(array, addr uint32) byte {
	return s.fuses[array][addr]
}

// Burn programs bits directly, bypassing the controller.
func (s *Simulator) Burn(array, addr uint32, val byte) {
	s.fuses[array][addr] |= val
}

// PowerOnReset clears all volatile controller state. Fuses are
// kept.
func (s *Simulator) PowerOnReset() {
	s.ctrl, s.addr, s.data, s.keyidx, s.cfg, s.magic = 0, 0, 0, 0, 0, 0
	s.locks = [otpreg.NumLockRegs]uint32{}
	s.done = false
	s.busy = 0
	s.keyBusy = 0
	s.valid = false
	clear(s.pulses)
}

// ResetCounters zeroes the access counters.
func (s *Simulator) ResetCounters() {
	s.ReadCmds, s.ProgramCmds, s.RejectedPrograms = 0, 0, 0
	s.DataReads, s.KeySelects, s.KeyUploads, s.Accesses = 0, 0, 0, 0
}

func (s *Simulator) ReadRegister(reg uint32) (uint32, error) {
	s.Accesses++
	switch reg {
	case otpreg.CTRL:
		v := otpreg.CtrlRead.Set(s.ctrl, 0)
		return otpreg.CtrlProgram.Set(v, 0), nil
	case otpreg.STATUS:
		var v uint32
		if s.done {
			v = otpreg.StatusDone.Set(v, 1)
		}
		switch {
		case s.Stuck:
		case s.busy > 0:
			s.busy--
		default:
			v = otpreg.StatusRdy.Set(v, 1)
		}
		return v, nil
	case otpreg.ADDR:
		return s.addr, nil
	case otpreg.DATA:
		s.DataReads++
		return s.data, nil
	case otpreg.KEYIDX:
		v := s.keyidx
		switch {
		case s.KeyStuck || !s.valid:
		case s.keyBusy > 0:
			s.keyBusy--
		default:
			v = otpreg.KeyValid.Set(v, 1)
		}
		return v, nil
	case otpreg.CFG:
		return s.cfg, nil
	case otpreg.MAGIC:
		return s.magic, nil
	}
	if i, ok := lockIndex(reg); ok {
		return s.locks[i], nil
	}
	return 0, fmt.Errorf("otpsim: read of unknown register %#x", reg)
}

func (s *Simulator) WriteRegister(reg uint32, val uint32) error {
	s.Accesses++
	switch reg {
	case otpreg.CTRL:
		const mask = 0b1100 | 0xff<<8
		s.ctrl = val & mask
		switch {
		case otpreg.CtrlRead.Get(val) != 0:
			s.read()
		case otpreg.CtrlProgram.Get(val) != 0:
			s.program()
		}
		return nil
	case otpreg.STATUS:
		if otpreg.StatusDone.Get(val) != 0 {
			s.done = false
		}
		return nil
	case otpreg.ADDR:
		s.addr = val & (otpreg.AddrAddr.Mask() | otpreg.AddrBit.Mask() | otpreg.AddrArray.Mask())
		return nil
	case otpreg.DATA:
		s.data = val & otpreg.DataData.Mask()
		return nil
	case otpreg.KEYIDX:
		s.keyidx = val & (otpreg.KeyIndex.Mask() | otpreg.KeySize.Mask() | otpreg.KeyECCDis.Mask())
		sel, upload := otpreg.KeySelect.Get(val) != 0, otpreg.KeyUpload.Get(val) != 0
		if sel {
			s.KeySelects++
		}
		if upload {
			s.KeyUploads++
		}
		if sel || upload {
			s.valid = true
			s.keyBusy = s.BusyPolls
		}
		return nil
	case otpreg.CFG:
		keyDis := otpreg.CfgKeyDis.Get(s.cfg) | otpreg.CfgKeyDis.Get(val)
		s.cfg = otpreg.CfgClkMHz.Set(0, otpreg.CfgClkMHz.Get(val))
		s.cfg = otpreg.CfgKeyDis.Set(s.cfg, keyDis)
		return nil
	case otpreg.MAGIC:
		s.magic = val
		return nil
	}
	if i, ok := lockIndex(reg); ok {
		old := s.locks[i]
		// Permissions of register locked blocks are frozen.
		frozen := uint32(0)
		for b := range 8 {
			if old&(1<<(otpreg.LockRegisterShift+b)) != 0 {
				frozen |= 1<<(otpreg.LockReadShift+b) | 1<<(otpreg.LockWriteShift+b) | 1<<(otpreg.LockRegisterShift+b)
			}
		}
		s.locks[i] = (old & frozen) | (val &^ frozen & 0xff_ffff)
		return nil
	}
	return fmt.Errorf("otpsim: write of unknown register %#x", reg)
}

func lockIndex(reg uint32) (int, bool) {
	if reg < otpreg.LOCK0 || reg >= otpreg.Span || reg%4 != 0 {
		return 0, false
	}
	return int(reg-otpreg.LOCK0) / 4, true
}

func (s *Simulator) complete() {
	s.done = true
	s.busy = s.BusyPolls
}

func (s *Simulator) target() Bit {
	return Bit{
		Array: otpreg.AddrArray.Get(s.addr),
		Addr:  otpreg.AddrAddr.Get(s.addr),
		Bit:   otpreg.AddrBit.Get(s.addr),
	}
}

func (s *Simulator) read() {
	s.ReadCmds++
	t := s.target()
	s.data = uint32(s.fuses[t.Array][t.Addr])
	s.complete()
}

func (s *Simulator) program() {
	s.ProgramCmds++
	armed := otpreg.CtrlArm.Get(s.ctrl) == otpreg.ArmValue
	// Arming is consumed by every PROGRAM command.
	s.ctrl = otpreg.CtrlArm.Set(s.ctrl, 0)
	if !armed || (s.SecureProgram && s.magic != otpreg.ProgramMagic) {
		s.RejectedPrograms++
		s.complete()
		return
	}
	t := s.target()
	if s.pulses == nil {
		s.pulses = make(map[Bit]int)
	}
	s.pulses[t]++
	need := max(1, s.PulsesToBurn)
	smart := otpreg.CtrlSmart.Get(s.ctrl) != 0
	if !s.Weak[t] && (smart || s.pulses[t] >= need) {
		s.fuses[t.Array][t.Addr] |= 1 << t.Bit
	}
	s.complete()
}

// String implements conn.Conn.
func (s *Simulator) String() string {
	return "otpsim"
}

// Duplex implements conn.Conn.
func (s *Simulator) Duplex() conn.Duplex {
	return conn.Half
}

// Tx implements conn.Conn with the memory-mapped register protocol:
// an 8-bit register address followed by a little endian 32-bit
// word.
func (s *Simulator) Tx(w, r []byte) error {
	switch {
	case len(w) == 1 && len(r) == 4:
		v, err := s.ReadRegister(uint32(w[0]))
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(r, v)
		return nil
	case len(w) == 5 && len(r) == 0:
		return s.WriteRegister(uint32(w[0]), binary.LittleEndian.Uint32(w[1:]))
	default:
		return fmt.Errorf("otpsim: unsupported transaction (write %d, read %d bytes)", len(w), len(r))
	}
}

type image struct {
	Version int    `cbor:"1,keyasint"`
	Key     []byte `cbor:"2,keyasint"`
	Fuse    []byte `cbor:"3,keyasint"`
}

const imageVersion = 1

// Save writes the fuse contents.
func (s *Simulator) Save(w io.Writer) error {
	img := image{
		Version: imageVersion,
		Key:     s.fuses[0][:],
		Fuse:    s.fuses[1][:],
	}
	if err := cbor.NewEncoder(w).Encode(img); err != nil {
		return fmt.Errorf("otpsim: save: %w", err)
	}
	return nil
}

// Load replaces the fuse contents with an image written by Save.
func (s *Simulator) Load(r io.Reader) error {
	var img image
	if err := cbor.NewDecoder(r).Decode(&img); err != nil {
		return fmt.Errorf("otpsim: load: %w", err)
	}
	if img.Version != imageVersion {
		return fmt.Errorf("otpsim: unsupported image version %d", img.Version)
	}
	if len(img.Key) != Size || len(img.Fuse) != Size {
		return errors.New("otpsim: image size mismatch")
	}
	copy(s.fuses[0][:], img.Key)
	copy(s.fuses[1][:], img.Fuse)
	return nil
}
