package otpsim

import (
	"bytes"
	"encoding/binary"
	"flag"
	"path/filepath"
	"testing"

	"fusebox.dev/driver/otp/otpreg"
	"fusebox.dev/internal/golden"
)

var update = flag.Bool("update", false, "update golden files")

func write(t *testing.T, s *Simulator, reg, val uint32) {
	t.Helper()
	if err := s.WriteRegister(reg, val); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, s *Simulator, reg uint32) uint32 {
	t.Helper()
	v, err := s.ReadRegister(reg)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestProgram(t *testing.T) {
	s := New()
	write(t, s, otpreg.ADDR, otpreg.AddrWord(1, 0x123, 5))
	// Unarmed commands are rejected.
	write(t, s, otpreg.CTRL, otpreg.CtrlSmart.Set(otpreg.CtrlProgram.Set(0, 1), 1))
	if s.Fuse(1, 0x123) != 0 || s.RejectedPrograms != 1 {
		t.Fatal("unarmed program accepted")
	}
	ctrl := otpreg.CtrlSmart.Set(0, 1)
	ctrl = otpreg.CtrlArm.Set(ctrl, otpreg.ArmValue)
	write(t, s, otpreg.CTRL, otpreg.CtrlProgram.Set(ctrl, 1))
	if got := s.Fuse(1, 0x123); got != 0x20 {
		t.Errorf("programmed %#.2x, expected 0x20", got)
	}
	if otpreg.CtrlArm.Get(read(t, s, otpreg.CTRL)) != 0 {
		t.Error("arm value not consumed")
	}
	// Read back.
	write(t, s, otpreg.CTRL, otpreg.CtrlRead.Set(0, 1))
	if got := read(t, s, otpreg.DATA); got != 0x20 {
		t.Errorf("read %#x, expected 0x20", got)
	}
	if otpreg.StatusDone.Get(read(t, s, otpreg.STATUS)) != 1 {
		t.Error("done flag not set")
	}
	write(t, s, otpreg.STATUS, otpreg.StatusDone.Set(0, 1))
	if otpreg.StatusDone.Get(read(t, s, otpreg.STATUS)) != 0 {
		t.Error("done flag not cleared")
	}
}

func TestPulsesToBurn(t *testing.T) {
	s := New()
	s.PulsesToBurn = 3
	write(t, s, otpreg.ADDR, otpreg.AddrWord(0, 7, 0))
	for i := range 3 {
		if s.Fuse(0, 7) != 0 {
			t.Fatalf("bit burned after %d pulses", i)
		}
		write(t, s, otpreg.CTRL, otpreg.CtrlArm.Set(0, otpreg.ArmValue))
		write(t, s, otpreg.CTRL, otpreg.CtrlProgram.Set(otpreg.CtrlArm.Set(0, otpreg.ArmValue), 1))
	}
	if s.Fuse(0, 7) != 1 {
		t.Error("bit not burned after 3 pulses")
	}
}

func TestSecureProgram(t *testing.T) {
	s := New()
	s.SecureProgram = true
	write(t, s, otpreg.ADDR, otpreg.AddrWord(1, 0, 0))
	armed := otpreg.CtrlSmart.Set(otpreg.CtrlArm.Set(0, otpreg.ArmValue), 1)
	write(t, s, otpreg.MAGIC, otpreg.ProgramMagic-1)
	write(t, s, otpreg.CTRL, otpreg.CtrlProgram.Set(armed, 1))
	if s.Fuse(1, 0) != 0 {
		t.Fatal("program with bad magic accepted")
	}
	write(t, s, otpreg.MAGIC, otpreg.ProgramMagic)
	write(t, s, otpreg.CTRL, otpreg.CtrlProgram.Set(armed, 1))
	if s.Fuse(1, 0) != 1 {
		t.Fatal("program with magic rejected")
	}
}

func TestLocks(t *testing.T) {
	s := New()
	reg := otpreg.LockReg(10)
	write(t, s, reg, 1<<(otpreg.LockWriteShift+2)|1<<(otpreg.LockRegisterShift+2))
	// Clearing and setting bits of the locked block are both dropped.
	write(t, s, reg, 1<<(otpreg.LockReadShift+2)|1<<(otpreg.LockReadShift+3))
	want := uint32(1<<(otpreg.LockWriteShift+2) | 1<<(otpreg.LockRegisterShift+2) | 1<<(otpreg.LockReadShift+3))
	if got := read(t, s, reg); got != want {
		t.Errorf("lock register %#x, expected %#x", got, want)
	}
	s.PowerOnReset()
	if got := read(t, s, reg); got != 0 {
		t.Errorf("lock register %#x after power-on reset", got)
	}
}

func TestKeyDisable(t *testing.T) {
	s := New()
	write(t, s, otpreg.CFG, otpreg.CfgKeyDis.Set(otpreg.CfgClkMHz.Set(0, 48), 1))
	write(t, s, otpreg.CFG, otpreg.CfgClkMHz.Set(0, 12))
	cfg := read(t, s, otpreg.CFG)
	if otpreg.CfgKeyDis.Get(cfg) != 1 || otpreg.CfgClkMHz.Get(cfg) != 12 {
		t.Errorf("config register %#x", cfg)
	}
}

func TestKeyValid(t *testing.T) {
	s := New()
	s.BusyPolls = 2
	if otpreg.KeyValid.Get(read(t, s, otpreg.KEYIDX)) != 0 {
		t.Fatal("key valid before selection")
	}
	write(t, s, otpreg.KEYIDX, otpreg.KeySelect.Set(otpreg.KeyIndex.Set(0, 3), 1))
	polls := 0
	for otpreg.KeyValid.Get(read(t, s, otpreg.KEYIDX)) == 0 {
		polls++
		if polls > 10 {
			t.Fatal("key never valid")
		}
	}
	if polls != 2 {
		t.Errorf("key valid after %d polls, expected 2", polls)
	}
	if s.KeySelects != 1 {
		t.Errorf("%d selects", s.KeySelects)
	}
}

func TestTx(t *testing.T) {
	s := New()
	w := []byte{otpreg.MAGIC, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(w[1:], 0xcafef00d)
	if err := s.Tx(w, nil); err != nil {
		t.Fatal(err)
	}
	r := make([]byte, 4)
	if err := s.Tx([]byte{otpreg.MAGIC}, r); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(r); got != 0xcafef00d {
		t.Errorf("read %#x", got)
	}
	if err := s.Tx([]byte{otpreg.MAGIC, 0}, nil); err == nil {
		t.Error("short write accepted")
	}
	if err := s.Tx([]byte{0x80}, r); err == nil {
		t.Error("read of unknown register accepted")
	}
}

func TestSaveLoad(t *testing.T) {
	s := New()
	s.Burn(0, 0, 0x12)
	s.Burn(1, Size-1, 0x34)
	buf := new(bytes.Buffer)
	if err := s.Save(buf); err != nil {
		t.Fatal(err)
	}
	// The image format is stable.
	if err := golden.Compare(filepath.Join("testdata", "image.golden.gz"), *update, buf.Bytes()); err != nil {
		t.Error(err)
	}
	s2 := New()
	if err := s2.Load(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatal(err)
	}
	if s2.Fuse(0, 0) != 0x12 || s2.Fuse(1, Size-1) != 0x34 {
		t.Error("fuses not restored")
	}
	if err := s2.Load(bytes.NewReader([]byte{0xa0})); err == nil {
		t.Error("empty image accepted")
	}
}
