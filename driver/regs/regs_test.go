package regs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/go-logr/logr"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/conntest"
)

type memBus map[uint32]uint32

func (m memBus) ReadRegister(reg uint32) (uint32, error) {
	return m[reg], nil
}

func (m memBus) WriteRegister(reg uint32, val uint32) error {
	m[reg] = val
	return nil
}

func TestField(t *testing.T) {
	tests := []struct {
		f    Field
		mask uint32
	}{
		{Field{Shift: 0, Width: 1}, 0x1},
		{Field{Shift: 8, Width: 8}, 0xff00},
		{Field{Shift: 16, Width: 3}, 0x70000},
		{Field{Shift: 0, Width: 32}, 0xffffffff},
	}
	for _, test := range tests {
		if got := test.f.Mask(); got != test.mask {
			t.Errorf("%v: mask %#x, expected %#x", test.f, got, test.mask)
		}
	}
	f := Field{Shift: 8, Width: 4}
	if got := f.Set(0xffffffff, 0x5); got != 0xfffff5ff {
		t.Errorf("set: got %#x", got)
	}
	// Excess bits are discarded.
	if got := f.Set(0, 0x1f); got != 0xf00 {
		t.Errorf("set overflow: got %#x", got)
	}
	if got := f.Get(0x1234_5a78); got != 0xa {
		t.Errorf("get: got %#x", got)
	}
}

func TestWriteField(t *testing.T) {
	b := memBus{0x10: 0x0000_1000}
	f := Field{Reg: 0x10, Shift: 0, Width: 5}
	if err := WriteField(b, f, 7); err != nil {
		t.Fatal(err)
	}
	if got := b[0x10]; got != 0x1007 {
		t.Errorf("register %#x, expected %#x", got, 0x1007)
	}
	v, err := ReadField(b, f)
	if err != nil {
		t.Fatal(err)
	}
	if v != 7 {
		t.Errorf("read field %d, expected 7", v)
	}
}

func TestMMR(t *testing.T) {
	p := &conntest.Playback{
		D: conn.Half,
		Ops: []conntest.IO{
			{W: []byte{0x04}, R: []byte{0x01, 0x00, 0x00, 0x00}},
			{W: []byte{0x0c, 0x04, 0x03, 0x02, 0x01}},
		},
	}
	m := NewMMR(p)
	v, err := m.ReadRegister(0x04)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("read %#x, expected 1", v)
	}
	if err := m.WriteRegister(0x0c, 0x01020304); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Error(err)
	}
	if _, err := m.ReadRegister(0x100); err == nil {
		t.Error("out of range register accepted")
	}
}

// bridge emulates the serial register bridge.
type bridge struct {
	regs    memBus
	out     bytes.Buffer
	corrupt bool
}

func (b *bridge) Write(p []byte) (int, error) {
	switch len(p) {
	case 3:
		if crc8(p[:2]) != p[2] {
			return 0, errors.New("bad request crc")
		}
		reply := make([]byte, 7)
		reply[0] = uartSync
		reply[1] = p[1]
		binary.BigEndian.PutUint32(reply[2:], b.regs[uint32(p[1])])
		reply[6] = crc8(reply[:6])
		if b.corrupt {
			reply[6] ^= 0xff
		}
		b.out.Write(reply)
	case 7:
		if crc8(p[:6]) != p[6] || p[1]&uartWrite == 0 {
			return 0, errors.New("bad write datagram")
		}
		b.regs[uint32(p[1]&^uartWrite)] = binary.BigEndian.Uint32(p[2:])
	default:
		return 0, errors.New("unexpected datagram")
	}
	return len(p), nil
}

func (b *bridge) Read(p []byte) (int, error) {
	if b.out.Len() == 0 {
		return 0, io.EOF
	}
	return b.out.Read(p)
}

func TestUART(t *testing.T) {
	br := &bridge{regs: memBus{}}
	u := &UART{Port: br}
	if err := u.WriteRegister(0x14, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	v, err := u.ReadRegister(0x14)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xdeadbeef {
		t.Errorf("read %#x, expected 0xdeadbeef", v)
	}
	br.corrupt = true
	u.Attempts = 2
	_, err = u.ReadRegister(0x14)
	var crcErr *CRCError
	if !errors.As(err, &crcErr) {
		t.Errorf("got %v, expected a crc error", err)
	}
}

func TestTrace(t *testing.T) {
	b := memBus{}
	tr := &Trace{Bus: b, Log: logr.Discard()}
	if err := tr.WriteRegister(0x08, 42); err != nil {
		t.Fatal(err)
	}
	v, err := tr.ReadRegister(0x08)
	if err != nil {
		t.Fatal(err)
	}
	if v != 42 {
		t.Errorf("read %d through trace, expected 42", v)
	}
}

func TestHalfDuplex(t *testing.T) {
	p := &conntest.Playback{
		D: conn.Full,
		Ops: []conntest.IO{
			{W: []byte{0x08, 0, 0, 0, 0}, R: []byte{0xff, 0x78, 0x56, 0x34, 0x12}},
		},
	}
	m := NewMMR(&HalfDuplex{Conn: p})
	v, err := m.ReadRegister(0x08)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x12345678 {
		t.Errorf("read %#x, expected 0x12345678", v)
	}
	if err := p.Close(); err != nil {
		t.Error(err)
	}
}
