package regs

import (
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/mmr"
)

// MMR reaches the registers over a half-duplex connection (I²C, SPI)
// with 8-bit register addresses and little endian words.
type MMR struct {
	dev mmr.Dev8
}

// NewMMR returns a Bus using the memory-mapped register protocol on c.
func NewMMR(c conn.Conn) *MMR {
	return &MMR{dev: mmr.Dev8{Conn: c, Order: binary.LittleEndian}}
}

func (m *MMR) ReadRegister(reg uint32) (uint32, error) {
	if reg > 0xff {
		return 0, fmt.Errorf("regs: register %#x out of 8-bit range", reg)
	}
	return m.dev.ReadUint32(uint8(reg))
}

func (m *MMR) WriteRegister(reg uint32, val uint32) error {
	if reg > 0xff {
		return fmt.Errorf("regs: register %#x out of 8-bit range", reg)
	}
	return m.dev.WriteUint32(uint8(reg), val)
}

func (m *MMR) String() string {
	return m.dev.String()
}

// HalfDuplex adapts a full duplex connection (SPI) to the half duplex
// register protocol by clocking out the write followed by dummy bytes
// while the read is clocked in.
type HalfDuplex struct {
	Conn conn.Conn
}

func (h *HalfDuplex) Tx(w, r []byte) error {
	if h.Conn.Duplex() != conn.Full {
		return h.Conn.Tx(w, r)
	}
	out := make([]byte, len(w)+len(r))
	copy(out, w)
	in := make([]byte, len(out))
	if err := h.Conn.Tx(out, in); err != nil {
		return err
	}
	copy(r, in[len(w):])
	return nil
}

func (h *HalfDuplex) Duplex() conn.Duplex {
	return conn.Half
}

func (h *HalfDuplex) String() string {
	return h.Conn.String()
}
