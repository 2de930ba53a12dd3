package regs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// UART reaches the registers through a serial debug bridge speaking
// a datagram protocol:
//
//	read request:  sync, reg, crc
//	read reply:    sync, reg, value (4 bytes, big endian), crc
//	write request: sync, reg|0x80, value (4 bytes, big endian), crc
//
// Writes are not acknowledged.
type UART struct {
	Port io.ReadWriter
	// Attempts is the number of attempts for a read before giving
	// up. Zero means 1.
	Attempts int

	scratch [7]byte
}

const (
	uartSync  = 0x05
	uartWrite = 0x80
)

// CRCError is returned for replies that fail the checksum.
type CRCError struct {
	Got, Want byte
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("regs: reply crc %#.2x, expected %#.2x", e.Got, e.Want)
}

func (u *UART) ReadRegister(reg uint32) (uint32, error) {
	if reg >= uartWrite {
		return 0, fmt.Errorf("regs: register %#x out of bridge range", reg)
	}
	wr, rx := u.scratch[:3], u.scratch[:7]
	var lerr error
	for range max(1, u.Attempts) {
		wr[0] = uartSync
		wr[1] = byte(reg)
		wr[2] = crc8(wr[:2])
		if _, err := u.Port.Write(wr); err != nil {
			lerr = fmt.Errorf("regs: write: %w", err)
			continue
		}
		if _, err := io.ReadFull(u.Port, rx); err != nil {
			lerr = fmt.Errorf("regs: read: %w", err)
			continue
		}
		if rx[0] != uartSync {
			lerr = errors.New("regs: read: invalid sync byte")
			continue
		}
		if rx[1] != byte(reg) {
			lerr = errors.New("regs: read: unexpected register in reply")
			continue
		}
		if want := crc8(rx[:6]); rx[6] != want {
			lerr = &CRCError{Got: rx[6], Want: want}
			continue
		}
		return binary.BigEndian.Uint32(rx[2:6]), nil
	}
	return 0, lerr
}

func (u *UART) WriteRegister(reg uint32, val uint32) error {
	if reg >= uartWrite {
		return fmt.Errorf("regs: register %#x out of bridge range", reg)
	}
	wr := u.scratch[:7]
	writeDatagram(wr, byte(reg), val)
	if _, err := u.Port.Write(wr); err != nil {
		return fmt.Errorf("regs: write: %w", err)
	}
	return nil
}

func writeDatagram(b []byte, reg uint8, val uint32) {
	b[0] = uartSync
	b[1] = reg | uartWrite
	binary.BigEndian.PutUint32(b[2:], val)
	b[6] = crc8(b[:6])
}

func crc8(data []byte) byte {
	crc := byte(0)
	for _, b := range data {
		for range 8 {
			xor := (crc>>7)^(b&0b1) != 0
			crc <<= 1
			b >>= 1
			if xor {
				crc ^= 0b111
			}
		}
	}
	return crc
}
