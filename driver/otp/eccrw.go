package otp

import (
	"errors"
	"fmt"

	"fusebox.dev/ecc"
)

// ReadNibbleParity reads len(buf) bytes stored nibble parity encoded
// at addr. Corrupted data is still returned along with
// ErrBadChecksum. Access control isn't checked.
func (d *Device) ReadNibbleParity(array Array, addr uint16, buf []byte) (ecc.Result, error) {
	raw := make([]byte, ecc.NibbleParityEncodedLen(len(buf)))
	if err := d.Read(array, addr, raw); err != nil {
		return ecc.Result{}, err
	}
	res, err := ecc.NibbleParityDecode(buf, raw)
	d.metrics.ecc(res)
	if err != nil {
		return res, fmt.Errorf("otp: %v %#x: %w", array, addr, err)
	}
	return res, nil
}

// ProgramNibbleParity programs data nibble parity encoded at addr.
func (d *Device) ProgramNibbleParity(array Array, addr uint16, data []byte) error {
	enc := make([]byte, ecc.NibbleParityEncodedLen(len(data)))
	ecc.NibbleParityEncode(enc, data)
	return d.programEncoded(array, addr, enc)
}

// ReadMajority reads len(buf) bytes stored as three copies at addr.
// Access control isn't checked.
func (d *Device) ReadMajority(array Array, addr uint16, buf []byte) error {
	raw := make([]byte, ecc.MajorityEncodedLen(len(buf)))
	if err := d.Read(array, addr, raw); err != nil {
		return err
	}
	if _, err := ecc.MajorityDecode(buf, raw); err != nil {
		return fmt.Errorf("otp: %v %#x: %w", array, addr, err)
	}
	return nil
}

// ProgramMajority programs three copies of data at addr.
func (d *Device) ProgramMajority(array Array, addr uint16, data []byte) error {
	enc := make([]byte, ecc.MajorityEncodedLen(len(data)))
	ecc.MajorityEncode(enc, data)
	return d.programEncoded(array, addr, enc)
}

// programEncoded programs enc after checking that no programmed bit
// is in the way. Encoded data can't be merged with existing bits
// like plain data can.
func (d *Device) programEncoded(array Array, addr uint16, enc []byte) (err error) {
	if err := checkRange(array, addr, len(enc)); err != nil {
		return err
	}
	d.begin()
	defer func() {
		err = errors.Join(err, d.end())
	}()
	cur := make([]byte, len(enc))
	if err := d.Read(array, addr, cur); err != nil {
		return err
	}
	if err := checkMonotonic(cur, enc); err != nil {
		return err
	}
	return d.Program(array, addr, enc)
}
