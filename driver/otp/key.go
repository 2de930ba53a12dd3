package otp

import (
	"bytes"
	"errors"
	"fmt"

	"fusebox.dev/driver/otp/otpreg"
	"fusebox.dev/driver/regs"
)

// KeyType selects the kind of key slot.
type KeyType int

const (
	AES KeyType = iota
	ECC
)

func (t KeyType) String() string {
	switch t {
	case AES:
		return "aes"
	case ECC:
		return "ecc"
	default:
		return fmt.Sprintf("KeyType(%d)", int(t))
	}
}

// Key slot layout of the key array.
const (
	aesKeyBase  = 256
	aesKeySize  = 64
	aesKeyBlock = 6
	aesKeySlots = 4

	eccKeyBase  = 3328
	eccKeySize  = 128
	eccKeyBlock = 32
	eccKeySlots = 16

	// numKeyIndices is the range of the key interface index.
	numKeyIndices = 32
)

// KeySlot identifies a key in the key array.
type KeySlot struct {
	Type  KeyType
	Index int
}

func (s KeySlot) String() string {
	return fmt.Sprintf("%v[%d]", s.Type, s.Index)
}

// Valid reports whether the slot exists.
func (s KeySlot) Valid() bool {
	switch s.Type {
	case AES:
		return s.Index >= 0 && s.Index < aesKeySlots
	case ECC:
		return s.Index >= 0 && s.Index < eccKeySlots
	}
	return false
}

// Address returns the byte address of the first key byte.
func (s KeySlot) Address() uint16 {
	if s.Type == AES {
		return uint16(aesKeyBase + aesKeySize*s.Index)
	}
	return uint16(eccKeyBase + eccKeySize*s.Index)
}

// Size returns the key size in bytes.
func (s KeySlot) Size() int {
	if s.Type == AES {
		return aesKeySize
	}
	return eccKeySize
}

// Block returns the access control block guarding the slot.
func (s KeySlot) Block() int {
	if s.Type == AES {
		return aesKeyBlock + s.Index
	}
	return eccKeyBlock + s.Index
}

func (d *Device) keySlot(typ KeyType, index int, n int) (KeySlot, error) {
	s := KeySlot{Type: typ, Index: index}
	if !s.Valid() {
		return s, fmt.Errorf("otp: key %v: %w", s, ErrInvalidParameter)
	}
	if n < s.Size() {
		return s, fmt.Errorf("otp: key %v: %d byte buffer: %w", s, n, ErrInvalidParameter)
	}
	return s, nil
}

// KeyAccessDisabled reports whether DisableKeyAccess is in effect.
func (d *Device) KeyAccessDisabled() (bool, error) {
	v, err := regs.ReadField(d.bus, otpreg.CfgKeyDis)
	if err != nil {
		return false, fmt.Errorf("otp: key access: %w", err)
	}
	return v != 0, nil
}

func (d *Device) deny(s KeySlot, why string) error {
	d.metrics.accessDenied()
	d.log.V(1).Info("key access denied", "slot", s.String(), "reason", why)
	return fmt.Errorf("otp: key %v: %s: %w", s, why, ErrAccessDenied)
}

// ReadKey reads the key in slot index of type typ into the start of
// buf. The key access strap and the read lock of the slot block are
// checked before the key array is touched.
func (d *Device) ReadKey(typ KeyType, index int, buf []byte) error {
	s, err := d.keySlot(typ, index, len(buf))
	if err != nil {
		return err
	}
	disabled, err := d.KeyAccessDisabled()
	if err != nil {
		return err
	}
	if disabled {
		return d.deny(s, "key access disabled")
	}
	ok, err := d.CheckReadAllowed(s.Block())
	if err != nil {
		return err
	}
	if !ok {
		return d.deny(s, "read locked")
	}
	if err := d.Read(KeyArray, s.Address(), buf[:s.Size()]); err != nil {
		return fmt.Errorf("otp: key %v: %w", s, err)
	}
	return nil
}

// WriteKey programs a key into a slot. Slot contents that would need
// a programmed bit cleared are rejected before any bit is programmed.
func (d *Device) WriteKey(typ KeyType, index int, key []byte) (err error) {
	s, err := d.keySlot(typ, index, len(key))
	if err != nil {
		return err
	}
	if len(key) != s.Size() {
		return fmt.Errorf("otp: key %v: %d byte key: %w", s, len(key), ErrInvalidParameter)
	}
	disabled, err := d.KeyAccessDisabled()
	if err != nil {
		return err
	}
	if disabled {
		return d.deny(s, "key access disabled")
	}
	ok, err := d.CheckWriteAllowed(s.Block())
	if err != nil {
		return err
	}
	if !ok {
		return d.deny(s, "write locked")
	}
	d.begin()
	defer func() {
		err = errors.Join(err, d.end())
	}()
	cur := make([]byte, len(key))
	if err := d.Read(KeyArray, s.Address(), cur); err != nil {
		return fmt.Errorf("otp: key %v: %w", s, err)
	}
	if bytes.Equal(cur, key) {
		return nil
	}
	if err := checkMonotonic(cur, key); err != nil {
		return fmt.Errorf("otp: key %v: %w", s, err)
	}
	if err := d.Program(KeyArray, s.Address(), key); err != nil {
		return fmt.Errorf("otp: key %v: %w", s, err)
	}
	return nil
}

// SelectKey points the key interface at a key index and waits for
// the key to become valid.
func (d *Device) SelectKey(index int) error {
	if index < 0 || index >= numKeyIndices {
		return fmt.Errorf("otp: select key %d: %w", index, ErrInvalidParameter)
	}
	if err := d.strobeKey(func(v uint32) uint32 {
		v = otpreg.KeyIndex.Set(v, uint32(index))
		return otpreg.KeySelect.Set(v, 1)
	}); err != nil {
		return fmt.Errorf("otp: select key %d: %w", index, err)
	}
	for range d.conf.TimeoutPulses {
		valid, err := regs.ReadField(d.bus, otpreg.KeyValid)
		if err != nil {
			return fmt.Errorf("otp: select key %d: %w", index, err)
		}
		if valid != 0 {
			return nil
		}
	}
	d.metrics.timeout()
	return &timeoutError{op: fmt.Sprintf("select key %d", index), polls: d.conf.TimeoutPulses}
}

// UploadKey transfers a key to the consuming engine. The engine must
// be idle: UploadKey waits for the key interface without bound.
func (d *Device) UploadKey(size, index int) error {
	if size < 0 || size > int(otpreg.KeySize.Mask()>>otpreg.KeySize.Shift) {
		return fmt.Errorf("otp: upload key size %d: %w", size, ErrInvalidParameter)
	}
	if index < 0 || index >= numKeyIndices {
		return fmt.Errorf("otp: upload key %d: %w", index, ErrInvalidParameter)
	}
	if err := d.strobeKey(func(v uint32) uint32 {
		v = otpreg.KeySize.Set(v, uint32(size))
		v = otpreg.KeyIndex.Set(v, uint32(index))
		return otpreg.KeyUpload.Set(v, 1)
	}); err != nil {
		return fmt.Errorf("otp: upload key %d: %w", index, err)
	}
	for {
		valid, err := regs.ReadField(d.bus, otpreg.KeyValid)
		if err != nil {
			return fmt.Errorf("otp: upload key %d: %w", index, err)
		}
		if valid != 0 {
			return nil
		}
	}
}

// strobeKey updates KEYIDX, preserving the ECC disable bit.
func (d *Device) strobeKey(update func(v uint32) uint32) error {
	v, err := d.bus.ReadRegister(otpreg.KEYIDX)
	if err != nil {
		return err
	}
	v = otpreg.KeyValid.Set(v, 0)
	v = otpreg.KeySelect.Set(v, 0)
	v = otpreg.KeyUpload.Set(v, 0)
	return regs.WriteRegister(d.bus, otpreg.KEYIDX, update(v))
}

// DisableKeyAccess disables all key access until power-on reset.
func (d *Device) DisableKeyAccess() error {
	if err := regs.WriteField(d.bus, otpreg.CfgKeyDis, 1); err != nil {
		return fmt.Errorf("otp: disable key access: %w", err)
	}
	return nil
}
