// Package otp drives the one-time-programmable fuse controller:
// reading and programming fuse bits, per-block access control and
// key slot retrieval.
//
// A Device is not safe for concurrent use. The controller has a single
// set of address and command registers, so callers sharing a Device
// must serialize access.
package otp

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"periph.io/x/conn/v3/physic"

	"fusebox.dev/driver/otp/otpreg"
	"fusebox.dev/driver/regs"
	"fusebox.dev/ecc"
)

// Array selects the addressing context of a byte address.
type Array uint8

const (
	KeyArray Array = iota
	FuseArray
)

func (a Array) String() string {
	switch a {
	case KeyArray:
		return "key"
	case FuseArray:
		return "fuse"
	default:
		return fmt.Sprintf("Array(%d)", a)
	}
}

const (
	// Size is the number of bytes of each array.
	Size = 8192
	// MaxAddress is the highest byte address.
	MaxAddress = Size - 1
	// NumBlocks is the number of access control blocks.
	NumBlocks = otpreg.NumBlocks

	// DefaultTimeoutPulses is the default number of status polls
	// before a hardware operation is considered failed.
	DefaultTimeoutPulses = 4096

	// MinPulses is the number of legacy programming pulses issued
	// before the result is verified.
	MinPulses = 4
	// MaxPulses is the maximum number of legacy programming pulses
	// for a bit.
	MaxPulses = 20

	// pollCycles is the approximate number of APB cycles spent by a
	// single status poll.
	pollCycles = 8
)

var (
	// ErrHardware is returned when the controller doesn't complete an
	// operation within its polling bound, or a bit fails to program.
	ErrHardware = errors.New("otp: hardware error")
	// ErrAccessDenied is returned when the access control blocks or
	// the key access strap reject an operation.
	ErrAccessDenied = errors.New("otp: access denied")
	// ErrInvalidParameter is returned for malformed addresses, sizes
	// and indices.
	ErrInvalidParameter = errors.New("otp: invalid parameter")
	// ErrBadChecksum is returned when ECC decoding detected
	// uncorrectable corruption. Data is still returned.
	ErrBadChecksum = ecc.ErrBadChecksum
	// ErrUnsupportedModification is returned for writes that require
	// a programmed bit to be cleared.
	ErrUnsupportedModification = errors.New("otp: unsupported modification")
)

// timeoutError reports an exhausted polling loop.
type timeoutError struct {
	op    string
	polls int
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("otp: %s: not ready after %d polls", e.op, e.polls)
}

func (e *timeoutError) Is(target error) bool {
	return target == ErrHardware
}

// Algorithm selects how bits are programmed.
type Algorithm int

const (
	// Smart lets the controller time the programming pulse.
	Smart Algorithm = iota
	// Legacy issues software timed pulses until the bit verifies.
	Legacy
)

func (a Algorithm) String() string {
	switch a {
	case Smart:
		return "smart"
	case Legacy:
		return "legacy"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// State is the controller state as tracked by the driver.
type State int

const (
	Idle State = iota
	Addressing
	ReadPulse
	ProgramPulse
	PollingReady
	HardwareError
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Addressing:
		return "addressing"
	case ReadPulse:
		return "read pulse"
	case ProgramPulse:
		return "program pulse"
	case PollingReady:
		return "polling ready"
	case HardwareError:
		return "hardware error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config selects how a Device drives the controller.
type Config struct {
	// Algorithm selects the programming algorithm.
	Algorithm Algorithm
	// SecureProgram enables the program magic word. Every PROGRAM
	// command is preceded by a write of the accumulated magic word.
	SecureProgram bool
	// TimeoutPulses bounds every status polling loop. Zero means
	// DefaultTimeoutPulses.
	TimeoutPulses int
	// APBClock is the peripheral bus clock, programmed by Init.
	APBClock physic.Frequency
	// Logger receives warnings. The zero value discards them.
	Logger logr.Logger
	// Metrics is optional.
	Metrics *Metrics
}

// Device drives an OTP controller.
type Device struct {
	bus     regs.Bus
	conf    Config
	log     logr.Logger
	metrics *Metrics
	state   State

	// magic is the program magic word accumulator.
	magic uint32
	// workflows is the nesting depth of programming workflows.
	workflows int
}

// New returns a Device for the controller reached through bus.
// Call Init before use.
func New(bus regs.Bus, conf Config) *Device {
	if conf.TimeoutPulses <= 0 {
		conf.TimeoutPulses = DefaultTimeoutPulses
	}
	log := conf.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Device{
		bus:     bus,
		conf:    conf,
		log:     log,
		metrics: conf.Metrics,
	}
}

// Init programs the controller clock rate from the configured APB
// clock.
func (d *Device) Init() error {
	return d.SetClock(d.conf.APBClock)
}

// SetClock programs the controller with the APB clock rate, rounded
// up to the nearest MHz. It must be called again if the clock
// changes; the controller doesn't sense it.
func (d *Device) SetClock(apb physic.Frequency) error {
	mhz := (apb + physic.MegaHertz - 1) / physic.MegaHertz
	if mhz < 1 || mhz > 0xff {
		return fmt.Errorf("otp: clock %v: %w", apb, ErrInvalidParameter)
	}
	if err := regs.WriteField(d.bus, otpreg.CfgClkMHz, uint32(mhz)); err != nil {
		return fmt.Errorf("otp: set clock: %w", err)
	}
	d.conf.APBClock = apb
	return nil
}

// PollDuration estimates the wall clock duration of a number of
// status polls at the configured APB clock.
func (d *Device) PollDuration(polls int) time.Duration {
	if d.conf.APBClock <= 0 {
		return 0
	}
	return time.Duration(polls*pollCycles) * d.conf.APBClock.Period()
}

// State returns the controller state as of the last operation.
func (d *Device) State() State {
	return d.state
}

// Config returns the device configuration.
func (d *Device) Config() Config {
	return d.conf
}

// WaitReady polls the controller ready status up to timeoutPulses
// times, or the configured bound if timeoutPulses is zero. The ready
// acknowledgement is cleared whether or not the controller became
// ready.
func (d *Device) WaitReady(timeoutPulses int) error {
	if timeoutPulses <= 0 {
		timeoutPulses = d.conf.TimeoutPulses
	}
	d.state = PollingReady
	ready := false
	var berr error
	for range timeoutPulses {
		rdy, err := regs.ReadField(d.bus, otpreg.StatusRdy)
		if err != nil {
			berr = err
			break
		}
		if rdy != 0 {
			ready = true
			break
		}
	}
	ack := regs.WriteRegister(d.bus, otpreg.STATUS, otpreg.StatusDone.Set(0, 1))
	switch {
	case berr != nil:
		d.state = HardwareError
		return fmt.Errorf("otp: wait ready: %w", berr)
	case !ready:
		d.state = HardwareError
		d.metrics.timeout()
		d.log.Info("controller not ready", "polls", timeoutPulses)
		return &timeoutError{op: "wait ready", polls: timeoutPulses}
	case ack != nil:
		d.state = HardwareError
		return fmt.Errorf("otp: acknowledge ready: %w", ack)
	}
	d.state = Idle
	return nil
}

// ReadByte reads a byte. The data register is scrubbed before
// returning. ReadByte doesn't check access control.
func (d *Device) ReadByte(array Array, addr uint16) (b byte, err error) {
	if err := checkRange(array, addr, 1); err != nil {
		return 0, err
	}
	d.state = Addressing
	if err := d.WaitReady(0); err != nil {
		return 0, err
	}
	defer func() {
		// Don't leave the result readable.
		if serr := regs.WriteRegister(d.bus, otpreg.DATA, otpreg.CleanData); serr != nil && err == nil {
			err = fmt.Errorf("otp: scrub data: %w", serr)
		}
	}()
	d.state = Addressing
	if err := regs.WriteRegister(d.bus, otpreg.ADDR, otpreg.AddrWord(uint32(array), uint32(addr), 0)); err != nil {
		return 0, fmt.Errorf("otp: read %v %#x: %w", array, addr, err)
	}
	d.state = ReadPulse
	if err := regs.WriteField(d.bus, otpreg.CtrlRead, 1); err != nil {
		return 0, fmt.Errorf("otp: read %v %#x: %w", array, addr, err)
	}
	d.metrics.readCycle()
	if err := d.WaitReady(0); err != nil {
		return 0, fmt.Errorf("otp: read %v %#x: %w", array, addr, err)
	}
	v, err := regs.ReadField(d.bus, otpreg.DataData)
	if err != nil {
		return 0, fmt.Errorf("otp: read %v %#x: %w", array, addr, err)
	}
	return byte(v), nil
}

// Read reads len(buf) consecutive bytes starting at addr. Every byte
// is attempted; errors are aggregated.
func (d *Device) Read(array Array, addr uint16, buf []byte) error {
	if err := checkRange(array, addr, len(buf)); err != nil {
		return err
	}
	var errs []error
	for i := range buf {
		b, err := d.ReadByte(array, addr+uint16(i))
		if err != nil {
			errs = append(errs, err)
		}
		buf[i] = b
	}
	return errors.Join(errs...)
}

// BitIsProgrammed reports whether a bit reads as programmed.
func (d *Device) BitIsProgrammed(array Array, addr uint16, bit uint8) (bool, error) {
	if bit > 7 {
		return false, fmt.Errorf("otp: bit %d: %w", bit, ErrInvalidParameter)
	}
	b, err := d.ReadByte(array, addr)
	if err != nil {
		return false, err
	}
	return b&(1<<bit) != 0, nil
}

func checkRange(array Array, addr uint16, n int) error {
	if array != KeyArray && array != FuseArray {
		return fmt.Errorf("otp: %v: %w", array, ErrInvalidParameter)
	}
	if n < 0 || int(addr)+n > Size || addr > MaxAddress {
		return fmt.Errorf("otp: %v range %#x+%d: %w", array, addr, n, ErrInvalidParameter)
	}
	return nil
}
