// Package board loads board profiles describing how to reach an OTP
// controller.
package board

import (
	"errors"
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"periph.io/x/conn/v3/physic"

	"fusebox.dev/driver/otp"
)

// Transports.
const (
	Sim    = "sim"
	I2C    = "i2c"
	SPI    = "spi"
	Serial = "serial"
	DevMem = "devmem"
)

// Profile describes a board.
type Profile struct {
	// Transport is one of sim, i2c, spi, serial or devmem.
	Transport string `json:"transport"`
	// Device names the bus, the serial port or the simulator image.
	Device string `json:"device,omitempty"`
	// Address is the I²C address of the controller.
	Address uint16 `json:"address,omitempty"`
	// Base is the physical address of the register window.
	Base int64 `json:"base,omitempty"`
	// Baud is the serial bridge baud rate.
	Baud int `json:"baud,omitempty"`
	// SPIClock is the SPI clock, for example "10MHz".
	SPIClock string `json:"spiClock,omitempty"`
	// APBClock is the controller clock, for example "48MHz".
	APBClock      string `json:"apbClock,omitempty"`
	Algorithm     string `json:"algorithm,omitempty"`
	SecureProgram bool   `json:"secureProgram,omitempty"`
	TimeoutPulses int    `json:"timeoutPulses,omitempty"`
}

// Default returns the profile used without a configuration file.
func Default() *Profile {
	return &Profile{
		Transport: Sim,
		Baud:      115200,
		SPIClock:  "10MHz",
		APBClock:  "48MHz",
		Algorithm: "smart",
	}
}

// Load reads a YAML profile. Unset fields keep their defaults.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("board: %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML profile.
func Parse(data []byte) (*Profile, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the profile for consistency.
func (p *Profile) Validate() error {
	switch p.Transport {
	case Sim:
	case I2C:
		if p.Address == 0 || p.Address > 0x7f {
			return fmt.Errorf("invalid i2c address %#x", p.Address)
		}
	case SPI:
		if _, err := parseFreq(p.SPIClock); err != nil {
			return fmt.Errorf("spi clock: %w", err)
		}
	case Serial:
		if p.Device == "" {
			return errors.New("serial transport without device")
		}
		if p.Baud <= 0 {
			return fmt.Errorf("invalid baud rate %d", p.Baud)
		}
	case DevMem:
		if p.Base <= 0 {
			return fmt.Errorf("invalid register base %#x", p.Base)
		}
	default:
		return fmt.Errorf("unknown transport %q", p.Transport)
	}
	if _, err := p.OTPConfig(); err != nil {
		return err
	}
	return nil
}

// OTPConfig returns the controller configuration of the profile.
func (p *Profile) OTPConfig() (otp.Config, error) {
	conf := otp.Config{
		SecureProgram: p.SecureProgram,
		TimeoutPulses: p.TimeoutPulses,
	}
	switch p.Algorithm {
	case "", "smart":
		conf.Algorithm = otp.Smart
	case "legacy":
		conf.Algorithm = otp.Legacy
	default:
		return conf, fmt.Errorf("unknown algorithm %q", p.Algorithm)
	}
	if p.TimeoutPulses < 0 {
		return conf, fmt.Errorf("invalid timeout %d", p.TimeoutPulses)
	}
	f, err := parseFreq(p.APBClock)
	if err != nil {
		return conf, fmt.Errorf("apb clock: %w", err)
	}
	conf.APBClock = f
	return conf, nil
}

// SPIFrequency returns the SPI clock.
func (p *Profile) SPIFrequency() (physic.Frequency, error) {
	return parseFreq(p.SPIClock)
}

func parseFreq(s string) (physic.Frequency, error) {
	var f physic.Frequency
	if err := f.Set(s); err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, fmt.Errorf("invalid frequency %q", s)
	}
	return f, nil
}
