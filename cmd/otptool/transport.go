package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/go-logr/logr"
	"github.com/tarm/serial"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"fusebox.dev/cmd/otptool/board"
	"fusebox.dev/driver/otp/otpsim"
	"fusebox.dev/driver/regs"
)

// openBus connects to the controller described by p. The returned
// function releases the bus.
func openBus(p *board.Profile, log logr.Logger) (regs.Bus, func() error, error) {
	bus, closer, err := open(p)
	if err != nil {
		return nil, nil, err
	}
	log.V(1).Info("connected", "transport", p.Transport, "device", p.Device)
	if log.V(2).Enabled() {
		bus = &regs.Trace{Bus: bus, Log: log.WithName("regs")}
	}
	return bus, closer, nil
}

func open(p *board.Profile) (regs.Bus, func() error, error) {
	switch p.Transport {
	case board.Sim:
		return openSim(p)
	case board.I2C:
		if _, err := host.Init(); err != nil {
			return nil, nil, err
		}
		b, err := i2creg.Open(p.Device)
		if err != nil {
			return nil, nil, fmt.Errorf("i2c: %w", err)
		}
		dev := &i2c.Dev{Bus: b, Addr: p.Address}
		return regs.NewMMR(dev), b.Close, nil
	case board.SPI:
		if _, err := host.Init(); err != nil {
			return nil, nil, err
		}
		f, err := p.SPIFrequency()
		if err != nil {
			return nil, nil, err
		}
		port, err := spireg.Open(p.Device)
		if err != nil {
			return nil, nil, fmt.Errorf("spi: %w", err)
		}
		c, err := port.Connect(f, spi.Mode0, 8)
		if err != nil {
			port.Close()
			return nil, nil, fmt.Errorf("spi: %w", err)
		}
		return regs.NewMMR(&regs.HalfDuplex{Conn: c}), port.Close, nil
	case board.Serial:
		s, err := serial.OpenPort(&serial.Config{Name: p.Device, Baud: p.Baud})
		if err != nil {
			return nil, nil, fmt.Errorf("serial: %w", err)
		}
		return &regs.UART{Port: s}, s.Close, nil
	case board.DevMem:
		return openDevMem(p.Base)
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", p.Transport)
	}
}

// openSim loads the simulator image named by the profile, if any. The
// image is written back when the bus is released.
func openSim(p *board.Profile) (regs.Bus, func() error, error) {
	sim := otpsim.New()
	sim.SecureProgram = p.SecureProgram
	if p.Device == "" {
		return sim, func() error { return nil }, nil
	}
	f, err := os.Open(p.Device)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, nil, err
	default:
		err := sim.Load(f)
		f.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", p.Device, err)
		}
	}
	save := func() error {
		f, err := os.Create(p.Device)
		if err != nil {
			return err
		}
		if err := sim.Save(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return sim, save, nil
}
