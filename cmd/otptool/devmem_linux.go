package main

import (
	"fusebox.dev/driver/otp/otpreg"
	"fusebox.dev/driver/regs"
)

func openDevMem(base int64) (regs.Bus, func() error, error) {
	m, err := regs.OpenDevMem(base, otpreg.Span)
	if err != nil {
		return nil, nil, err
	}
	return m, m.Close, nil
}
