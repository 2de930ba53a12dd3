//go:build !linux

package main

import (
	"errors"

	"fusebox.dev/driver/regs"
)

func openDevMem(base int64) (regs.Bus, func() error, error) {
	return nil, nil, errors.New("devmem: not supported on this platform")
}
