//go:build linux

package regs

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DevMem maps a physical register window through /dev/mem.
type DevMem struct {
	mem []byte
}

// OpenDevMem maps size bytes of physical memory at base, which must
// be page aligned.
func OpenDevMem(base int64, size int) (*DevMem, error) {
	if base%int64(os.Getpagesize()) != 0 {
		return nil, fmt.Errorf("regs: base %#x is not page aligned", base)
	}
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("regs: %w", err)
	}
	// The mapping stays valid after the file is closed.
	defer f.Close()
	mem, err := unix.Mmap(int(f.Fd()), base, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("regs: mmap %#x: %w", base, err)
	}
	return &DevMem{mem: mem}, nil
}

func (d *DevMem) word(reg uint32) (*uint32, error) {
	if reg%4 != 0 || int(reg)+4 > len(d.mem) {
		return nil, fmt.Errorf("regs: register %#x outside window", reg)
	}
	return (*uint32)(unsafe.Pointer(&d.mem[reg])), nil
}

func (d *DevMem) ReadRegister(reg uint32) (uint32, error) {
	w, err := d.word(reg)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(w), nil
}

func (d *DevMem) WriteRegister(reg uint32, val uint32) error {
	w, err := d.word(reg)
	if err != nil {
		return err
	}
	atomic.StoreUint32(w, val)
	return nil
}

func (d *DevMem) Close() error {
	if d.mem == nil {
		return nil
	}
	err := unix.Munmap(d.mem)
	d.mem = nil
	return err
}
