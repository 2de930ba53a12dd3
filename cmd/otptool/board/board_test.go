package board

import (
	"os"
	"path/filepath"
	"testing"

	"periph.io/x/conn/v3/physic"

	"fusebox.dev/driver/otp"
)

func TestParse(t *testing.T) {
	const profile = `
transport: i2c
device: "1"
address: 0x42
apbClock: 24MHz
algorithm: legacy
secureProgram: true
timeoutPulses: 100
`
	p, err := Parse([]byte(profile))
	if err != nil {
		t.Fatal(err)
	}
	if p.Transport != I2C || p.Device != "1" || p.Address != 0x42 {
		t.Errorf("unexpected profile %+v", p)
	}
	// Defaults are kept.
	if p.Baud != 115200 {
		t.Errorf("baud rate %d", p.Baud)
	}
	conf, err := p.OTPConfig()
	if err != nil {
		t.Fatal(err)
	}
	if conf.Algorithm != otp.Legacy || !conf.SecureProgram || conf.TimeoutPulses != 100 {
		t.Errorf("unexpected config %+v", conf)
	}
	if conf.APBClock != 24*physic.MegaHertz {
		t.Errorf("apb clock %v", conf.APBClock)
	}
}

func TestInvalid(t *testing.T) {
	tests := []string{
		"transport: can",
		"transport: i2c",
		"transport: i2c\naddress: 0x80",
		"transport: serial",
		"transport: devmem",
		"algorithm: fast",
		"apbClock: fast",
		"apbClock: 0Hz",
		"timeoutPulses: -1",
		"transport: [",
	}
	for _, test := range tests {
		if _, err := Parse([]byte(test)); err == nil {
			t.Errorf("%q: invalid profile accepted", test)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte("transport: devmem\nbase: 0x40010000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Base != 0x40010000 {
		t.Errorf("base %#x", p.Base)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing profile loaded")
	}
}
