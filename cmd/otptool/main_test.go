package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"fusebox.dev/driver/otp"
	"fusebox.dev/driver/otp/otpsim"
)

func TestProgramRead(t *testing.T) {
	img := filepath.Join(t.TempDir(), "otp.img")
	exec(t, "-sim %s program 0x10 0f5a", img)
	if got := exec(t, "-sim %s read 0x10 2", img); got != "0f5a" {
		t.Errorf("read %q, expected 0f5a", got)
	}
	// Programming is monotonic.
	exec(t, "-sim %s program 0x10 f000", img)
	if got := exec(t, "-sim %s read 0x10 2", img); got != "ff5a" {
		t.Errorf("read %q, expected ff5a", got)
	}
	if got := exec(t, "-sim %s bit 0x11 1", img); got != "1" {
		t.Errorf("bit read %q, expected 1", got)
	}
	if got := exec(t, "-sim %s -legacy bit -set 0x11 0", img); got != "1" {
		t.Errorf("bit set read %q, expected 1", got)
	}
	if got := exec(t, "-sim %s read -array key 0x10 2", img); got != "0000" {
		t.Errorf("key array read %q", got)
	}
}

func TestSecureProgram(t *testing.T) {
	img := filepath.Join(t.TempDir(), "otp.img")
	exec(t, "-sim %s -secure program 0x20 a5", img)
	if got := exec(t, "-sim %s read 0x20", img); got != "a5" {
		t.Errorf("read %q, expected a5", got)
	}
}

func TestECCStorage(t *testing.T) {
	img := filepath.Join(t.TempDir(), "otp.img")
	exec(t, "-sim %s program -ecc nibble 0x100 beef", img)
	if got := exec(t, "-sim %s read -ecc nibble 0x100 2", img); got != "beef" {
		t.Errorf("read %q, expected beef", got)
	}
	exec(t, "-sim %s program -ecc majority 0x200 aa", img)
	if got := exec(t, "-sim %s read 0x200 3", img); got != "aaaaaa" {
		t.Errorf("raw read %q, expected aaaaaa", got)
	}
	if got := exec(t, "-sim %s read -ecc majority 0x200", img); got != "aa" {
		t.Errorf("read %q, expected aa", got)
	}
}

func TestKeys(t *testing.T) {
	img := filepath.Join(t.TempDir(), "otp.img")
	k := strings.Repeat("5a", 64)
	exec(t, "-sim %s writekey aes 1 %s", img, k)
	if got := exec(t, "-sim %s key -raw aes 1", img); got != k {
		t.Errorf("read key %q", got)
	}
	if got := exec(t, "-sim %s key aes 1", img); !strings.HasPrefix(got, "aes[1] ") {
		t.Errorf("fingerprint %q", got)
	}
	if _, err := execErr("-sim %s writekey aes 1 00", img); err == nil {
		t.Error("short key accepted")
	}
	if _, err := execErr("-sim %s key aes 4", img); err == nil {
		t.Error("key slot 4 read")
	}
}

func TestLocks(t *testing.T) {
	// Locks are volatile; run in a single simulator session.
	var stdout bytes.Buffer
	if err := run(&stdout, nil, strings.Split("lock -read -register 7", " ")); err != nil {
		t.Fatal(err)
	}
	if got := exec(t, "access 7"); got != "---" {
		t.Errorf("access after power-on %q", got)
	}
	if _, err := execErr("lock 64"); !errors.Is(err, otp.ErrInvalidParameter) {
		t.Errorf("lock of block 64 returned %v", err)
	}
	if _, err := execErr("disable-keys"); err == nil {
		t.Error("disable-keys without -confirm accepted")
	}
	exec(t, "disable-keys -confirm")
}

func TestRegs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "regs.cbor")
	got := exec(t, "-apb 12MHz -legacy regs -cbor %s", out)
	if !strings.Contains(got, "clk=12MHz") || !strings.Contains(got, "algorithm legacy") {
		t.Errorf("unexpected register dump:\n%s", got)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var s otp.Snapshot
	if err := cbor.Unmarshal(b, &s); err != nil {
		t.Fatal(err)
	}
	if s.Cfg != 12 {
		t.Errorf("config register %#x in snapshot", s.Cfg)
	}
}

func TestECC(t *testing.T) {
	tests := []struct {
		cmd  string
		want string
	}{
		{"ecc encode majority aa", "aaaaaa"},
		{"ecc decode majority aa00aa", "aa"},
		{"ecc encode nibble 00", "0000"},
		{"ecc encode nibble 0f", "ff00"},
		{"ecc decode nibble ff00", "0f"},
		{"ecc decode nibble fe00", "0f\ncorrected 1"},
	}
	for _, test := range tests {
		if got := exec(t, test.cmd); got != test.want {
			t.Errorf("%s: got %q, expected %q", test.cmd, got, test.want)
		}
	}
	for _, cmd := range []string{
		"ecc decode majority aa00",
		"ecc decode nibble 001",
		"ecc encode hamming 00",
	} {
		if _, err := execErr(cmd); err == nil {
			t.Errorf("%s: accepted", cmd)
		}
	}
}

func TestMetrics(t *testing.T) {
	got := exec(t, "-metrics read 0x10")
	if !strings.Contains(got, "otp_read_cycles_total 1") {
		t.Errorf("metrics missing read cycles:\n%s", got)
	}
}

func TestMagicReset(t *testing.T) {
	d := otp.New(otpsim.New(), otp.Config{})
	tests := []struct {
		name string
		fn   func([]string) error
		args []string
	}{
		{"program", func(args []string) error { return program(d, args) }, []string{"0x10"}},
		{"program", func(args []string) error { return program(d, args) }, []string{"0x10", "zz"}},
		{"writekey", func(args []string) error { return writeKey(d, args) }, []string{"aes", "1", "00"}},
		{"bit", func(args []string) error { return bit(io.Discard, d, args) }, []string{"0x10", "1"}},
		{"bit", func(args []string) error { return bit(io.Discard, d, args) }, []string{"0x10", "9"}},
	}
	for _, test := range tests {
		test.fn(test.args)
		if m := d.Magic(); m != 0 {
			t.Errorf("%s %v: magic word %#x left behind", test.name, test.args, m)
		}
	}
}

func TestUsage(t *testing.T) {
	for _, cmd := range []string{"", "frobnicate", "read", "-sim", "read 0x10 -1", "read -ecc nibble 0x10 -1"} {
		if _, err := execErr(cmd); err == nil {
			t.Errorf("%q: accepted", cmd)
		}
	}
}

func exec(t *testing.T, cmd string, args ...any) string {
	t.Helper()
	cmdline := fmt.Sprintf(cmd, args...)
	stdout, err := execErr(cmdline)
	if err != nil {
		t.Fatalf("'otptool %s' reported '%v'", cmdline, err)
	}
	return stdout
}

func execErr(cmd string, args ...any) (string, error) {
	cmdline := fmt.Sprintf(cmd, args...)
	var fields []string
	if cmdline != "" {
		fields = strings.Split(cmdline, " ")
	}
	stdout := new(bytes.Buffer)
	err := run(stdout, nil, fields)
	return strings.TrimSpace(stdout.String()), err
}
