// Command otptool reads, programs and locks OTP fuse memory through
// the OTP controller. Without a configuration, it operates on a
// simulated controller.
//
// Programming is irreversible. Use -sim to try commands first.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/blake2b"

	"fusebox.dev/cmd/otptool/board"
	"fusebox.dev/driver/otp"
	"fusebox.dev/ecc"
)

type options struct {
	config  string
	sim     string
	i2c     string
	addr    uint
	spi     string
	serial  string
	devmem  string
	apb     string
	legacy  bool
	secure  bool
	timeout int
	verbose int
	metrics bool
}

func main() {
	if err := run(os.Stdout, os.Stdin, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "otptool: %v\n", err)
		os.Exit(2)
	}
}

const usage = "missing command (read, program, bit, key, writekey, lock, access, disable-keys, select, upload, regs, ecc)"

func run(stdout io.Writer, stdin io.Reader, args []string) error {
	var opts options
	fs := flag.NewFlagSet("otptool", flag.ContinueOnError)
	fs.StringVar(&opts.config, "config", "", "board profile (YAML)")
	fs.StringVar(&opts.sim, "sim", "", "use a simulated controller, persisting fuses to `file`")
	fs.StringVar(&opts.i2c, "i2c", "", "I²C `bus` of the controller")
	fs.UintVar(&opts.addr, "addr", 0, "I²C address of the controller")
	fs.StringVar(&opts.spi, "spi", "", "SPI `port` of the controller")
	fs.StringVar(&opts.serial, "serial", "", "serial register bridge `device`")
	fs.StringVar(&opts.devmem, "devmem", "", "physical `base` address of the memory mapped registers")
	fs.StringVar(&opts.apb, "apb", "", "controller clock (e.g. 48MHz)")
	fs.BoolVar(&opts.legacy, "legacy", false, "use legacy pulse programming")
	fs.BoolVar(&opts.secure, "secure", false, "the controller requires the program magic word")
	fs.IntVar(&opts.timeout, "timeout", 0, "status polls before timing out")
	fs.IntVar(&opts.verbose, "v", 0, "log verbosity")
	fs.BoolVar(&opts.metrics, "metrics", false, "print metrics after the command")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()
	if len(args) == 0 {
		return errors.New(usage)
	}
	cmd, args := args[0], args[1:]
	if cmd == "ecc" {
		return eccCmd(stdout, args)
	}
	prof, err := profile(&opts)
	if err != nil {
		return err
	}
	conf, err := prof.OTPConfig()
	if err != nil {
		return err
	}
	log := newLogger(os.Stderr, opts.verbose)
	conf.Logger = log
	reg := prometheus.NewRegistry()
	conf.Metrics = otp.NewMetrics(reg)
	bus, closer, err := openBus(prof, log)
	if err != nil {
		return err
	}
	d := otp.New(bus, conf)
	err = func() error {
		if err := d.Init(); err != nil {
			return err
		}
		return command(stdout, d, cmd, args)
	}()
	if cerr := closer(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if opts.metrics {
		return dumpMetrics(stdout, reg)
	}
	return nil
}

// profile loads the board profile and applies flag overrides.
func profile(opts *options) (*board.Profile, error) {
	prof := board.Default()
	if opts.config != "" {
		p, err := board.Load(opts.config)
		if err != nil {
			return nil, err
		}
		prof = p
	}
	switch {
	case opts.sim != "":
		prof.Transport, prof.Device = board.Sim, opts.sim
	case opts.i2c != "":
		prof.Transport, prof.Device = board.I2C, opts.i2c
	case opts.spi != "":
		prof.Transport, prof.Device = board.SPI, opts.spi
	case opts.serial != "":
		prof.Transport, prof.Device = board.Serial, opts.serial
	case opts.devmem != "":
		base, err := strconv.ParseInt(opts.devmem, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("-devmem: %w", err)
		}
		prof.Transport, prof.Base = board.DevMem, base
	}
	if opts.addr != 0 {
		prof.Address = uint16(opts.addr)
	}
	if opts.apb != "" {
		prof.APBClock = opts.apb
	}
	if opts.legacy {
		prof.Algorithm = "legacy"
	}
	if opts.secure {
		prof.SecureProgram = true
	}
	if opts.timeout != 0 {
		prof.TimeoutPulses = opts.timeout
	}
	if err := prof.Validate(); err != nil {
		return nil, err
	}
	return prof, nil
}

func newLogger(w io.Writer, verbosity int) logr.Logger {
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), zap.NewAtomicLevelAt(zapcore.Level(-verbosity)))
	return zapr.NewLogger(zap.New(core))
}

func dumpMetrics(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

func command(stdout io.Writer, d *otp.Device, cmd string, args []string) error {
	switch cmd {
	case "read":
		return read(stdout, d, args)
	case "program":
		return program(d, args)
	case "bit":
		return bit(stdout, d, args)
	case "key":
		return key(stdout, d, args)
	case "writekey":
		return writeKey(d, args)
	case "lock":
		return lock(d, args)
	case "access":
		return access(stdout, d, args)
	case "disable-keys":
		return disableKeys(d, args)
	case "select":
		return selectKey(d, args)
	case "upload":
		return upload(d, args)
	case "regs":
		return dumpRegs(stdout, d, args)
	default:
		return fmt.Errorf("unknown command: %q", cmd)
	}
}

func parseArray(s string) (otp.Array, error) {
	switch s {
	case "fuse":
		return otp.FuseArray, nil
	case "key":
		return otp.KeyArray, nil
	default:
		return 0, fmt.Errorf("unknown array %q", s)
	}
}

func parseAddr(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil || v > otp.MaxAddress {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return uint16(v), nil
}

func parseInt(name, s string) (int, error) {
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return int(v), nil
}

func parseKeyType(s string) (otp.KeyType, error) {
	switch s {
	case "aes":
		return otp.AES, nil
	case "ecc":
		return otp.ECC, nil
	default:
		return 0, fmt.Errorf("unknown key type %q", s)
	}
}

func parseHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return b, nil
}

func read(stdout io.Writer, d *otp.Device, args []string) error {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	arrayName := fs.String("array", "fuse", "array (fuse, key)")
	code := fs.String("ecc", "", "decode stored data (nibble, majority)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()
	if len(args) < 1 || len(args) > 2 {
		return errors.New("read: specify ADDR [N]")
	}
	array, err := parseArray(*arrayName)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	n := 1
	if len(args) == 2 {
		if n, err = parseInt("length", args[1]); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if n < 0 {
			return fmt.Errorf("read: invalid length %d", n)
		}
	}
	buf := make([]byte, n)
	switch *code {
	case "":
		err = d.Read(array, addr, buf)
	case "nibble":
		_, err = d.ReadNibbleParity(array, addr, buf)
	case "majority":
		err = d.ReadMajority(array, addr, buf)
	default:
		return fmt.Errorf("read: unknown code %q", *code)
	}
	// Best effort data is printed even for checksum errors.
	if err != nil && !errors.Is(err, otp.ErrBadChecksum) {
		return fmt.Errorf("read: %w", err)
	}
	fmt.Fprintln(stdout, hex.EncodeToString(buf))
	return err
}

func program(d *otp.Device, args []string) error {
	d.MagicInit(otp.MagicSeed)
	defer d.MagicInit(0)
	fs := flag.NewFlagSet("program", flag.ContinueOnError)
	arrayName := fs.String("array", "fuse", "array (fuse, key)")
	code := fs.String("ecc", "", "encode data before programming (nibble, majority)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()
	if len(args) != 2 {
		return errors.New("program: specify ADDR HEXDATA")
	}
	array, err := parseArray(*arrayName)
	if err != nil {
		return fmt.Errorf("program: %w", err)
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return fmt.Errorf("program: %w", err)
	}
	data, err := parseHex(args[1])
	if err != nil {
		return fmt.Errorf("program: %w", err)
	}
	var burn func() error
	switch *code {
	case "":
		burn = func() error { return d.Program(array, addr, data) }
	case "nibble":
		burn = func() error { return d.ProgramNibbleParity(array, addr, data) }
	case "majority":
		burn = func() error { return d.ProgramMajority(array, addr, data) }
	default:
		return fmt.Errorf("program: unknown code %q", *code)
	}
	d.MagicAccumulate(otp.MagicStepConfirm)
	d.MagicAccumulate(otp.MagicStepBurn)
	if err := burn(); err != nil {
		return fmt.Errorf("program: %w", err)
	}
	return nil
}

func bit(stdout io.Writer, d *otp.Device, args []string) error {
	fs := flag.NewFlagSet("bit", flag.ContinueOnError)
	arrayName := fs.String("array", "fuse", "array (fuse, key)")
	set := fs.Bool("set", false, "program the bit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()
	if len(args) != 2 {
		return errors.New("bit: specify ADDR BIT")
	}
	array, err := parseArray(*arrayName)
	if err != nil {
		return fmt.Errorf("bit: %w", err)
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return fmt.Errorf("bit: %w", err)
	}
	b, err := parseInt("bit", args[1])
	if err != nil || b < 0 || b > 7 {
		return fmt.Errorf("bit: invalid bit %q", args[1])
	}
	if *set {
		d.MagicInit(otp.MagicSeed)
		d.MagicAccumulate(otp.MagicStepConfirm)
		d.MagicAccumulate(otp.MagicStepBurn)
		if err := d.ProgramBit(array, addr, uint8(b), true); err != nil {
			return fmt.Errorf("bit: %w", err)
		}
	}
	v, err := d.BitIsProgrammed(array, addr, uint8(b))
	if err != nil {
		return fmt.Errorf("bit: %w", err)
	}
	if v {
		fmt.Fprintln(stdout, 1)
	} else {
		fmt.Fprintln(stdout, 0)
	}
	return nil
}

func key(stdout io.Writer, d *otp.Device, args []string) error {
	fs := flag.NewFlagSet("key", flag.ContinueOnError)
	raw := fs.Bool("raw", false, "print the key instead of its fingerprint")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()
	if len(args) != 2 {
		return errors.New("key: specify TYPE (aes, ecc) INDEX")
	}
	typ, err := parseKeyType(args[0])
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	idx, err := parseInt("index", args[1])
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	slot := otp.KeySlot{Type: typ, Index: idx}
	if !slot.Valid() {
		return fmt.Errorf("key: no slot %v", slot)
	}
	buf := make([]byte, slot.Size())
	if err := d.ReadKey(typ, idx, buf); err != nil {
		return fmt.Errorf("key: %w", err)
	}
	if *raw {
		fmt.Fprintln(stdout, hex.EncodeToString(buf))
		return nil
	}
	sum := blake2b.Sum256(buf)
	fmt.Fprintf(stdout, "%v %x\n", slot, sum[:8])
	return nil
}

func writeKey(d *otp.Device, args []string) error {
	d.MagicInit(otp.MagicSeed)
	defer d.MagicInit(0)
	if len(args) != 3 {
		return errors.New("writekey: specify TYPE (aes, ecc) INDEX HEXKEY")
	}
	typ, err := parseKeyType(args[0])
	if err != nil {
		return fmt.Errorf("writekey: %w", err)
	}
	idx, err := parseInt("index", args[1])
	if err != nil {
		return fmt.Errorf("writekey: %w", err)
	}
	k, err := parseHex(args[2])
	if err != nil {
		return fmt.Errorf("writekey: %w", err)
	}
	if slot := (otp.KeySlot{Type: typ, Index: idx}); !slot.Valid() || len(k) != slot.Size() {
		return fmt.Errorf("writekey: %d byte key doesn't fit slot %v", len(k), slot)
	}
	d.MagicAccumulate(otp.MagicStepConfirm)
	d.MagicAccumulate(otp.MagicStepBurn)
	if err := d.WriteKey(typ, idx, k); err != nil {
		return fmt.Errorf("writekey: %w", err)
	}
	return nil
}

func lock(d *otp.Device, args []string) error {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	r := fs.Bool("read", false, "lock reads")
	w := fs.Bool("write", false, "lock writes")
	l := fs.Bool("register", false, "freeze the block permissions until reset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()
	if len(args) != 1 {
		return errors.New("lock: specify BLOCK")
	}
	block, err := parseInt("block", args[0])
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if err := d.SetBlockAccess(block, *r, *w, *l); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	return nil
}

func access(stdout io.Writer, d *otp.Device, args []string) error {
	if len(args) != 1 {
		return errors.New("access: specify BLOCK")
	}
	block, err := parseInt("block", args[0])
	if err != nil {
		return fmt.Errorf("access: %w", err)
	}
	p, err := d.BlockAccess(block)
	if err != nil {
		return fmt.Errorf("access: %w", err)
	}
	fmt.Fprintln(stdout, p)
	return nil
}

func disableKeys(d *otp.Device, args []string) error {
	fs := flag.NewFlagSet("disable-keys", flag.ContinueOnError)
	confirm := fs.Bool("confirm", false, "confirm disabling key access until reset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*confirm {
		return errors.New("disable-keys: specify -confirm")
	}
	return d.DisableKeyAccess()
}

func selectKey(d *otp.Device, args []string) error {
	if len(args) != 1 {
		return errors.New("select: specify INDEX")
	}
	idx, err := parseInt("index", args[0])
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	return d.SelectKey(idx)
}

func upload(d *otp.Device, args []string) error {
	if len(args) != 2 {
		return errors.New("upload: specify SIZE INDEX")
	}
	size, err := parseInt("size", args[0])
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	idx, err := parseInt("index", args[1])
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return d.UploadKey(size, idx)
}

func dumpRegs(stdout io.Writer, d *otp.Device, args []string) error {
	fs := flag.NewFlagSet("regs", flag.ContinueOnError)
	out := fs.String("cbor", "", "also write the snapshot in CBOR to `file`")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := d.Snapshot()
	if err != nil {
		return fmt.Errorf("regs: %w", err)
	}
	conf := d.Config()
	fmt.Fprintf(stdout, "algorithm %v secure=%v timeout=%d\n", conf.Algorithm, conf.SecureProgram, conf.TimeoutPulses)
	fmt.Fprint(stdout, s)
	if *out == "" {
		return nil
	}
	b, err := cbor.Marshal(s)
	if err != nil {
		return fmt.Errorf("regs: %w", err)
	}
	if err := os.WriteFile(*out, b, 0o644); err != nil {
		return fmt.Errorf("regs: %w", err)
	}
	return nil
}

func eccCmd(stdout io.Writer, args []string) error {
	if len(args) != 3 {
		return errors.New("ecc: specify encode|decode nibble|majority HEXDATA")
	}
	op, code := args[0], args[1]
	data, err := parseHex(args[2])
	if err != nil {
		return fmt.Errorf("ecc: %w", err)
	}
	var out []byte
	switch op + " " + code {
	case "encode nibble":
		out = make([]byte, ecc.NibbleParityEncodedLen(len(data)))
		ecc.NibbleParityEncode(out, data)
	case "encode majority":
		out = make([]byte, ecc.MajorityEncodedLen(len(data)))
		ecc.MajorityEncode(out, data)
	case "decode nibble":
		out = make([]byte, len(data)/2)
		res, err := ecc.NibbleParityDecode(out, data)
		if err != nil && !errors.Is(err, ecc.ErrBadChecksum) {
			return fmt.Errorf("ecc: %w", err)
		}
		fmt.Fprintln(stdout, hex.EncodeToString(out))
		if res.Corrected > 0 {
			fmt.Fprintf(stdout, "corrected %d\n", res.Corrected)
		}
		return err
	case "decode majority":
		out = make([]byte, len(data)/3)
		if _, err := ecc.MajorityDecode(out, data); err != nil {
			return fmt.Errorf("ecc: %w", err)
		}
	default:
		return fmt.Errorf("ecc: unknown operation %q", op+" "+code)
	}
	fmt.Fprintln(stdout, hex.EncodeToString(out))
	return nil
}
