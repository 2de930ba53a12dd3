package otp

import (
	"github.com/prometheus/client_golang/prometheus"

	"fusebox.dev/ecc"
)

// Metrics counts controller activity. A nil *Metrics discards
// everything.
type Metrics struct {
	ReadCycles       prometheus.Counter
	ProgramPulses    prometheus.Counter
	Timeouts         prometheus.Counter
	AccessDenied     prometheus.Counter
	MagicMismatches  prometheus.Counter
	ECCCorrected     prometheus.Counter
	ECCUncorrectable prometheus.Counter
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReadCycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "otp_read_cycles_total",
				Help: "Number of read commands issued to the OTP controller",
			},
		),
		ProgramPulses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "otp_program_pulses_total",
				Help: "Number of program commands issued to the OTP controller",
			},
		),
		Timeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "otp_timeouts_total",
				Help: "Number of polling loops that exhausted their bound",
			},
		),
		AccessDenied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "otp_access_denied_total",
				Help: "Number of operations rejected by access control",
			},
		),
		MagicMismatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "otp_magic_mismatches_total",
				Help: "Number of program commands issued with a wrong magic word",
			},
		),
		ECCCorrected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "otp_ecc_corrected_total",
				Help: "Number of ECC codewords with a corrected bit",
			},
		),
		ECCUncorrectable: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "otp_ecc_uncorrectable_total",
				Help: "Number of ECC codewords with uncorrectable errors",
			},
		),
	}
	reg.MustRegister(
		m.ReadCycles,
		m.ProgramPulses,
		m.Timeouts,
		m.AccessDenied,
		m.MagicMismatches,
		m.ECCCorrected,
		m.ECCUncorrectable,
	)
	return m
}

func (m *Metrics) readCycle() {
	if m != nil {
		m.ReadCycles.Inc()
	}
}

func (m *Metrics) programPulse() {
	if m != nil {
		m.ProgramPulses.Inc()
	}
}

func (m *Metrics) timeout() {
	if m != nil {
		m.Timeouts.Inc()
	}
}

func (m *Metrics) accessDenied() {
	if m != nil {
		m.AccessDenied.Inc()
	}
}

func (m *Metrics) magicMismatch() {
	if m != nil {
		m.MagicMismatches.Inc()
	}
}

func (m *Metrics) ecc(r ecc.Result) {
	if m != nil {
		m.ECCCorrected.Add(float64(r.Corrected))
		m.ECCUncorrectable.Add(float64(r.Uncorrectable))
	}
}
