package scan

import (
	"time"

	"github.com/pkg/errors"
)

type Status int

const (
	Available Status = iota
	Taken
	Error
)

func (s Status) String() string {
	switch s {
	case Taken:
		return "Taken"
	case Available:
		return "Available"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Taken":
		*s = Taken
	case "Available":
		*s = Available
	case "Error":
		*s = Error
	default:
		return errors.Errorf("unknown status %q", string(b))
	}
	return nil
}

// Result is the outcome of probing one site for one username.
type Result struct {
	Site        string
	URL         string
	Status      Status
	LogoURL     string
	ErrorDetail string
}

func (r Result) IsTaken() bool { return r.Status == Taken }

type Strategy string

const (
	// StrategyBatch runs fixed-size batches with a full join and a pause
	// between them.
	StrategyBatch Strategy = "batch"
	// StrategyPool keeps up to Concurrency probes in flight and starts the
	// next one as soon as any finishes.
	StrategyPool Strategy = "pool"
)

const (
	DefaultConcurrency  = 10
	MaxConcurrency      = 99
	DefaultProbeTimeout = 10 * time.Second
	DefaultBatchPause   = 200 * time.Millisecond
	DefaultMaxBodyBytes = 2 << 20

	// DefaultFallback is the status of a response matching neither the
	// expected nor the missing signal.
	DefaultFallback = Available
)

type Config struct {
	UserAgent    string
	Concurrency  int
	Strategy     Strategy
	ProbeTimeout time.Duration
	BatchPause   time.Duration
	MaxBodyBytes int64
	Fallback     Status
}

// DefaultConfig returns the reference settings.
func DefaultConfig() Config {
	return Config{
		Concurrency:  DefaultConcurrency,
		Strategy:     StrategyBatch,
		ProbeTimeout: DefaultProbeTimeout,
		BatchPause:   DefaultBatchPause,
		MaxBodyBytes: DefaultMaxBodyBytes,
		Fallback:     DefaultFallback,
	}
}

type ValidationFailure struct {
	Site     string
	Username string
	Result   Result
}
