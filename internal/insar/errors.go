package insar

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. The orchestrator and the command surface
// decide retry, exit code and message wording from the kind alone.
type Kind int

const (
	KindUnknown Kind = iota
	KindUsage
	KindPrecondition
	KindSearch
	KindNetwork
	KindAuth
	KindVerification
	KindFetch
	KindConfig
	KindEngine
	KindPostProcess
	KindCleanup
	KindState
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindPrecondition:
		return "precondition"
	case KindSearch:
		return "search"
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindVerification:
		return "verification"
	case KindFetch:
		return "fetch"
	case KindConfig:
		return "config"
	case KindEngine:
		return "engine"
	case KindPostProcess:
		return "postprocess"
	case KindCleanup:
		return "cleanup"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

var (
	// ErrMissingDates is returned when neither an event date nor a date pair was given.
	ErrMissingDates = errors.New("missing date arguments: use an event date or a reference/secondary date pair")

	// ErrNoMatch is returned when the archive holds no acquisition pair for the request.
	ErrNoMatch = errors.New("no matching acquisition pair")

	// ErrAmbiguousOrbit is returned when a manual pair resolves to more than one relative orbit.
	ErrAmbiguousOrbit = errors.New("ambiguous relative orbit")

	// ErrInvalidPair is returned when the reference date is not strictly before the secondary date.
	ErrInvalidPair = errors.New("reference date must be strictly before secondary date")

	// ErrNotFound is returned when a remote artifact is not published.
	ErrNotFound = errors.New("remote artifact not found")

	// ErrMissingOrbit is returned when neither a precision nor a restituted orbit covers an acquisition.
	ErrMissingOrbit = errors.New("no orbit file covers acquisition")

	// ErrCoverageGap is returned when the DEM tiles do not cover the area of interest.
	ErrCoverageGap = errors.New("DEM tiles do not cover the area of interest")

	// ErrEngineTimeout is returned when the processing engine exceeds its wall-clock ceiling.
	ErrEngineTimeout = errors.New("processing engine timed out")

	// ErrNoEngineOutput is returned when the engine finished without usable merged outputs.
	ErrNoEngineOutput = errors.New("processing engine produced no usable output")

	// ErrStaleInput is returned when a step's predecessor was re-run after the
	// step completed, or when outputs on disk predate the run that should have
	// written them.
	ErrStaleInput = errors.New("input of step is stale")

	// ErrLocked is returned when another pipeline instance owns the work directory.
	ErrLocked = errors.New("work directory is locked by another instance")
)

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind and the operation that failed. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether any classified error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
