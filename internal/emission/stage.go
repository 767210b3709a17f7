// Package emission classifies invoice status pushes into pipeline stages and
// tracks the progress of one emission attempt.
package emission

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage is a position in the emission pipeline.
type Stage int

const (
	// StageNotStarted - no status received for the current attempt.
	StageNotStarted Stage = -1
	// StageSigning - the invoice is being signed electronically.
	StageSigning Stage = 0
	// StageSubmitting - the signed invoice is being sent to the tax authority.
	StageSubmitting Stage = 1
	// StageValidating - waiting for the authority to validate it.
	StageValidating Stage = 2
)

// Steps lists the displayable stages in pipeline order.
var Steps = []Stage{StageSigning, StageSubmitting, StageValidating}

func (s Stage) String() string {
	switch s {
	case StageNotStarted:
		return "NOT_STARTED"
	case StageSigning:
		return "SIGNING"
	case StageSubmitting:
		return "SUBMITTING"
	case StageValidating:
		return "VALIDATING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Label is the stepper caption shown to users.
func (s Stage) Label() string {
	switch s {
	case StageSigning:
		return "Firmando electrónicamente"
	case StageSubmitting:
		return "Enviando al SRI"
	case StageValidating:
		return "Esperando validación"
	default:
		return ""
	}
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	return s >= StageNotStarted && s <= StageValidating
}

// ParseStage accepts a stage name ("signing"), its String form ("SIGNING")
// or its index ("0").
func ParseStage(value string) (Stage, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "not_started", "none":
		return StageNotStarted, nil
	case "signing", "sign":
		return StageSigning, nil
	case "submitting", "sending", "submit":
		return StageSubmitting, nil
	case "validating", "validation":
		return StageValidating, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return StageNotStarted, fmt.Errorf("unknown stage %q", value)
	}
	s := Stage(n)
	if !s.Valid() {
		return StageNotStarted, fmt.Errorf("stage %d out of range", n)
	}
	return s, nil
}
