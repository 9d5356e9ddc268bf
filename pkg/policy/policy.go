package policy

import (
	"fmt"
	"strings"

	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
)

// Policy decides what happens to a submission when others are in flight.
type Policy int

const (
	// Switch cancels everything in flight or queued and starts the newest submission.
	Switch Policy = iota
	// Concat runs submissions one at a time in arrival order.
	Concat
	// Exhaust ignores submissions while one is in flight.
	Exhaust
	// Merge runs up to a fixed number of submissions at once and queues the rest.
	Merge
)

var policyNames = [...]string{
	Switch:  "SWITCH",
	Concat:  "CONCAT",
	Exhaust: "EXHAUST",
	Merge:   "MERGE",
}

func (p Policy) String() string {
	if p >= 0 && int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePolicy parses a policy name, ignoring case.
func ParsePolicy(s string) (Policy, error) {
	for i, name := range policyNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Policy(i), nil
		}
	}
	return Switch, gferrors.NewValidationError("policy", "policy", s, "unknown policy").
		WithHint("use one of " + strings.Join(policyNames[:], ", "))
}

// Mode selects how a scheduler reports its aggregate status.
type Mode int

const (
	// Sequential reports the status of the latest submission.
	Sequential Mode = iota
	// Concurrent reports a status derived from every tracked submission.
	Concurrent
)

var modeNames = [...]string{
	Sequential: "SEQUENTIAL",
	Concurrent: "CONCURRENT",
}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode parses a mode name, ignoring case.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Mode(i), nil
		}
	}
	return Sequential, gferrors.NewValidationError("policy", "mode", s, "unknown mode").
		WithHint("use one of " + strings.Join(modeNames[:], ", "))
}
