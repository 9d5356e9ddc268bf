package execution

import "fmt"

// Status is the lifecycle position of an execution.
type Status int

const (
	// StatusNew is the state of a record that has been created but has not
	// published any transition yet.
	StatusNew Status = iota
	// StatusWaiting means the execution is queued behind the active policy.
	StatusWaiting
	// StatusProcessing means the invocation function is running.
	StatusProcessing
	// StatusSuccess is terminal; Data is set.
	StatusSuccess
	// StatusFailed is terminal; Err is set.
	StatusFailed
	// StatusCancelled is terminal; the execution was superseded or the
	// scheduler was closed.
	StatusCancelled
)

var statusNames = [...]string{
	StatusNew:        "NEW",
	StatusWaiting:    "WAITING",
	StatusProcessing: "PROCESSING",
	StatusSuccess:    "SUCCESS",
	StatusFailed:     "FAILED",
	StatusCancelled:  "CANCELLED",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// operation names a transition request and the statuses it may start from.
type operation struct {
	name string
	to   Status
	from []Status
}

var (
	opWait    = operation{"Wait", StatusWaiting, []Status{StatusNew}}
	opProcess = operation{"Process", StatusProcessing, []Status{StatusNew, StatusWaiting}}
	opSucceed = operation{"Succeed", StatusSuccess, []Status{StatusProcessing}}
	opFail    = operation{"Fail", StatusFailed, []Status{StatusProcessing}}
	opCancel  = operation{"Cancel", StatusCancelled, []Status{StatusNew, StatusWaiting, StatusProcessing}}
	opRestore = operation{"Restore", StatusSuccess, []Status{StatusNew, StatusWaiting}}
)

func (op operation) allowedFrom(s Status) bool {
	for _, f := range op.from {
		if f == s {
			return true
		}
	}
	return false
}
