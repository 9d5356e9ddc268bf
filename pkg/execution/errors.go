package execution

import (
	"fmt"

	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
)

// TransitionError is the panic value raised when a record is asked to make a
// transition its current status does not allow. It wraps ErrIllegalTransition.
type TransitionError struct {
	ID   string
	Op   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("execution %s: %s: cannot move from %s to %s", e.ID, e.Op, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return gferrors.ErrIllegalTransition
}
