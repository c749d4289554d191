package session

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvariant marks a logic error in session bookkeeping. Callers must abort.
	ErrInvariant = errors.New("session invariant violated")

	ErrNilSession = errors.New("nil session")

	// ErrAutoReset is returned when freeing a registry session while sessions reset automatically.
	ErrAutoReset = errors.New("sessions can only be freed with auto reset disabled")
)
