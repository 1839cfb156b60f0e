package gpu

import (
	"errors"
	"fmt"

	"github.com/PollyLabs/ppcg/poly"
)

// ErrAllocation signals resource exhaustion while building kernel state.
// It aborts kernel extraction for the current fragment; the fragment is
// then compiled by the host-only fallback path.
var ErrAllocation = errors.New("gpu: allocation failure")

// UnboundedExtentError reports an array dimension with no provable upper
// bound. It is diagnostic only: the array is linearized and compilation
// continues.
type UnboundedExtentError struct {
	Array string
	Dim   int
}

func (e *UnboundedExtentError) Error() string {
	return fmt.Sprintf("gpu: unable to determine extent of %q in dimension %d",
		e.Array, e.Dim)
}

// UnsupportedScheduleNodeError reports a schedule tree node kind the
// outer-band selector does not handle. Fatal for the fragment.
type UnsupportedScheduleNodeError struct {
	Kind poly.NodeKind
}

func (e *UnsupportedScheduleNodeError) Error() string {
	return fmt.Sprintf("gpu: unhandled schedule node type %s", e.Kind)
}

// AlgebraError wraps a failure reported by the underlying relation
// algebra. It aborts kernel construction for the current band and causes
// the whole fragment to fall back to host-only generation.
type AlgebraError struct {
	Op  string
	Err error
}

func (e *AlgebraError) Error() string {
	return fmt.Sprintf("gpu: %s: %v", e.Op, e.Err)
}

func (e *AlgebraError) Unwrap() error { return e.Err }

func algebraErr(op string, err error) error {
	return &AlgebraError{Op: op, Err: err}
}
