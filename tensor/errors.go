package tensor

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch matches every *ShapeMismatchError via errors.Is.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDeviceMismatch is returned when operands of one op live on different devices.
	ErrDeviceMismatch = errors.New("device mismatch")
)

// ShapeMismatchError reports operands or inputs whose dimensions disagree with what an
// operation requires.
type ShapeMismatchError struct {
	Op     string
	Got    []int
	Want   []int
	Detail string
}

func (e *ShapeMismatchError) Error() string {
	msg := fmt.Sprintf("%s: shape mismatch: got %v", e.Op, e.Got)
	if e.Want != nil {
		msg += fmt.Sprintf(", want %v", e.Want)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }
