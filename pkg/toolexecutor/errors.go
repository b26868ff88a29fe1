package toolexecutor

import (
	"errors"
	"fmt"
)

var (
	// ErrToolTimeout means the tool exceeded its wall-clock budget
	ErrToolTimeout = errors.New("tool timeout")

	// ErrToolExecution covers unknown tools, invalid parameters and tool-internal faults
	ErrToolExecution = errors.New("tool execution error")

	// ErrRepeatedCall means an identical call was refused by the repetition guard
	ErrRepeatedCall = errors.New("repeated call detected")
)

// ToolError describes why an invocation failed
type ToolError struct {
	Tool      string
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Tool, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Tool, e.Kind)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Is maps the error kind onto the package sentinels
func (e *ToolError) Is(target error) bool {
	switch target {
	case ErrToolTimeout:
		return e.Kind == ErrorKindTimeout
	case ErrRepeatedCall:
		return e.Kind == ErrorKindRepetition
	case ErrToolExecution:
		return e.Kind != ErrorKindTimeout && e.Kind != ErrorKindRepetition
	}
	return false
}

// IsRetryable reports whether err is a ToolError worth retrying
func IsRetryable(err error) bool {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}
