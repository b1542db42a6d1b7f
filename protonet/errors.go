package protonet

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every ConfigurationError.
var ErrConfiguration = errors.New("invalid task configuration")

// ConfigurationError reports a task parameter that cannot describe an episode.
type ConfigurationError struct {
	Field  string
	Value  int
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid task configuration: %s = %d", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid task configuration: %s = %d: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
