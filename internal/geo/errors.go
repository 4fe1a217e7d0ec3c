package geo

import (
	"errors"
	"fmt"
)

// ErrInvalidRect is returned for crop rectangles that are empty or not square
var ErrInvalidRect = errors.New("invalid crop rectangle")

// ConfigurationError reports that the projector or the map view it depends on is unavailable.
// It is fatal to the current action and never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("map configuration error: %s", e.Reason)
}
