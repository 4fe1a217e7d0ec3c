package imagery

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyResult is returned when the endpoint answers successfully with a zero-byte body
var ErrEmptyResult = errors.New("imagery endpoint returned an empty image")

// NetworkError wraps a transport failure (DNS, connection reset, cancelled context...)
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("failed to fetch image: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError reports a non-success response from the export endpoint
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("image request failed with status: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// InvalidSizeError reports an output size outside AllowedSizes
type InvalidSizeError struct {
	Size int
}

func (e *InvalidSizeError) Error() string {
	return fmt.Sprintf("output size %d is not one of %v", e.Size, AllowedSizes)
}
