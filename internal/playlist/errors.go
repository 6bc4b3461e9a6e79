package playlist

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned by SelectSource when there is nothing to choose from.
var ErrEmptyInput = errors.New("no renditions to select from")

// FetchError is returned when a manifest cannot be retrieved: transport
// failures and non-2xx responses.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch manifest %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch manifest %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError is returned when a manifest body is not a valid playlist.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse manifest %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NotMasterError is returned by ResolveMaster when the manifest lists media
// segments instead of alternative renditions.
type NotMasterError struct {
	URL string
}

func (e *NotMasterError) Error() string {
	return fmt.Sprintf("manifest %s is not a master playlist: no variants found", e.URL)
}
