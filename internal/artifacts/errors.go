package artifacts

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/exporthaven/forecaster/internal/domain/forecast"
)

// UnavailableError reports that an artifact could not be obtained
type UnavailableError struct {
	Country  string
	Location string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("no model artifact for country=%s at %s: %v", e.Country, e.Location, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is matches forecast.ErrArtifactUnavailable
func (e *UnavailableError) Is(target error) bool {
	return target == forecast.ErrArtifactUnavailable
}

// CorruptError reports that an artifact exists but cannot be decoded
type CorruptError struct {
	Country string
	Path    string
	Err     error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("failed to load model file for %s (%s): %v", e.Country, e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Is matches forecast.ErrCorruptArtifact
func (e *CorruptError) Is(target error) bool {
	return target == forecast.ErrCorruptArtifact
}

// StatusError is returned by the fetcher for non-200 responses
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("could not download %s, status: %d", e.URL, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the remote store
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
