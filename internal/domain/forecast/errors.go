package forecast

import (
	"errors"
)

var (
	// ErrInvalidInput is returned for missing or unrecognized request parameters
	ErrInvalidInput = errors.New("invalid input")
	// ErrArtifactUnavailable is returned when no artifact could be obtained for a country
	ErrArtifactUnavailable = errors.New("artifact unavailable")
	// ErrCorruptArtifact is returned when an artifact cannot be deserialized
	ErrCorruptArtifact = errors.New("corrupt artifact")
	// ErrNoUsablePredictions is returned when every product was skipped or failed
	ErrNoUsablePredictions = errors.New("no usable predictions")
)

// Kind classifies an error for the transport layer
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindArtifactUnavailable Kind = "artifact_unavailable"
	KindCorruptArtifact     Kind = "corrupt_artifact"
	KindNoUsablePredictions Kind = "no_usable_predictions"
	KindInternal            Kind = "internal"
)

// KindOf maps an error chain onto the serving error taxonomy
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrArtifactUnavailable):
		return KindArtifactUnavailable
	case errors.Is(err, ErrCorruptArtifact):
		return KindCorruptArtifact
	case errors.Is(err, ErrNoUsablePredictions):
		return KindNoUsablePredictions
	default:
		return KindInternal
	}
}
