package artifacts

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/exporthaven/forecaster/internal/domain/forecast"
)

// Loader reads model bundles from local artifact files
type Loader struct{}

// NewLoader creates a bundle loader
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and decodes the artifact at path. Failures are reported as
// *CorruptError; models inside the bundle are not validated here.
func (l *Loader) Load(ctx context.Context, country, path string) (*forecast.Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CorruptError{Country: country, Path: path, Err: fmt.Errorf("read failed: %w", err)}
	}

	bundle, err := Decode(data)
	if err != nil {
		return nil, &CorruptError{Country: country, Path: path, Err: err}
	}
	bundle.Path = path
	if bundle.Country == "" {
		bundle.Country = country
	}

	log.Debug().
		Str("country", country).
		Str("path", path).
		Str("digest", bundle.Digest).
		Int("products", bundle.Len()).
		Msg("Model bundle loaded")

	return bundle, nil
}
