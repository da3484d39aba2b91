package forecast

import (
	"fmt"
	"strings"
)

// NormalizeCountry rejects countries that are blank or could escape the
// artifact cache directory. Accepted values are returned verbatim since
// artifact names are exact.
func NormalizeCountry(country string) (string, error) {
	if strings.TrimSpace(country) == "" {
		return "", fmt.Errorf("%w: missing country", ErrInvalidInput)
	}
	if country == "." || country == ".." || strings.ContainsAny(country, "/\\\x00") {
		return "", fmt.Errorf("%w: invalid country: %q", ErrInvalidInput, country)
	}
	return country, nil
}
