package forecast

import (
	"fmt"
	"strings"
)

// Horizon is the number of monthly steps ahead to forecast
type Horizon int

const (
	MinHorizon Horizon = 1
	MaxHorizon Horizon = 12
)

// months maps every accepted month token onto its calendar index
var months = map[string]Horizon{
	"jan": 1, "january": 1,
	"feb": 2, "february": 2,
	"mar": 3, "march": 3,
	"apr": 4, "april": 4,
	"may": 5,
	"jun": 6, "june": 6,
	"jul": 7, "july": 7,
	"aug": 8, "august": 8,
	"sep": 9, "sept": 9, "september": 9,
	"oct": 10, "october": 10,
	"nov": 11, "november": 11,
	"dec": 12, "december": 12,
}

// ParseMonth resolves a case-insensitive month name to its horizon
func ParseMonth(token string) (Horizon, error) {
	key := strings.ToLower(strings.TrimSpace(token))
	if key == "" {
		return 0, fmt.Errorf("%w: missing month", ErrInvalidInput)
	}
	h, ok := months[key]
	if !ok {
		return 0, fmt.Errorf("%w: invalid month: %s", ErrInvalidInput, token)
	}
	return h, nil
}

// Valid reports whether h lies within the supported forecast range
func (h Horizon) Valid() bool {
	return h >= MinHorizon && h <= MaxHorizon
}

// Steps returns the horizon as a step count
func (h Horizon) Steps() int {
	return int(h)
}
