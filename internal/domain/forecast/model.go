package forecast

import (
	"time"
)

// Model is a fitted forecasting model for one (country, product) series.
// Implementations must not mutate their state inside Forecast so that a
// bundle can be shared between concurrent requests.
type Model interface {
	// LastTrainingTimestamp returns the timestamp of the last observation the
	// model was fitted on. The boolean is false when the index was stripped.
	LastTrainingTimestamp() (time.Time, bool)

	// Forecast returns predictions for steps 1..steps after the last training point
	Forecast(steps int) ([]float64, error)
}

// Entry pairs a product with its fitted model
type Entry struct {
	Product string
	Model   Model
}

// Bundle is the set of fitted models for one country, in artifact order
type Bundle struct {
	Country string
	Path    string
	Digest  string
	Entries []Entry
}

// NewBundle creates a bundle for country from ordered entries
func NewBundle(country string, entries ...Entry) *Bundle {
	return &Bundle{
		Country: country,
		Entries: entries,
	}
}

// Len returns the number of products in the bundle
func (b *Bundle) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Entries)
}

// Products returns product names in encounter order
func (b *Bundle) Products() []string {
	products := make([]string, 0, b.Len())
	for _, e := range b.Entries {
		products = append(products, e.Product)
	}
	return products
}

// Model looks up the model for product
func (b *Bundle) Model(product string) (Model, bool) {
	for _, e := range b.Entries {
		if e.Product == product {
			return e.Model, true
		}
	}
	return nil, false
}
