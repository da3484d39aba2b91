package forecast

import (
	"bytes"
	"encoding/json"
	"sort"
)

// DefaultTopK is the number of products returned per request
const DefaultTopK = 4

// Prediction is the final-step forecast for one product
type Prediction struct {
	Product string  `json:"product"`
	Value   float64 `json:"value"`
}

// Ranking is an ordered list of predictions, highest value first.
// It encodes to JSON as an object whose keys keep rank order.
type Ranking []Prediction

// TopK sorts predictions by value descending and keeps the first k.
// Equal values keep their input order.
func TopK(predictions []Prediction, k int) Ranking {
	if k <= 0 || len(predictions) == 0 {
		return Ranking{}
	}

	sorted := make([]Prediction, len(predictions))
	copy(sorted, predictions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value > sorted[j].Value
	})

	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return Ranking(sorted)
}

// Map returns the ranking as an unordered product -> value map
func (r Ranking) Map() map[string]float64 {
	m := make(map[string]float64, len(r))
	for _, p := range r {
		m[p.Product] = p.Value
	}
	return m
}

// MarshalJSON writes {"product": value, ...} in rank order
func (r Ranking) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Product)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object back into a ranking, preserving key order
func (r *Ranking) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}

	out := Ranking{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		product, _ := tok.(string)

		var value float64
		if err := dec.Decode(&value); err != nil {
			return err
		}
		out = append(out, Prediction{Product: product, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = out
	return nil
}
