package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"

	"github.com/exporthaven/forecaster/internal/domain/forecast"
	"github.com/exporthaven/forecaster/internal/models/holtwinters"
)

// FormatV1 identifies the bundle envelope layout
const FormatV1 = "forecaster.bundle/v1"

// envelope is the on-disk representation of a bundle
type envelope struct {
	Format    string       `json:"format"`
	Country   string       `json:"country"`
	CreatedAt time.Time    `json:"created_at"`
	Models    []modelEntry `json:"models"`
}

type modelEntry struct {
	Product string          `json:"product"`
	Kind    string          `json:"kind"`
	State   json.RawMessage `json:"state"`
}

// Encode writes bundle to w as a compressed envelope
func Encode(w io.Writer, bundle *forecast.Bundle) error {
	env := envelope{
		Format:    FormatV1,
		Country:   bundle.Country,
		CreatedAt: time.Now().UTC(),
		Models:    make([]modelEntry, 0, bundle.Len()),
	}

	for _, e := range bundle.Entries {
		kind, err := kindOf(e.Model)
		if err != nil {
			return fmt.Errorf("product %s: %w", e.Product, err)
		}
		state, err := json.Marshal(e.Model)
		if err != nil {
			return fmt.Errorf("product %s: failed to marshal state: %w", e.Product, err)
		}
		env.Models = append(env.Models, modelEntry{Product: e.Product, Kind: kind, State: state})
	}

	zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(zw).Encode(env); err != nil {
		zw.Close()
		return fmt.Errorf("failed to encode bundle: %w", err)
	}
	return zw.Close()
}

// EncodeBytes encodes bundle into memory
func EncodeBytes(bundle *forecast.Bundle) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, bundle); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a compressed envelope. Any structural problem, including an
// unknown model kind or a repeated product, is returned as an error.
func Decode(data []byte) (*forecast.Bundle, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("not a gzip stream: %w", err)
	}
	defer zr.Close()

	var env envelope
	dec := json.NewDecoder(zr)
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Format != FormatV1 {
		return nil, fmt.Errorf("unsupported artifact format %q", env.Format)
	}

	bundle := forecast.NewBundle(env.Country)
	bundle.Entries = make([]forecast.Entry, 0, len(env.Models))
	seen := make(map[string]bool, len(env.Models))
	for i, me := range env.Models {
		if seen[me.Product] {
			return nil, fmt.Errorf("model %d: duplicate product %q", i, me.Product)
		}
		seen[me.Product] = true
		model, err := decodeModel(me)
		if err != nil {
			return nil, fmt.Errorf("model %d (%s): %w", i, me.Product, err)
		}
		bundle.Entries = append(bundle.Entries, forecast.Entry{Product: me.Product, Model: model})
	}
	bundle.Digest = digest.FromBytes(data).String()

	return bundle, nil
}

func decodeModel(me modelEntry) (forecast.Model, error) {
	switch me.Kind {
	case holtwinters.Kind:
		var m holtwinters.Model
		if err := json.Unmarshal(me.State, &m); err != nil {
			return nil, fmt.Errorf("failed to decode %s state: %w", me.Kind, err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", me.Kind)
	}
}

func kindOf(m forecast.Model) (string, error) {
	switch m.(type) {
	case *holtwinters.Model:
		return holtwinters.Kind, nil
	default:
		return "", fmt.Errorf("unsupported model type %T", m)
	}
}
