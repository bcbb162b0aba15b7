// Package swagger serves the OpenAPI description of the HTTP API.
package swagger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/knadh/koanf/parsers/yaml"
)

// Error constants.
var (
	ErrParse = errors.New("openapi document parse failed")
)

// JSON renders the embedded YAML document as JSON.
func JSON() ([]byte, error) {
	doc, err := yaml.Parser().Unmarshal(OpenAPI)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return json.Marshal(doc)
}

// Register attaches the OpenAPI document routes to mux.
// Routes:
//
//	GET /openapi.yaml -> embedded document
//	GET /openapi.json -> the same document as JSON
func Register(_ context.Context, mux *http.ServeMux) error {
	if mux == nil {
		return errors.New("mux is nil")
	}
	asJSON, err := JSON()
	if err != nil {
		return err
	}

	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		_, _ = w.Write(OpenAPI)
	})
	mux.HandleFunc("GET /openapi.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write(asJSON)
	})
	return nil
}
