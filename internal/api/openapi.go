// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openapiSpec []byte

// GetOpenAPISpec returns the embedded API document in its YAML source form.
func GetOpenAPISpec() ([]byte, error) {
	if len(openapiSpec) == 0 {
		return nil, errors.New("openapi spec not embedded")
	}
	return openapiSpec, nil
}

var openapiJSON struct {
	once sync.Once
	body []byte
	err  error
}

// handleOpenAPI serves the embedded YAML document as JSON. The conversion
// happens once; the document never changes at runtime.
func handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	openapiJSON.once.Do(func() {
		var doc map[string]any
		if err := yaml.Unmarshal(openapiSpec, &doc); err != nil {
			openapiJSON.err = err
			return
		}
		openapiJSON.body, openapiJSON.err = json.Marshal(doc)
	})
	if openapiJSON.err != nil {
		log.Error().Err(openapiJSON.err).Msg("failed to render OpenAPI document")
		http.Error(w, "OpenAPI document unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(openapiJSON.body)
}
