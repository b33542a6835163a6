// Copyright (c) 2025 Tigera, Inc. All rights reserved.

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package webhook

import (
	"encoding/json"
	"net/http"

	"github.com/go-openapi/spec"
	log "github.com/sirupsen/logrus"
)

// openAPIDocument describes the conversion exchange so deployers can wire
// the endpoint without reading source.  Built once at init.
var openAPIDocument = buildOpenAPIDocument()

func buildOpenAPIDocument() *spec.Swagger {
	rawObject := spec.Schema{SchemaProps: spec.SchemaProps{
		Type:        spec.StringOrArray{"object"},
		Description: "An opaque typed+versioned encoded object; its embedded apiVersion is the source of truth for its current version.",
	}}

	requestSchema := spec.Schema{SchemaProps: spec.SchemaProps{
		Type:     spec.StringOrArray{"object"},
		Required: []string{"uid", "desiredAPIVersion", "objects"},
		Properties: map[string]spec.Schema{
			"uid":               *spec.StringProperty(),
			"desiredAPIVersion": *spec.StringProperty(),
			"objects":           *spec.ArrayProperty(&rawObject),
		},
	}}

	resultSchema := spec.Schema{SchemaProps: spec.SchemaProps{
		Type:        spec.StringOrArray{"object"},
		Description: "Exactly one of convertedObject or error is set.",
		Properties: map[string]spec.Schema{
			"convertedObject": rawObject,
			"error": {SchemaProps: spec.SchemaProps{
				Type: spec.StringOrArray{"object"},
				Properties: map[string]spec.Schema{
					"reason": *spec.StringProperty(),
				},
			}},
		},
	}}

	responseSchema := spec.Schema{SchemaProps: spec.SchemaProps{
		Type:     spec.StringOrArray{"object"},
		Required: []string{"uid", "results"},
		Description: "results has the same length and order as the request's objects; callers correlate by position.",
		Properties: map[string]spec.Schema{
			"uid":     *spec.StringProperty(),
			"results": *spec.ArrayProperty(&resultSchema),
		},
	}}

	reviewSchema := spec.Schema{SchemaProps: spec.SchemaProps{
		Type: spec.StringOrArray{"object"},
		Properties: map[string]spec.Schema{
			"apiVersion": *spec.StringProperty(),
			"kind":       *spec.StringProperty(),
			"request":    requestSchema,
			"response":   responseSchema,
		},
	}}

	return &spec.Swagger{
		SwaggerProps: spec.SwaggerProps{
			Swagger: "2.0",
			Info: &spec.Info{InfoProps: spec.InfoProps{
				Title:       "conversion webhook",
				Description: "Synchronous batch conversion of versioned resource objects.",
				Version:     "v1",
			}},
			Paths: &spec.Paths{Paths: map[string]spec.PathItem{
				"/convert": {PathItemProps: spec.PathItemProps{
					Post: &spec.Operation{OperationProps: spec.OperationProps{
						ID:          "convert",
						Consumes:    []string{"application/json"},
						Produces:    []string{"application/json"},
						Parameters: []spec.Parameter{{
							ParamProps: spec.ParamProps{
								Name:     "body",
								In:       "body",
								Required: true,
								Schema:   &reviewSchema,
							},
						}},
						Responses: &spec.Responses{ResponsesProps: spec.ResponsesProps{
							StatusCodeResponses: map[int]spec.Response{
								200: {ResponseProps: spec.ResponseProps{
									Description: "The review with its response populated.",
									Schema:      &reviewSchema,
								}},
								400: {ResponseProps: spec.ResponseProps{
									Description: "The review envelope could not be decoded.",
								}},
							},
						}},
					}},
				}},
			}},
		},
	}
}

func serveOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(openAPIDocument); err != nil {
		log.WithError(err).Error("Failed to encode OpenAPI document")
	}
}
