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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// NewServeMux exposes the handler over HTTP:
//
//	POST /convert     - the conversion review exchange
//	GET  /openapi/v2  - the service's OpenAPI document
//	GET  /metrics     - prometheus metrics
//	GET  /healthz     - liveness
//
// TLS, certificates and retry policy belong to the deployment in front of
// this mux.
func NewServeMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/convert", func(w http.ResponseWriter, r *http.Request) {
		serveConvert(h, w, r)
	})
	mux.HandleFunc("/openapi/v2", serveOpenAPI)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// serveConvert decodes the review envelope, runs the batch and writes the
// response envelope.  Only an undecodable body is a transport-level error;
// anything after that is expressed as per-item failures in a 200 response.
func serveConvert(h *Handler, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var review ConversionReview
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		log.WithError(err).Warn("Failed to decode conversion review")
		http.Error(w, "undecodable conversion review: "+err.Error(), http.StatusBadRequest)
		return
	}
	if review.Request == nil {
		http.Error(w, "conversion review has no request", http.StatusBadRequest)
		return
	}

	review.Response = h.Handle(r.Context(), review.Request)
	review.Request = nil

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&review); err != nil {
		log.WithError(err).Error("Failed to encode conversion review response")
	}
}
