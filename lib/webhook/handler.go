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
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	validator "gopkg.in/go-playground/validator.v9"

	"github.com/tigera/libconversion-go/lib/conversion"
	cerrors "github.com/tigera/libconversion-go/lib/errors"
)

// Handler implements the conversion service: a pure mapping-with-partial-
// failure over a batch of objects.  It is stateless per call; the graphs it
// reads are built and validated once at startup and never mutated, so
// concurrent Handle calls need no synchronization.  Retries and timeouts
// are the transport's concern, not the handler's.
type Handler struct {
	graphs   map[string]*conversion.Graph
	workers  int
	validate *validator.Validate
}

// NewHandler returns a Handler over the validated per-kind graphs.  workers
// bounds per-batch item parallelism; values below 1 are treated as 1.
func NewHandler(graphs map[string]*conversion.Graph, workers int) *Handler {
	if workers < 1 {
		workers = 1
	}
	return &Handler{
		graphs:   graphs,
		workers:  workers,
		validate: validator.New(),
	}
}

// Handle converts every object in the request to the desired version.  Each
// item is processed independently: one item's failure is recorded at its
// position and never aborts its siblings.  The response always carries the
// request's UID verbatim and exactly one result per input object, in input
// order.
func (h *Handler) Handle(ctx context.Context, req *ConversionRequest) *ConversionResponse {
	start := time.Now()
	resp := &ConversionResponse{
		UID:     req.UID,
		Results: make([]ConversionResult, len(req.Objects)),
	}

	if err := h.validate.Struct(req); err != nil {
		// A structurally invalid request still gets a positionally complete
		// response; every item fails with the same reason.
		reason := fmt.Sprintf("invalid conversion request: %v", err)
		log.WithField("uid", req.UID).Warn(reason)
		for i := range resp.Results {
			resp.Results[i].Error = &ResultError{Reason: reason}
		}
		requestsTotal.WithLabelValues(outcomeInvalid).Inc()
		return resp
	}

	logCxt := log.WithFields(log.Fields{
		"uid":            req.UID,
		"desiredVersion": req.DesiredAPIVersion,
		"objects":        len(req.Objects),
	})
	logCxt.Debug("Handling conversion request")
	batchObjects.Observe(float64(len(req.Objects)))

	// Items are independent; convert them concurrently and assemble the
	// response array by index so positional correlation is preserved.
	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < h.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				resp.Results[i] = h.convertItem(ctx, req, i)
			}
		}()
	}
	for i := range req.Objects {
		work <- i
	}
	close(work)
	wg.Wait()

	failed := 0
	for i := range resp.Results {
		if resp.Results[i].Error != nil {
			failed++
		}
	}
	if failed > 0 {
		requestsTotal.WithLabelValues(outcomePartial).Inc()
	} else {
		requestsTotal.WithLabelValues(outcomeSuccess).Inc()
	}
	logCxt.WithFields(log.Fields{"failed": failed, "took": time.Since(start)}).Debug("Handled conversion request")
	return resp
}

// convertItem converts a single item of the batch, mapping every failure
// mode to a structured per-item error.
func (h *Handler) convertItem(ctx context.Context, req *ConversionRequest, i int) ConversionResult {
	obj := &req.Objects[i]

	kind, err := obj.Kind()
	if err != nil {
		conversionsTotal.WithLabelValues(outcomeFailure).Inc()
		return failedResult("object has no decodable kind: %v", err)
	}
	if kind == "" {
		conversionsTotal.WithLabelValues(outcomeFailure).Inc()
		return failedResult("object has no kind")
	}
	graph, ok := h.graphs[kind]
	if !ok {
		conversionsTotal.WithLabelValues(outcomeFailure).Inc()
		return failedResult("no conversion graph registered for kind %s", kind)
	}

	from, err := obj.APIVersion()
	if err != nil {
		conversionsTotal.WithLabelValues(outcomeFailure).Inc()
		return failedResult("object has no decodable apiVersion: %v", err)
	}

	start := time.Now()
	converted, err := graph.Convert(ctx, obj, from, req.DesiredAPIVersion)
	conversionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		conversionsTotal.WithLabelValues(outcomeFailure).Inc()
		switch err.(type) {
		case cerrors.ErrorUnknownVersion, cerrors.ErrorConversionFailed:
			return ConversionResult{Error: &ResultError{Reason: err.Error()}}
		default:
			return failedResult("conversion failed: %v", err)
		}
	}

	conversionsTotal.WithLabelValues(outcomeSuccess).Inc()
	return ConversionResult{ConvertedObject: converted}
}

func failedResult(format string, args ...interface{}) ConversionResult {
	return ConversionResult{Error: &ResultError{Reason: fmt.Sprintf(format, args...)}}
}
