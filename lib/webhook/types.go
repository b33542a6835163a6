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
	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/tigera/libconversion-go/lib/backend/model"
)

const (
	KindConversionReview = "ConversionReview"
	ReviewAPIVersion     = "conversion.tigera.io/v1"
)

// ConversionRequest is one batch conversion unit: a correlation identifier,
// the version every object should be converted to, and the objects
// themselves.  Each object's source version is read from its own embedded
// type metadata, never from a side channel.
type ConversionRequest struct {
	UID               string            `json:"uid" validate:"required"`
	DesiredAPIVersion string            `json:"desiredAPIVersion" validate:"required"`
	Objects           []model.RawObject `json:"objects"`
}

// ConversionResponse is the batch result.  Results always has the same
// length and order as the request's Objects; callers correlate by position.
type ConversionResponse struct {
	UID     string             `json:"uid"`
	Results []ConversionResult `json:"results"`
}

// ConversionResult carries either the converted object or a structured
// per-item failure.
type ConversionResult struct {
	ConvertedObject *model.RawObject `json:"convertedObject,omitempty"`
	Error           *ResultError     `json:"error,omitempty"`
}

// ResultError is the structured per-item failure.
type ResultError struct {
	Reason string `json:"reason"`
}

// ConversionReview is the envelope exchanged over the protocol boundary.
type ConversionReview struct {
	metav1.TypeMeta `json:",inline"`
	Request         *ConversionRequest  `json:"request,omitempty"`
	Response        *ConversionResponse `json:"response,omitempty"`
}

// NewConversionRequest builds a request with a generated correlation
// identifier, for callers originating conversions in-process.
func NewConversionRequest(desiredAPIVersion string, objects []model.RawObject) *ConversionRequest {
	return &ConversionRequest{
		UID:               uuid.New().String(),
		DesiredAPIVersion: desiredAPIVersion,
		Objects:           objects,
	}
}

// NewConversionReview wraps a request in the review envelope.
func NewConversionReview(req *ConversionRequest) *ConversionReview {
	return &ConversionReview{
		TypeMeta: metav1.TypeMeta{
			Kind:       KindConversionReview,
			APIVersion: ReviewAPIVersion,
		},
		Request: req,
	}
}
