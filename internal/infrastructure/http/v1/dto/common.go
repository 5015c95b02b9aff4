// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"fiscus/internal/core/id"
)

// ListResponse wraps list results.
type ListResponse struct {
	Items any `json:"items"`
	Count int `json:"count"`
}

// AggregateListResponse wraps cross-year list results. FailedYears names
// partitions that could not be queried; their vouchers are absent from
// Items.
type AggregateListResponse struct {
	Items       any   `json:"items"`
	Count       int   `json:"count"`
	FailedYears []int `json:"failedYears,omitempty"`
}

// IDResponse for create operations.
type IDResponse struct {
	ID string `json:"id"`
}

// NewIDResponse creates ID response.
func NewIDResponse(i id.ID) IDResponse {
	return IDResponse{ID: i.String()}
}

// SuccessResponse for operations without data.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse for error details.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
