package model

// ListResponse is the standard envelope for list endpoints, wrapping results
// in a "resource" array with optional pagination metadata.
type ListResponse[T any] struct {
	Resource []T           `json:"resource"`
	Meta     *ResponseMeta `json:"meta,omitempty"`
}

// ResponseMeta contains pagination information for list responses.
type ResponseMeta struct {
	Count  int    `json:"count"`
	Total  *int64 `json:"total,omitempty"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
// Category is one of the stable values in package apperr.
type ErrorDetail struct {
	Code     int                    `json:"code"`
	Category string                 `json:"category"`
	Message  string                 `json:"message"`
	Context  map[string]interface{} `json:"context,omitempty"`
}
