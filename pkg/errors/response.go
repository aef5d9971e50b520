package errors

import "net/http"

// ErrorResponse is the JSON body returned by HTTP handlers on failure.
type ErrorResponse struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToResponse converts the error into its HTTP status and response body.
func (e *AppError) ToResponse() (int, ErrorResponse) {
	status := e.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return status, ErrorResponse{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		Details:   e.Details,
	}
}

// ResponseFor renders any error, treating non-AppErrors as internal failures.
func ResponseFor(err error) (int, ErrorResponse) {
	if appErr, ok := AsAppError(err); ok {
		return appErr.ToResponse()
	}
	return Internal(err).ToResponse()
}
