package errors

const (
	HttpInternalError       = "internal_error"
	HttpInvalidJsonError    = "invalid_json"
	HttpInvalidQueryError   = "invalid_query"
	HttpUnsupportedError    = "unsupported_query"
	HttpAlreadyExistsError  = "already_exists"
	HttpAggregateNotFound   = "aggregate_not_found"
	HttpNameTooLongError    = "name_too_long"
	HttpTooManyAliasesError = "too_many_column_names"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
