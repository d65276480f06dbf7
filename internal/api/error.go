package api

// HTTPError carries the status and client-facing message for a failed
// request; ErrorLog keeps the underlying cause out of the response body.
type HTTPError struct {
	StatusCode int
	Message    string
	ErrorLog   error
}

func (e *HTTPError) Error() string {
	return e.Message
}

type ApiError struct {
	Error string `json:"message"`
}
