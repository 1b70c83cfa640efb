package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmbeddingFailure signals that the embedding endpoint answered with a non-success status
	// or could not be reached.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrVectorStore signals a vector store connection or backend error.
	ErrVectorStore = errors.New("vector store failure")
	// ErrInvalidQuery signals a query or option that failed validation.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrNotSupported signals a filter or capability the configured backend does not offer.
	ErrNotSupported = errors.New("not supported by backend")
	// ErrUnknownTool signals a tool name that is not registered.
	ErrUnknownTool = errors.New("unknown tool")
)

// EmbeddingError wraps ErrEmbeddingFailure with the remote status.
// StatusCode is zero when the request never got a response.
type EmbeddingError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *EmbeddingError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: %s returned status %d: %s", ErrEmbeddingFailure, e.Provider, e.StatusCode, e.Body)
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s returned status %d: %v", ErrEmbeddingFailure, e.Provider, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s returned status %d", ErrEmbeddingFailure, e.Provider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", ErrEmbeddingFailure, e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s: %s", ErrEmbeddingFailure, e.Provider)
	}
}

// Unwrap lets errors.Is match both the sentinel and the transport cause.
func (e *EmbeddingError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrEmbeddingFailure, e.Err}
	}
	return []error{ErrEmbeddingFailure}
}

// NewEmbeddingStatusError creates an embedding error for a non-success HTTP status.
func NewEmbeddingStatusError(provider string, status int, body string) error {
	return &EmbeddingError{Provider: provider, StatusCode: status, Body: body}
}
