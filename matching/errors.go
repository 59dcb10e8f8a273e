package matching

import (
	"errors"
	"fmt"
	"strings"
)

// Fatal errors: the run cannot proceed because upstream data is absent.
var (
	// ErrCorpusEmpty means there are no scenes to match against.
	ErrCorpusEmpty = errors.New("scene corpus is empty")

	// ErrMissingArtifact means a required upstream artifact does not exist.
	ErrMissingArtifact = errors.New("missing input artifact")
)

// MissingArtifact wraps ErrMissingArtifact with the path that was expected
// and the upstream step that produces it.
func MissingArtifact(path string, producedBy string) error {
	return fmt.Errorf("%w: %s (run %s first)", ErrMissingArtifact, path, producedBy)
}

// ErrorKind classifies analyzer failures for retry purposes.
type ErrorKind int

const (
	// KindOther is any failure that is neither a rate limit nor a server error.
	KindOther ErrorKind = iota
	// KindRateLimited is a quota/429-style rejection; retried with exponential backoff.
	KindRateLimited
	// KindServerError is a transient 5xx-style failure; retried with a fixed delay.
	KindServerError
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	default:
		return "other"
	}
}

// kinder lets collaborator errors carry their own classification.
type kinder interface {
	ErrorKind() ErrorKind
}

// ClassifyError maps an analyzer error to a retry kind. Errors may implement
// ErrorKind() themselves; otherwise the message is inspected the same way
// provider SDK errors are, by status-code substrings.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindOther
	}
	var k kinder
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "resource exhausted"),
		strings.Contains(msg, "too many requests"):
		return KindRateLimited
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "server_error"),
		strings.Contains(msg, "overloaded"):
		return KindServerError
	}
	return KindOther
}
