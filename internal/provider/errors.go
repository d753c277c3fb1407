package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable covers network failures and timeouts.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderRejected covers non-2xx replies.
	ErrProviderRejected = errors.New("provider rejected request")
	// ErrEmptyResponse is a 2xx reply without text.
	ErrEmptyResponse = errors.New("provider returned no text")
)

// Error is a classified provider failure. errors.Is matches its Kind.
type Error struct {
	Kind       error
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %v: status %d: %s", e.Provider, e.Kind, e.StatusCode, truncate(e.Body, 256))
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

func rejected(provider string, status int, body string) error {
	return &Error{Kind: ErrProviderRejected, Provider: provider, StatusCode: status, Body: body}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
