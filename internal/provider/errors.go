package provider

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the build, artifact or submission doesn't exist
	ErrNotFound = errors.New("resource not found in provider")

	// ErrUnauthorized indicates the token was rejected
	ErrUnauthorized = errors.New("provider authentication failed")

	// ErrProviderUnavailable indicates the provider is temporarily unavailable
	ErrProviderUnavailable = errors.New("provider temporarily unavailable")
)

// ProviderError represents a provider-specific error
type ProviderError struct {
	Code    int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider error %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// PlatformError is raised when a response body carries a messages or errors list
type PlatformError struct {
	Messages []string
}

func (e *PlatformError) Error() string {
	return strings.Join(e.Messages, "\n")
}

// MissingIdentifierError is returned when a create response lacks the new id
type MissingIdentifierError struct {
	Resource string
}

func (e *MissingIdentifierError) Error() string {
	return fmt.Sprintf("unable to retrieve %s id", e.Resource)
}
