package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable means the probe or connection failed before any generation happened.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderError means the provider answered with an error status or a malformed payload.
	ErrProviderError = errors.New("provider error")
	// ErrRetrieval wraps any failure of the vector retrieval collaborator.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrEmptyQuestion is returned when a pipeline request carries no question.
	ErrEmptyQuestion = errors.New("question is empty")
)

// ProviderFailure describes a failed provider call. Kind is ErrProviderUnavailable or ErrProviderError.
type ProviderFailure struct {
	Provider string
	Kind     error
	Status   int // HTTP status, 0 when no response was received
	Err      error
}

func (e *ProviderFailure) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderFailure) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable builds a ProviderFailure of kind ErrProviderUnavailable.
func Unavailable(provider string, err error) *ProviderFailure {
	return &ProviderFailure{Provider: provider, Kind: ErrProviderUnavailable, Err: err}
}

// ProviderErr builds a ProviderFailure of kind ErrProviderError.
func ProviderErr(provider string, status int, err error) *ProviderFailure {
	return &ProviderFailure{Provider: provider, Kind: ErrProviderError, Status: status, Err: err}
}
