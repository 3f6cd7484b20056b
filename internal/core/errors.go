// Package core defines the fundamental types and errors for the planner.
package core

import (
	"errors"
	"fmt"
)

// Core errors that can occur across the system
var (
	// OAuth errors
	ErrMissingClientConfiguration = errors.New("missing client configuration")
	ErrExpiredOrTamperedState     = errors.New("authorization state expired or tampered")
	ErrProviderDenied             = errors.New("provider denied authorization")
	ErrTokenExchangeFailed        = errors.New("token exchange failed")
	ErrTokenRefreshFailed         = errors.New("token refresh failed")

	// Sync errors
	ErrProviderFetch   = errors.New("provider fetch failed")
	ErrFeedParse       = errors.New("calendar feed could not be parsed")
	ErrNotConnected    = errors.New("provider is not connected")
	ErrUnknownProvider = errors.New("unknown provider")

	// Scheduling errors
	ErrNoAvailableSlot = errors.New("no available slot on this day")

	// Event errors
	ErrEventNotFound = errors.New("event not found")
	ErrReadOnlyEvent = errors.New("event is read-only")
	ErrInvalidEvent  = errors.New("invalid event")

	// Storage errors
	ErrRecordNotFound = errors.New("record not found")
)

// ProviderDeniedError carries the description a provider sent with a denied
// authorization.
type ProviderDeniedError struct {
	Provider    Provider
	Code        string
	Description string
}

func (e *ProviderDeniedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s denied authorization: %s", e.Provider.DisplayName(), e.Description)
	}
	return fmt.Sprintf("%s denied authorization: %s", e.Provider.DisplayName(), e.Code)
}

func (e *ProviderDeniedError) Is(target error) bool {
	return target == ErrProviderDenied
}

// ProviderFetchError is a non-2xx response from a calendar API.
type ProviderFetchError struct {
	Provider Provider
	Status   int
	Message  string
}

func (e *ProviderFetchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider.DisplayName(), e.Message)
}

func (e *ProviderFetchError) Is(target error) bool {
	return target == ErrProviderFetch
}

// UserMessage renders err as a short message suitable for a notice.
func UserMessage(err error) string {
	var denied *ProviderDeniedError
	var fetch *ProviderFetchError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &denied):
		return denied.Error()
	case errors.As(err, &fetch):
		return fetch.Error()
	case errors.Is(err, ErrMissingClientConfiguration):
		return "Calendar connection is not configured. Set the provider client ID first."
	case errors.Is(err, ErrExpiredOrTamperedState):
		return "The authorization request expired or was tampered with. Please connect again."
	case errors.Is(err, ErrTokenExchangeFailed):
		return "Could not complete the connection with the calendar provider. Please try again."
	case errors.Is(err, ErrTokenRefreshFailed):
		return "Calendar access was revoked or expired. Please reconnect."
	case errors.Is(err, ErrNoAvailableSlot):
		return "There is no free slot left on this day for that duration."
	case errors.Is(err, ErrFeedParse):
		return "The calendar feed could not be read."
	}
	return err.Error()
}
