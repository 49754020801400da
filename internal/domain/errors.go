package domain

import "errors"

var (
	// ErrNotFound is returned by stores when the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCoordinates is returned for latitude outside [-90, 90] or longitude outside [-180, 180].
	ErrInvalidCoordinates = errors.New("invalid coordinates")

	// ErrOutsideBoundary is returned when a location update falls outside the served country.
	ErrOutsideBoundary = errors.New("location outside country boundary")

	// ErrFeedbackNotAllowed is returned when a user submits feedback they were not invited to give.
	ErrFeedbackNotAllowed = errors.New("feedback not allowed")

	// ErrInvalidEvent marks a domain event that can never be handled and should be skipped.
	ErrInvalidEvent = errors.New("invalid event")
)
