// Package service provides the business logic of ApexCoding.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// internalError wraps an infrastructure failure so it maps to a 500 and
// never leaks its cause to callers.
func internalError(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrInternal, err)
}

// mapNotFound turns repository.ErrNotFound into notFound and wraps any
// other failure as internal.
func mapNotFound(err, notFound error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return internalError(err)
}

// isDomainError reports whether err already carries an API error kind.
func isDomainError(err error) bool {
	for _, kind := range []error{
		domain.ErrValidation,
		domain.ErrUnauthorized,
		domain.ErrForbidden,
		domain.ErrNotFound,
		domain.ErrConflict,
		domain.ErrInternal,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// passThrough keeps domain errors raised inside a transaction and wraps
// everything else as internal.
func passThrough(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return internalError(err)
}

// Clock returns the current time. Timestamps are truncated to milliseconds,
// the precision every backend stores.
type Clock func() time.Time

// SystemClock is the default Clock.
func SystemClock() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
