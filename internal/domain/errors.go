package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every business error wraps exactly one of these so the
// transport layer can map it to a status code with errors.Is.
var (
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller is authenticated but not permitted.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the request conflicts with current state.
	ErrConflict = errors.New("conflict")

	// ErrInternal indicates an unexpected store or I/O failure.
	ErrInternal = errors.New("internal error")
)

// kindError is a named business error that belongs to a kind.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func newError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

var (
	// ===========================================
	// User Errors
	// ===========================================

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = newError(ErrNotFound, "user not found")

	// ErrUserAlreadyExists indicates a user with the same username/email exists.
	ErrUserAlreadyExists = newError(ErrConflict, "user already exists")

	// ErrUserInactive indicates the user account is disabled.
	ErrUserInactive = newError(ErrUnauthorized, "user account is inactive")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = newError(ErrUnauthorized, "invalid credentials")

	// ErrInvalidToken indicates the bearer token is malformed or expired.
	ErrInvalidToken = newError(ErrUnauthorized, "invalid or expired token")

	// ErrAlreadyFriends indicates the two users are already friends.
	ErrAlreadyFriends = newError(ErrConflict, "users are already friends")

	// ErrNotFriends indicates the two users are not friends.
	ErrNotFriends = newError(ErrNotFound, "users are not friends")

	// ErrSelfFriend indicates a user tried to befriend themselves.
	ErrSelfFriend = newError(ErrValidation, "cannot befriend yourself")

	// ===========================================
	// Project Errors
	// ===========================================

	// ErrProjectNotFound indicates the requested project does not exist.
	ErrProjectNotFound = newError(ErrNotFound, "project not found")

	// ErrNotMember indicates the caller is not a member of the project.
	ErrNotMember = newError(ErrForbidden, "you are not a member of this project")

	// ErrNotOwner indicates the caller does not own the project.
	ErrNotOwner = newError(ErrForbidden, "only the project owner can do this")

	// ErrAlreadyMember indicates the user is already a project member.
	ErrAlreadyMember = newError(ErrConflict, "user is already a member of this project")

	// ErrMemberNotFound indicates the user is not a project member.
	ErrMemberNotFound = newError(ErrNotFound, "user is not a member of this project")

	// ErrNotFriend indicates the candidate is not a friend of the caller.
	ErrNotFriend = newError(ErrForbidden, "you can only add friends as project members")

	// ErrRemoveOwner indicates an attempt to remove the project owner.
	ErrRemoveOwner = newError(ErrForbidden, "cannot remove the project owner; transfer ownership first")

	// ErrMemberHoldsCheckout indicates the member currently holds the checkout.
	ErrMemberHoldsCheckout = newError(ErrConflict, "member currently has the project checked out")

	// ErrNewOwnerNotMember indicates the ownership target is not a member.
	ErrNewOwnerNotMember = newError(ErrForbidden, "new owner must already be a project member")

	// ===========================================
	// Checkout Errors
	// ===========================================

	// ErrCheckoutConflict indicates another user holds the checkout.
	ErrCheckoutConflict = newError(ErrConflict, "project is already checked out")

	// ErrNotHolder indicates the caller does not hold the checkout.
	ErrNotHolder = newError(ErrForbidden, "you do not have this project checked out")

	// ErrNotCheckedOut indicates the project is not checked out.
	ErrNotCheckedOut = newError(ErrConflict, "project is not checked out")

	// ===========================================
	// Commit Errors
	// ===========================================

	// ErrCommitNotFound indicates the requested commit does not exist.
	ErrCommitNotFound = newError(ErrNotFound, "commit not found")

	// ErrEmptyMessage indicates a commit message is missing.
	ErrEmptyMessage = newError(ErrValidation, "commit message is required")

	// ErrNegativeFilesChanged indicates a negative files-changed count.
	ErrNegativeFilesChanged = newError(ErrValidation, "filesChanged must be zero or greater")

	// ===========================================
	// Authorization Errors
	// ===========================================

	// ErrAccessDenied indicates the caller does not have permission.
	ErrAccessDenied = newError(ErrForbidden, "access denied")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., project id).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}

// Validationf builds a validation error with a formatted message.
func Validationf(format string, args ...any) error {
	return &DomainError{Err: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// PublicMessage returns the message safe to show to API callers.
// Internal errors never leak their cause.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrInternal) {
		return "internal server error"
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}

	var ke *kindError
	if errors.As(err, &ke) {
		return ke.msg
	}
	return err.Error()
}
