package app

import "errors"

var (
	// ErrInvalidCredentials covers unknown email, wrong password, and
	// role mismatch on the role-pinned login paths.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailAlreadyExists indicates the email is taken by any principal,
	// regardless of role.
	ErrEmailAlreadyExists = errors.New("email already exists")

	// ErrUnauthenticated covers missing, malformed, expired, and
	// badly-signed tokens, and tokens whose subject no longer exists.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden indicates an authenticated principal lacking the role
	// or ownership the operation requires.
	ErrForbidden = errors.New("forbidden")

	ErrBookNotFound   = errors.New("book not found")
	ErrReviewNotFound = errors.New("review not found")

	// ErrRatingOutOfRange rejects ratings outside [1,5].
	ErrRatingOutOfRange = errors.New("rating must be between 1 and 5")

	// ErrValidation marks malformed input; wrapped with the field detail.
	ErrValidation = errors.New("validation failed")

	// ErrGeneratorUnavailable indicates no AI provider is configured.
	ErrGeneratorUnavailable = errors.New("ai generator not configured")
)
