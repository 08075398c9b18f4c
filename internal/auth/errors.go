package auth

import "errors"

var (
	// ErrUnauthorized means no usable credential was presented.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrForbidden means the credential is valid but the role is not
	// allowed to perform the action.
	ErrForbidden = errors.New("auth: forbidden")
	// ErrInvalidToken means the token failed signature or claim checks.
	ErrInvalidToken = errors.New("auth: invalid token")
)
