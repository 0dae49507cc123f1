package selfservice

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeRegistrationNoEmail    = "REGISTRATION_NO_EMAIL"
	TextCodeUsernameTaken          = "USERNAME_TAKEN"
	TextCodeActivationFailed       = "ACTIVATION_FAILED"
	TextCodeActivationTokenExpired = "ACTIVATION_TOKEN_EXPIRED"
	TextCodeActivationMismatch     = "ACTIVATION_TOKEN_MISMATCH"
	TextCodeSignupDisabled         = "SIGNUP_DISABLED"
)

var (
	// ErrSignupDisabled is returned when the signup feature gate is off
	ErrSignupDisabled = goerrors.New("self registration is disabled", goerrors.CategoryAuthz).
				WithCode(goerrors.CodeForbidden).
				WithTextCode(TextCodeSignupDisabled)

	// ErrUsernameTaken is returned when the user name already exists
	ErrUsernameTaken = goerrors.New("user name is already taken", goerrors.CategoryConflict).
				WithCode(goerrors.CodeConflict).
				WithTextCode(TextCodeUsernameTaken)

	// ErrActivationTokenExpired is returned for expired activation tokens,
	// the stored token has been removed at that point
	ErrActivationTokenExpired = goerrors.New("activation token is expired", goerrors.CategoryValidation).
					WithCode(goerrors.CodeBadRequest).
					WithTextCode(TextCodeActivationTokenExpired)

	// ErrActivationTokenMismatch is returned when the given token is not the stored one
	ErrActivationTokenMismatch = goerrors.New("activation token mismatch", goerrors.CategoryValidation).
					WithCode(goerrors.CodeBadRequest).
					WithTextCode(TextCodeActivationMismatch)
)

// IsUsernameTakenError reports whether err is a taken user name error
func IsUsernameTakenError(err error) bool {
	return hasTextCode(err, TextCodeUsernameTaken)
}

// IsActivationExpired reports whether err signals an expired activation token
func IsActivationExpired(err error) bool {
	return hasTextCode(err, TextCodeActivationTokenExpired)
}

func hasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

func activationError(msg string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeActivationFailed)
}

func unwrapRich(err error, msg string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
