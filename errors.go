package paygate

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// TextCodeDuplicateEmail signals a registration against a taken address.
	TextCodeDuplicateEmail = "DUPLICATE_EMAIL"
	// TextCodeInvalidCreds covers both unknown email and bad password.
	TextCodeInvalidCreds = "INVALID_CREDENTIALS"
	// TextCodeTokenExpired signals a token past its expiration.
	TextCodeTokenExpired = "TOKEN_EXPIRED"
	// TextCodeTokenMalformed signals a token we could not parse or verify.
	TextCodeTokenMalformed = "TOKEN_MALFORMED"
	// TextCodeIdentityNotFound signals a valid token for a missing record.
	TextCodeIdentityNotFound = "IDENTITY_NOT_FOUND"
	// TextCodeUserNotFound signals a lookup against a missing record.
	TextCodeUserNotFound = "USER_NOT_FOUND"
	// TextCodeAlreadyPaid signals an initiate call on a settled account.
	TextCodeAlreadyPaid = "ALREADY_PAID"
	// TextCodePaymentRequired signals a paid capability denied to an unpaid account.
	TextCodePaymentRequired = "PAYMENT_REQUIRED"
	// TextCodeInvalidTransition signals a payment state change that is not allowed.
	TextCodeInvalidTransition = "INVALID_PAYMENT_TRANSITION"
	// TextCodeEmptyPassword signals an empty string where a password is required.
	TextCodeEmptyPassword = "EMPTY_PASSWORD"
	// TextCodeMissingSigningKey signals a startup without a usable signing key.
	TextCodeMissingSigningKey = "MISSING_SIGNING_KEY"
)

// ErrDuplicateEmail is returned when a registration collides with an existing address.
var ErrDuplicateEmail = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEmail).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is the single credential failure we expose;
// it deliberately does not distinguish unknown email from wrong password.
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenExpired is returned for tokens past their expiration date.
var ErrTokenExpired = goerrors.New("authentication token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned for tokens that fail parsing or signature checks.
var ErrTokenMalformed = goerrors.New("authentication token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrIdentityNotFound is returned when a verified token references a record
// that no longer exists; callers see it as an authentication failure.
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryAuth).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserNotFound is returned for store lookups against a missing record.
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrAlreadyPaid is returned when initiating payment on a settled account.
var ErrAlreadyPaid = goerrors.New("payment already completed", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyPaid).
	WithCode(goerrors.CodeBadRequest)

// ErrPaymentRequired is returned when a valid identity lacks the paid capability.
var ErrPaymentRequired = goerrors.New("payment required", goerrors.CategoryAuthz).
	WithTextCode(TextCodePaymentRequired).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidTransition is returned when a requested payment state change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid payment state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is the error we return for empty passwords
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrMissingSigningKey aborts startup when no signing key is configured.
var ErrMissingSigningKey = goerrors.New("signing key is empty or missing", goerrors.CategoryOperation).
	WithTextCode(TextCodeMissingSigningKey).
	WithCode(goerrors.CodeInternal)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
