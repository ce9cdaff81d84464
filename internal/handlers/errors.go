package handlers

import (
	stdErrors "errors"
	"net/http"

	"github.com/charlesng35/hearth/internal/services"
	"github.com/charlesng35/hearth/pkg/errors"
)

var (
	errEmailTaken      = errors.New("auth.email_taken", "An account with this email already exists", http.StatusConflict)
	errWeakPassword    = errors.New("auth.weak_password", "Password must be at least 8 characters", http.StatusBadRequest)
	errInvalidEmail    = errors.New("auth.invalid_email", "Email address is invalid", http.StatusBadRequest)
	errRefreshInvalid  = errors.New("auth.refresh_invalid", "Refresh token is invalid or has been used", http.StatusUnauthorized)
	errAlreadyEnabled  = errors.New("auth.two_factor_enabled", "Two-factor authentication is already enabled", http.StatusConflict)
	errNoEnrollment    = errors.New("auth.two_factor_not_pending", "No two-factor enrollment is in progress", http.StatusConflict)
	errNotEnabled      = errors.New("auth.two_factor_disabled", "Two-factor authentication is not enabled", http.StatusConflict)
	errAccountNotFound = errors.New("account.not_found", "Account not found", http.StatusNotFound)
)

var serviceErrors = []struct {
	target error
	mapped *errors.AppError
}{
	{services.ErrInvalidCredentials, errors.ErrInvalidCredentials},
	{services.ErrTwoFactorRequired, errors.ErrTwoFactorRequired},
	{services.ErrInvalidTwoFactorCode, errors.ErrInvalidTwoFactorCode},
	{services.ErrTokenExpired, errors.ErrTokenExpired},
	{services.ErrInvalidToken, errors.ErrInvalidToken},
	{services.ErrRefreshTokenInvalid, errRefreshInvalid},
	{services.ErrEmailTaken, errEmailTaken},
	{services.ErrWeakPassword, errWeakPassword},
	{services.ErrInvalidEmail, errInvalidEmail},
	{services.ErrAlreadyEnabled, errAlreadyEnabled},
	{services.ErrNoPendingEnrollment, errNoEnrollment},
	{services.ErrNotEnabled, errNotEnabled},
	{services.ErrForbidden, errors.ErrForbidden},
	{services.ErrAccountNotFound, errAccountNotFound},
}

// mapServiceError converts domain errors into API errors. Unknown errors
// become internal server errors carrying the original for logs.
func mapServiceError(err error) *errors.AppError {
	if err == nil {
		return nil
	}
	for _, candidate := range serviceErrors {
		if stdErrors.Is(err, candidate.target) {
			return candidate.mapped
		}
	}
	return errors.FromError(err)
}
