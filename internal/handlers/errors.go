package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/tradergate/internal/models"
	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
)

// writeAuthError maps credential-flow errors. Disabled accounts get the same
// answer as a wrong password.
func writeAuthError(w http.ResponseWriter, err error) {
	var locked *models.LockedError
	var invalid *models.InvalidCredentialsError

	switch {
	case errors.As(err, &locked):
		details := ""
		if locked.LockedUntil != nil {
			details = "locked_until=" + locked.LockedUntil.UTC().Format(time.RFC3339)
			if secs := int(math.Ceil(time.Until(*locked.LockedUntil).Seconds())); secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
		}
		pkghttp.WriteErrorWithDetails(w, http.StatusLocked, pkghttp.ErrCodeAccountLocked,
			"Account temporarily locked after too many failed attempts", details)
	case errors.As(err, &invalid):
		pkghttp.WriteErrorWithDetails(w, http.StatusUnauthorized, pkghttp.ErrCodeUnauthorized,
			"Authentication failed", fmt.Sprintf("remaining_attempts=%d", invalid.RemainingAttempts))
	case errors.Is(err, models.ErrUnauthorized),
		errors.Is(err, models.ErrAccountDisabled):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrInvalidSecondFactor):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.ErrCodeUnauthorized, "Invalid verification code")
	default:
		writeServiceError(w, err)
	}
}

// writeServiceError maps the shared sentinel errors to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrAlreadyReviewed):
		pkghttp.WriteConflict(w, "Payment has already been reviewed")
	case errors.Is(err, models.ErrPendingPaymentExists):
		pkghttp.WriteConflict(w, "A payment is already awaiting review")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, err.Error())
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "unauthorized")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "forbidden")
	case errors.Is(err, models.ErrBackendUnavailable):
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
