package httpapi

import (
	"errors"

	"dispatcher/internal/dispatch"
	"dispatcher/pkg/apperror"
)

// mapDispatchErr translates dispatch's sentinel errors into the apperror
// codes spec §7's error taxonomy names, so the adapter never leans on a raw
// error string for status-code selection.
func mapDispatchErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dispatch.ErrAlreadyStarted):
		return apperror.ErrSystemAlreadyStarted
	case errors.Is(err, dispatch.ErrNotStarted):
		return apperror.ErrSystemNotStarted
	case errors.Is(err, dispatch.ErrDuplicateDriver):
		return apperror.New(apperror.CodeDuplicateVehicleID, err.Error())
	case errors.Is(err, dispatch.ErrNoDrivers):
		return apperror.ErrNoVehiclesRegistered
	case errors.Is(err, dispatch.ErrInvalidAlgoCombo):
		return apperror.New(apperror.CodeInvalidAlgorithmMix, err.Error())
	case errors.Is(err, dispatch.ErrDuplicateDelivery):
		return apperror.New(apperror.CodeDuplicateDeliveryID, err.Error())
	default:
		var appErr *apperror.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperror.Wrap(err, apperror.CodeInternal, "internal error")
	}
}
