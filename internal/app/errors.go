package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"roomly/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func errInactiveGroup() *DomainError {
	return domainError(http.StatusConflict, "INACTIVE_GROUP", "Group is no longer active", nil)
}

func errForbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func errConflict() *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", "Concurrent update lost, please retry", nil)
}

func errCannotSelfRemoveAdmin() *DomainError {
	return domainError(http.StatusConflict, "CANNOT_SELF_REMOVE_ADMIN", "Transfer leadership or delete the group instead", nil)
}

func errConfigUnavailable(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "CONFIG_UNAVAILABLE", message, nil)
}

func errStoreTimeout() *DomainError {
	return domainError(http.StatusGatewayTimeout, "STORE_TIMEOUT", "Store operation timed out", nil)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func errMalformed(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "MALFORMED_INVITATION", message, nil)
}

// mapStoreErr translates store sentinels into the domain taxonomy. notFound
// names the entity for the 404 message.
func mapStoreErr(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return errNotFound(notFound)
	case errors.Is(err, store.ErrGroupInactive):
		return errInactiveGroup()
	case errors.Is(err, store.ErrConflict):
		return errConflict()
	case errors.Is(err, context.DeadlineExceeded):
		return errStoreTimeout()
	default:
		return err
	}
}
