package app

import (
	"fmt"
	"net/http"
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

func validationError(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

var (
	errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated", nil)
	errInvalidLogin = domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
	errDuplicate    = domainError(http.StatusBadRequest, "DUPLICATE_USERNAME", "Username already exists", nil)
	errNoCredits    = domainError(http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", "Insufficient credits", nil)
	errFolderFull   = domainError(http.StatusBadRequest, "FOLDER_NOT_EMPTY", "Cannot delete folder with files", nil)
)
