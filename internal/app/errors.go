package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"corkboard/api/internal/docstore"
)

const (
	CodeNotFound         = "NOT_FOUND"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeNetworkFailure   = "NETWORK_FAILURE"
	CodeInvalidInput     = "INVALID_INPUT"
	CodePartialFailure   = "PARTIAL_FAILURE"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodePasswordRequired = "PASSWORD_REQUIRED"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func invalidInput(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeInvalidInput, message, details)
}

func permissionDenied(message string) *DomainError {
	return domainError(http.StatusForbidden, CodePermissionDenied, message, nil)
}

func notFound(what string) *DomainError {
	return &DomainError{Status: http.StatusNotFound, Code: CodeNotFound, Message: what + " not found", Err: docstore.ErrNotFound}
}

// storeError translates a store failure into the engine's error taxonomy.
// Domain errors, batch errors and context errors pass through unchanged.
func storeError(err error, what string) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	var be *BatchError
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return &DomainError{Status: http.StatusNotFound, Code: CodeNotFound, Message: what + " not found", Err: err}
	case errors.Is(err, docstore.ErrPermissionDenied):
		return &DomainError{Status: http.StatusForbidden, Code: CodePermissionDenied, Message: "The store rejected this change", Err: err}
	case errors.Is(err, docstore.ErrUnavailable):
		return &DomainError{Status: http.StatusServiceUnavailable, Code: CodeNetworkFailure, Message: "Document store unavailable", Err: err}
	}
	return err
}

// BatchError reports the items of a batch that failed. Items not listed
// were written; there is no rollback.
type BatchError struct {
	Op     string
	Total  int
	Failed map[string]error
}

func (e *BatchError) Error() string {
	ids := e.IDs()
	return fmt.Sprintf("%s: %d of %d items failed: %s", e.Op, len(ids), e.Total, strings.Join(ids, ", "))
}

// IDs returns the failed item ids, sorted.
func (e *BatchError) IDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, id := range e.IDs() {
		errs = append(errs, e.Failed[id])
	}
	return errs
}
