package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"taskreview/api/internal/merge"
	"taskreview/api/internal/model"
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

func validationError(field, format string, args ...any) *DomainError {
	return fromValidation(model.Invalid(field, format, args...))
}

func fromValidation(err *model.ValidationError) *DomainError {
	details := map[string]any{}
	if err.Field != "" {
		details["field"] = err.Field
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), details)
}

func notFound(what, id string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s %s not found", what, id), nil)
}

func invariantViolation(format string, args ...any) *DomainError {
	return domainError(http.StatusInternalServerError, "INVARIANT_VIOLATION", fmt.Sprintf(format, args...), nil)
}

const conflictMessage = "New content has been published. Please review and merge the changes."

// VersionNodes is one side of a merge conflict.
type VersionNodes struct {
	Version model.Version `json:"version"`
	Nodes   []model.Node  `json:"nodes"`
}

// MergeConflict is returned in place of a save, submit or approval when the draft
// was based on something other than the latest approved version.
type MergeConflict struct {
	Message            string               `json:"message"`
	TaskID             string               `json:"taskId"`
	UserVersion        VersionNodes         `json:"userVersion"`
	ApprovedVersion    VersionNodes         `json:"approvedVersion"`
	BaseVersion        *VersionNodes        `json:"baseVersion,omitempty"`
	Categorization     merge.Categorization `json:"categorization"`
	Analysis           merge.Analysis       `json:"analysis"`
	AutoMergeableCount int                  `json:"autoMergeableCount"`
	ConflictCount      int                  `json:"conflictCount"`
}

type ConflictError struct {
	Conflict MergeConflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("MERGE_CONFLICT: task %s has a newer approved version %d",
		e.Conflict.TaskID, e.Conflict.ApprovedVersion.Version.VersionNumber)
}

// classify turns store and model errors into DomainErrors. Conflicts pass through
// untouched so callers can still reach the payload.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict
	}
	var validation *model.ValidationError
	if errors.As(err, &validation) {
		return fromValidation(validation)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	return err
}

// missing names the row that a read could not find.
func missing(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(what, id)
	}
	return err
}
