package merge

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationIssue is a single schema violation in a merge request body.
type ValidationIssue struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError reports a malformed merge request.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	return "Invalid request body"
}

func (e *ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

// SelfMergeError is returned when the source and target are the same user.
type SelfMergeError struct {
	UserID string
}

func (e *SelfMergeError) Error() string {
	return "Cannot merge user with itself"
}

func (e *SelfMergeError) StatusCode() int {
	return http.StatusBadRequest
}

// UnauthenticatedError is returned when the request carries no caller identity.
type UnauthenticatedError struct{}

func (e *UnauthenticatedError) Error() string {
	return "Unauthorized"
}

func (e *UnauthenticatedError) StatusCode() int {
	return http.StatusUnauthorized
}

// PermissionError is returned when the caller may not merge users in the workspace.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string {
	return e.Message
}

func (e *PermissionError) StatusCode() int {
	return http.StatusForbidden
}

// NotFoundError is returned when the source or target is not a user of the workspace.
type NotFoundError struct {
	Message string
	UserID  string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

func (e *NotFoundError) StatusCode() int {
	return http.StatusNotFound
}

// LookupError wraps a store failure raised while checking a pre-condition.
type LookupError struct {
	Subject string
	Err     error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("Error validating %s", e.Subject)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

func (e *LookupError) StatusCode() int {
	return http.StatusInternalServerError
}

// MergeInProgressError is returned when another run holds the lock on one of the users.
type MergeInProgressError struct {
	UserID string
}

func (e *MergeInProgressError) Error() string {
	return "A merge involving this user is already in progress"
}

func (e *MergeInProgressError) StatusCode() int {
	return http.StatusConflict
}

// TableMigrationError halts Phase 1 at the pair that failed. Retry with startTableIndex = Index.
type TableMigrationError struct {
	Index       int
	Table       string
	Column      string
	RowsUpdated int
	Err         error
}

func (e *TableMigrationError) Error() string {
	return fmt.Sprintf("Error updating %s.%s: %s", e.Table, e.Column, errorText(e.Err))
}

func (e *TableMigrationError) Unwrap() error {
	return e.Err
}

func (e *TableMigrationError) StatusCode() int {
	return http.StatusInternalServerError
}

// PhaseTimeoutError is returned when a stored procedure exceeds the statement timeout.
type PhaseTimeoutError struct {
	Phase int
	Err   error
}

func (e *PhaseTimeoutError) Error() string {
	return fmt.Sprintf("Phase %d timed out.", e.Phase)
}

func (e *PhaseTimeoutError) Unwrap() error {
	return e.Err
}

func (e *PhaseTimeoutError) StatusCode() int {
	return http.StatusRequestTimeout
}

// PhaseFailureError is returned when a phase errors or reports success=false.
// Result is set only when the procedure returned a payload.
type PhaseFailureError struct {
	Phase   int
	Message string
	Err     error
	Result  *PhaseResult
}

func (e *PhaseFailureError) Error() string {
	return e.Message
}

func (e *PhaseFailureError) Unwrap() error {
	return e.Err
}

// StatusCode is 400 for a business-rule failure reported by the procedure and 500 otherwise.
func (e *PhaseFailureError) StatusCode() int {
	if e.Result != nil {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// BothLinked reports whether the failure is the unresolved both-linked platform account conflict.
func (e *PhaseFailureError) BothLinked() bool {
	return e.Result != nil && e.Result.SourcePlatformUserID != "" && e.Result.TargetPlatformUserID != ""
}

type statusCoder interface {
	StatusCode() int
}

// StatusCode maps a pipeline error to its HTTP status. Unknown errors are 500.
func StatusCode(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}

// Retryable reports whether re-issuing the request with the returned coordinates can succeed.
func Retryable(err error) bool {
	var tableErr *TableMigrationError
	var timeoutErr *PhaseTimeoutError
	var phaseErr *PhaseFailureError
	switch {
	case errors.As(err, &tableErr), errors.As(err, &timeoutErr):
		return true
	case errors.As(err, &phaseErr):
		return phaseErr.Result == nil
	}
	return false
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
