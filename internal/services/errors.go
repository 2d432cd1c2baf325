package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrVideoJobInvalidInput indicates a missing or malformed field on the command.
	ErrVideoJobInvalidInput = errors.New("video job: invalid input")
	// ErrVideoJobNotFound indicates the job document does not exist.
	ErrVideoJobNotFound = errors.New("video job: not found")
	// ErrVideoJobForbidden indicates the caller does not own the job.
	ErrVideoJobForbidden = errors.New("video job: forbidden")
	// ErrVideoJobFailedPrecondition covers errors the caller must fix before retrying.
	ErrVideoJobFailedPrecondition = errors.New("video job: failed precondition")
	// ErrVideoJobDeadlineExceeded indicates the provider never finished within the poll budget.
	ErrVideoJobDeadlineExceeded = errors.New("video job: deadline exceeded")
	// ErrVideoJobInternal covers provider and extraction failures.
	ErrVideoJobInternal = errors.New("video job: internal error")
	// ErrVideoJobUnavailable indicates the job store could not be reached.
	ErrVideoJobUnavailable = errors.New("video job: repository unavailable")

	ErrMissingCredential     = errors.New("video provider credential is not configured")
	ErrJobPreviouslyFailed   = errors.New("job previously failed")
	ErrJobTerminal           = errors.New("job already finished")
	ErrMissingPrompt         = errors.New("product description is required")
	ErrImageRequired         = errors.New("product image is required")
	ErrImageResolutionFailed = errors.New("product image could not be resolved")
	ErrProviderRejected      = errors.New("provider rejected the request")
	ErrSubmissionFailed      = errors.New("provider submission failed")
	ErrProviderOperation     = errors.New("provider operation failed")
	ErrPollFailed            = errors.New("provider poll failed")
	ErrPollTimeout           = errors.New("provider did not finish in time")
	ErrNoArtifact            = errors.New("provider returned no video")
)

const maxPersistedMessageRunes = 500

// JobFailure pairs a category sentinel with a stable reason code. It unwraps
// to both the category and the cause so callers can match either.
type JobFailure struct {
	Category error
	Reason   string
	Err      error
}

func (f *JobFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%v (%s)", f.Category, f.Reason)
	}
	return fmt.Sprintf("%v: %v", f.Category, f.Err)
}

func (f *JobFailure) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Category}
	}
	return []error{f.Category, f.Err}
}

func newJobFailure(category error, reason string, err error) *JobFailure {
	return &JobFailure{Category: category, Reason: reason, Err: err}
}

// FailureReason returns the reason code carried by err, or "".
func FailureReason(err error) string {
	var failure *JobFailure
	if errors.As(err, &failure) {
		return failure.Reason
	}
	return ""
}

// truncateMessage bounds persisted error text.
func truncateMessage(message string) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) <= maxPersistedMessageRunes {
		return message
	}
	return string(runes[:maxPersistedMessageRunes])
}
