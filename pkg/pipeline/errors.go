package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/askdb-dev/askdb/pkg/execguard"
	"github.com/askdb-dev/askdb/pkg/generate"
	"github.com/askdb-dev/askdb/pkg/validate"
)

// inputError rejects the request before any work happens.
func inputError(queryID, message string) *ErrorResult {
	return &ErrorResult{
		QueryID: queryID,
		Kind:    KindInvalidInput,
		Message: message,
	}
}

// generationError maps a generation failure to a user-facing result with
// remediation hints.
func generationError(queryID string, err error) *ErrorResult {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ErrorResult{
			QueryID:     queryID,
			Kind:        KindTimeout,
			Message:     "statement generation timed out",
			Suggestions: []string{"try again", "simplify the question"},
		}
	case errors.Is(err, generate.ErrNoStatement):
		return &ErrorResult{
			QueryID:     queryID,
			Kind:        KindGenerationFailed,
			Message:     "the question could not be translated into a query",
			Suggestions: []string{"rephrase using table or column names", "ask about data that exists in the schema"},
		}
	case errors.Is(err, generate.ErrAttemptsExhausted):
		return &ErrorResult{
			QueryID:     queryID,
			Kind:        KindGenerationFailed,
			Message:     fmt.Sprintf("no valid statement after repeated attempts: %v", err),
			Suggestions: []string{"name the tables you want explicitly", "break the question into smaller parts"},
		}
	default:
		return &ErrorResult{
			QueryID: queryID,
			Kind:    KindGenerationFailed,
			Message: "statement generation failed",
		}
	}
}

// validationError maps a blocking validation result. Security criticals and
// schema errors produce different kinds so callers can tell a refused request
// from a fixable one.
func validationError(queryID string, vr *validate.Result) *ErrorResult {
	kind := KindValidationFailed
	message := "the generated statement failed validation"
	if vr.SecurityCritical() {
		kind = KindSecurityBlocked
		message = "the generated statement was blocked for safety reasons"
	}

	var suggestions []string
	for _, issue := range vr.Issues {
		if issue.Severity < validate.SeverityError {
			continue
		}
		suggestions = append(suggestions, issue.Message)
		suggestions = append(suggestions, issue.Suggestions...)
	}
	return &ErrorResult{
		QueryID:     queryID,
		Kind:        kind,
		Message:     message,
		Suggestions: suggestions,
	}
}

// executionError maps a datastore failure. Circuit-open and timeout get their
// own kinds; everything else is a generic execution failure.
func executionError(queryID string, err error) *ErrorResult {
	switch {
	case errors.Is(err, execguard.ErrCircuitOpen):
		return &ErrorResult{
			QueryID:     queryID,
			Kind:        KindUnavailable,
			Message:     "the datastore is temporarily unavailable",
			Suggestions: []string{"retry in a few moments"},
		}
	case execguard.Classify(err) == execguard.ClassTimeout:
		return &ErrorResult{
			QueryID:     queryID,
			Kind:        KindTimeout,
			Message:     "query execution timed out",
			Suggestions: []string{"add a date range or other filter", "ask for an aggregate instead of raw rows"},
		}
	default:
		return &ErrorResult{
			QueryID:     queryID,
			Kind:        KindExecutionFailed,
			Message:     "query execution failed",
			Suggestions: []string{"try rephrasing the question"},
		}
	}
}

// internalError hides the cause behind a trace id; the detail goes to logs
// only.
func internalError(queryID string) *ErrorResult {
	return &ErrorResult{
		QueryID: queryID,
		Kind:    KindInternal,
		Message: "an unexpected error occurred",
		TraceID: uuid.NewString(),
	}
}
