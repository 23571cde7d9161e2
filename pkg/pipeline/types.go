// Package pipeline sequences intent analysis, context retrieval, statement
// generation, validation, guarded execution and answer synthesis into the
// end-to-end question-answering flow.
package pipeline

import (
	"time"

	"github.com/askdb-dev/askdb/pkg/execguard"
	"github.com/askdb-dev/askdb/pkg/intent"
)

// ErrorKind is a stable, user-facing failure category.
type ErrorKind string

const (
	KindInvalidInput     ErrorKind = "invalid_input"
	KindSecurityBlocked  ErrorKind = "security_blocked"
	KindValidationFailed ErrorKind = "validation_failed"
	KindGenerationFailed ErrorKind = "generation_failed"
	KindExecutionFailed  ErrorKind = "execution_failed"
	KindUnavailable      ErrorKind = "service_unavailable"
	KindTimeout          ErrorKind = "timeout"
	KindInternal         ErrorKind = "internal"
)

// Response is a successfully answered question.
type Response struct {
	QueryID   string            `json:"query_id"`
	Question  string            `json:"question"`
	Statement string            `json:"statement"`
	Result    *execguard.Result `json:"result"`
	Answer    string            `json:"answer"`
	Latency   time.Duration     `json:"latency"`
	CacheHit  bool              `json:"cache_hit"`
}

// ClarificationRequest is the outcome for an ambiguous question: no statement
// is generated, the caller is asked to narrow the question instead.
type ClarificationRequest struct {
	QueryID    string        `json:"query_id"`
	Question   string        `json:"question"`
	Intent     intent.Result `json:"intent"`
	Questions  []string      `json:"clarification_questions"`
	Confidence float64       `json:"confidence"`
}

// ErrorResult is a terminal failure. Kind is stable across releases; Message
// and Suggestions are for humans. TraceID correlates with server logs.
type ErrorResult struct {
	QueryID     string    `json:"query_id"`
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Suggestions []string  `json:"suggestions,omitempty"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// Outcome is the result of one Process call. Exactly one field is non-nil.
type Outcome struct {
	Response      *Response             `json:"response,omitempty"`
	Clarification *ClarificationRequest `json:"clarification,omitempty"`
	Error         *ErrorResult          `json:"error,omitempty"`
}

func respond(r *Response) Outcome             { return Outcome{Response: r} }
func clarify(c *ClarificationRequest) Outcome { return Outcome{Clarification: c} }
func fail(e *ErrorResult) Outcome             { return Outcome{Error: e} }
