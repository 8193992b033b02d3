package services

import (
	"errors"
	"fmt"

	"github.com/soaringjerry/Coursepulse/internal/store"
)

type ErrorCode string

const (
	ErrorInvalid         ErrorCode = "invalid"
	ErrorInvalidInput    ErrorCode = "invalid_input"
	ErrorNotFound        ErrorCode = "not_found"
	ErrorConflict        ErrorCode = "conflict"
	ErrorUnauthorized    ErrorCode = "unauthorized"
	ErrorBadGateway      ErrorCode = "bad_gateway"
	ErrorUnavailable     ErrorCode = "unavailable"
	ErrorTooManyRequests ErrorCode = "too_many_requests"
	ErrorSurveyClosed    ErrorCode = "survey_closed"
	ErrorCapacity        ErrorCode = "capacity"
	ErrorMissingRequired ErrorCode = "missing_required_answer"
	ErrorInvalidAnswer   ErrorCode = "invalid_answer"
	ErrorStorageTimeout  ErrorCode = "storage_timeout"
	ErrorSchema          ErrorCode = "schema"
)

// Answer rule names reported in InvalidAnswer errors.
const (
	RuleUnknownQuestion = "unknown_question"
	RuleChoice          = "choice"
	RuleRatingBound     = "rating_bound"
	RuleMaxChars        = "max_chars"
	RuleType            = "type"
)

// ServiceError is the error every service returns to its callers. Table,
// Key, QuestionID and Rule carry whatever context applies.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	Table      string
	Key        string
	QuestionID string
	Rule       string
	Err        error
}

func (e *ServiceError) Error() string { return e.Message }

func (e *ServiceError) Unwrap() error { return e.Err }

func NewInvalidError(msg string) error  { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewNotFoundError(msg string) error { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func NewBadGatewayError(msg string) error { return &ServiceError{Code: ErrorBadGateway, Message: msg} }

func NewUnavailableError(msg string) error { return &ServiceError{Code: ErrorUnavailable, Message: msg} }

func NewTooManyRequestsError(msg string) error {
	return &ServiceError{Code: ErrorTooManyRequests, Message: msg}
}

func NewInvalidInputError(field, msg string) error {
	return &ServiceError{Code: ErrorInvalidInput, Key: field, Message: fmt.Sprintf("%s: %s", field, msg)}
}

func NewSurveyClosedError(courseID, reason string) error {
	return &ServiceError{
		Code:    ErrorSurveyClosed,
		Table:   store.TableSurveySettings,
		Key:     courseID,
		Rule:    reason,
		Message: fmt.Sprintf("survey %s is closed: %s", courseID, reason),
	}
}

func NewCapacityError(courseID string, limit int) error {
	return &ServiceError{
		Code:    ErrorCapacity,
		Table:   store.TableSurveySettings,
		Key:     courseID,
		Rule:    "max_responses",
		Message: fmt.Sprintf("survey %s reached its limit of %d respondents", courseID, limit),
	}
}

func NewMissingRequiredAnswerError(courseID, questionID string) error {
	return &ServiceError{
		Code:       ErrorMissingRequired,
		Table:      store.TableQuestions,
		Key:        courseID,
		QuestionID: questionID,
		Rule:       "required",
		Message:    fmt.Sprintf("question %s requires an answer", questionID),
	}
}

func NewInvalidAnswerError(questionID, rule, detail string) error {
	return &ServiceError{
		Code:       ErrorInvalidAnswer,
		Table:      store.TableQuestions,
		QuestionID: questionID,
		Rule:       rule,
		Message:    fmt.Sprintf("question %s: %s", questionID, detail),
	}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// fromStore lifts storage errors into ServiceErrors so callers match on a
// single type. Other errors pass through untouched.
func fromStore(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsServiceError(err); ok {
		return err
	}
	var (
		nf *store.NotFoundError
		te *store.StorageTimeoutError
		se *store.SchemaError
		ve *store.ValidationError
		dk *store.DuplicateKeyError
	)
	switch {
	case errors.As(err, &nf):
		return &ServiceError{Code: ErrorNotFound, Table: nf.Table, Key: nf.Key, Message: err.Error(), Err: err}
	case errors.As(err, &te):
		return &ServiceError{Code: ErrorStorageTimeout, Table: te.Table, Rule: te.Op, Message: err.Error(), Err: err}
	case errors.As(err, &se):
		return &ServiceError{Code: ErrorSchema, Table: se.Table, Message: err.Error(), Err: err}
	case errors.As(err, &ve):
		return &ServiceError{Code: ErrorInvalidInput, Table: ve.Table, Key: ve.Column, Rule: ve.Reason, Message: err.Error(), Err: err}
	case errors.As(err, &dk):
		return &ServiceError{Code: ErrorConflict, Table: dk.Table, Key: dk.Key, Message: err.Error(), Err: err}
	}
	return err
}
