package common

import "errors"

// Error codes used across the gateway. Handlers branch on these rather than
// on concrete error types.
const (
	CodeConfigError         = "CONFIG_ERROR"
	CodeInvalidAmount       = "INVALID_AMOUNT"
	CodeInvalidCurrency     = "INVALID_CURRENCY"
	CodeTokenError          = "TOKEN_ERROR"
	CodeCheckoutError       = "CHECKOUT_ERROR"
	CodeFraudDetected       = "FRAUD_DETECTED"
	CodePaymentNotFound     = "PAYMENT_NOT_FOUND"
	CodePaymentNotCompleted = "PAYMENT_NOT_COMPLETED"
	CodeVerificationFailed  = "VERIFICATION_FAILED"
	CodeValidationError     = "VALIDATION_ERROR"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// ErrorCode extracts the AppError code from err, or "" when err is not an AppError.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
