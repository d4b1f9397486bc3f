package ingest

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes ingestion errors.
type ErrorCode string

const (
	// ErrCodeMalformedEnvelope indicates the message is not a usable envelope.
	ErrCodeMalformedEnvelope ErrorCode = "MALFORMED_ENVELOPE"

	// ErrCodeMalformedEvent indicates a known type whose attributes do not
	// match its schema.
	ErrCodeMalformedEvent ErrorCode = "MALFORMED_EVENT"
)

// Error is an ingestion failure. The message it describes is never appended.
type Error struct {
	Code    ErrorCode
	Type    string // Envelope type, if one could be read
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Type != "" {
		msg = fmt.Sprintf("%s (type=%s)", msg, e.Type)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is an envelope or event decoding failure.
func IsMalformed(err error) bool {
	var ie *Error
	return errors.As(err, &ie)
}

func malformedEnvelope(message string, err error) *Error {
	return &Error{Code: ErrCodeMalformedEnvelope, Message: message, Err: err}
}

func malformedEvent(eventType, message string, err error) *Error {
	return &Error{Code: ErrCodeMalformedEvent, Type: eventType, Message: message, Err: err}
}
