// internal/messaging/errors.go

package messaging

import (
	"errors"
	"fmt"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotAuthor            = errors.New("only the author can change this message")
	ErrCreationConflict     = errors.New("conversation already exists for this context")
	ErrTransientSync        = errors.New("message sync failed")
	ErrSendFailed           = errors.New("message could not be sent")
	ErrValidation           = errors.New("validation failed")
	ErrResourceAcquisition  = errors.New("audio input unavailable")
	ErrRecordingActive      = errors.New("a recording is already in progress")
	ErrNotRecording         = errors.New("no recording in progress")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrClosed               = errors.New("inbox is closed")
)

// ValidationError rejects a user action before any network call
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func notAuthor(messageID string) error {
	return &ValidationError{Field: "message", Reason: fmt.Sprintf("%s: %v", messageID, ErrNotAuthor), Err: ErrNotAuthor}
}

// SendError describes a composed message that failed to reach the server
type SendError struct {
	ClientID string
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.ClientID, e.Err)
}

func (e *SendError) Unwrap() []error {
	return []error{ErrSendFailed, e.Err}
}

// ResourceAcquisitionError reports that the audio device could not be opened
type ResourceAcquisitionError struct {
	Err error
}

func (e *ResourceAcquisitionError) Error() string {
	return fmt.Sprintf("%v: %v", ErrResourceAcquisition, e.Err)
}

func (e *ResourceAcquisitionError) Unwrap() []error {
	return []error{ErrResourceAcquisition, e.Err}
}
