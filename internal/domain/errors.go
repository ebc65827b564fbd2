package domain

import "errors"

// Sentinel errors used throughout the application.
// The gateway turns the user-facing ones into an `error` frame; job workers
// log them against the failing job.
var (
	ErrNotFound            = errors.New("not found")
	ErrNotParticipant      = errors.New("you are not a participant of this conversation")
	ErrInvalidConversation = errors.New("conversationId is required")
	ErrInvalidContent      = errors.New("content must be between 1 and 4096 characters")
	ErrInvalidMessageType  = errors.New("invalid message type: must be text, image or file")
	ErrInvalidMessageID    = errors.New("messageId is required")
	ErrInvalidRecipient    = errors.New("recipient must not be empty")
	ErrInvalidTitle        = errors.New("notification title must not be empty")
	ErrEmptyRecipients     = errors.New("bulk notification requires at least one recipient")
	ErrUnknownJob          = errors.New("unknown job name")
	ErrInvalidJobPayload   = errors.New("invalid job payload")
	ErrRateLimited         = errors.New("too many commands, slow down")
	ErrUnknownCommand      = errors.New("unknown command")
)
