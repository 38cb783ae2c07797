package errs

import "net/http"

// errorMap holds the template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrInvalidFrame:         {Code: ErrInvalidFrame, Message: "Invalid message format."},
	ErrUnsupportedFrameType: {Code: ErrUnsupportedFrameType, Message: "Unsupported message type: %s"},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx
	ErrChatNotFound:          {Code: ErrChatNotFound, Message: "Chat not found.", Status: http.StatusNotFound},
	ErrRecipientNotFound:     {Code: ErrRecipientNotFound, Message: "Recipient not found."},
	ErrNotParticipant:        {Code: ErrNotParticipant, Message: "You are not a participant of this chat.", Status: http.StatusForbidden},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrMessageTypeInvalid:    {Code: ErrMessageTypeInvalid, Message: "Unsupported content type: %s"},

	// 3xxx
	ErrNotAuthenticated:     {Code: ErrNotAuthenticated, Message: "Not authenticated. Connect a wallet to send messages."},
	ErrAlreadyAuthenticated: {Code: ErrAlreadyAuthenticated, Message: "Connection is already bound to another address."},
	ErrUnauthorized:         {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrSessionKicked:        {Code: ErrSessionKicked, Message: "You were signed in on another device."},

	// 5xxx
	ErrUnknown:       {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrStorageFailed: {Code: ErrStorageFailed, Message: "Failed to process message. Please try again.", Status: http.StatusInternalServerError},
}
