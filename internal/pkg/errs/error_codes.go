/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both inside the server
and on the wire: HTTP responses carry them in the response envelope and WebSocket
error frames carry them next to the human-readable reason.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrInvalidFrame indicates that a WebSocket frame could not be parsed as JSON.
	ErrInvalidFrame = 1002

	// ErrUnsupportedFrameType indicates that a WebSocket frame carried an unknown type.
	ErrUnsupportedFrameType = 1003

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Chat and Message Routing Errors
const (
	// ErrChatNotFound indicates that the referenced chat does not exist.
	ErrChatNotFound = 2101

	// ErrRecipientNotFound indicates that a direct chat has no counterpart participant.
	ErrRecipientNotFound = 2102

	// ErrNotParticipant indicates that the sender is not a participant of the chat.
	ErrNotParticipant = 2103

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrMessageTypeInvalid indicates an unsupported messageType value.
	ErrMessageTypeInvalid = 2202
)

// 3xxx: Identity and Session Errors
const (
	// ErrNotAuthenticated indicates the connection has no persisted identity (guest or no handshake).
	ErrNotAuthenticated = 3001

	// ErrAlreadyAuthenticated indicates a handshake for a different address on a bound connection.
	ErrAlreadyAuthenticated = 3002

	// ErrUnauthorized indicates a missing or invalid bearer token on a REST call.
	ErrUnauthorized = 3003

	// ErrSessionKicked indicates that the current connection was replaced by a newer one.
	ErrSessionKicked = 3004
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStorageFailed indicates a directory or message store failure.
	ErrStorageFailed = 5001
)
