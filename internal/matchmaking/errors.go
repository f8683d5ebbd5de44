package matchmaking

import "errors"

var (
	ErrInvalidRequest  = errors.New("invalid match request")
	ErrUnknownControl  = errors.New("unknown control message")
	ErrSessionNotFound = errors.New("confirmation session not found")
	ErrNotParticipant  = errors.New("requester is not part of this match")
	ErrUnknownStrategy = errors.New("unknown relax strategy")
)
