package service

import (
	"github.com/luckyjinx/matching-service/internal/bridge"
	"github.com/luckyjinx/matching-service/internal/matchmaking"
)

// Matching service errors
var (
	ErrInvalidInput     = matchmaking.ErrInvalidRequest
	ErrMatchNotFound    = matchmaking.ErrSessionNotFound
	ErrNotParticipant   = matchmaking.ErrNotParticipant
	ErrQueueUnavailable = bridge.ErrQueueUnavailable
)
